// SPDX-License-Identifier: AGPL-3.0-or-later
// gb28181-sipgw - GB/T 28181 SIP signaling gateway
// Copyright (C) 2026 gb28181-sipgw contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package registry

import (
	"fmt"
	"time"

	"github.com/gb28181/sipgw/internal/metrics"
	"github.com/go-co-op/gocron/v2"
	"k8s.io/klog/v2"
)

// timedOutChannelSize bounds the sweeper's output channels; the sweeper
// drops and logs rather than block when a consumer falls behind.
const timedOutChannelSize = 256

// TimedOutStream identifies a stream the sweeper considers stale.
type TimedOutStream struct {
	GBCode   string
	StreamID uint32
}

// Sweeper periodically scans the Store for devices and streams whose
// last_seen_ts has aged past the configured thresholds, and reports them
// on two channels. It never mutates the Store itself — the consumer
// removes entries after performing any wire-side cleanup.
type Sweeper struct {
	store         Store
	metrics       *metrics.Metrics
	streamTimeout time.Duration
	deviceTimeout time.Duration

	scheduler gocron.Scheduler
	job       gocron.Job

	TimeoutDevices chan string
	TimeoutStreams chan TimedOutStream
}

// NewSweeper constructs a Sweeper. Call Start to begin ticking.
func NewSweeper(store Store, m *metrics.Metrics, streamTimeout, deviceTimeout time.Duration) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper scheduler: %w", err)
	}
	return &Sweeper{
		store:          store,
		metrics:        m,
		streamTimeout:  streamTimeout,
		deviceTimeout:  deviceTimeout,
		scheduler:      scheduler,
		TimeoutDevices: make(chan string, timedOutChannelSize),
		TimeoutStreams: make(chan TimedOutStream, timedOutChannelSize),
	}, nil
}

// Start begins the 1-second sweep tick.
func (s *Sweeper) Start() error {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(1*time.Second),
		gocron.NewTask(s.tick),
		gocron.WithName("registry-timeout-sweeper"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sweeper job: %w", err)
	}
	s.job = job
	s.scheduler.Start()
	return nil
}

// Stop halts the sweep tick and closes the output channels.
func (s *Sweeper) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		klog.Warningf("sweeper shutdown: %s", err)
	}
	close(s.TimeoutDevices)
	close(s.TimeoutStreams)
}

func (s *Sweeper) tick() {
	nowTS := now()

	if s.metrics != nil {
		s.metrics.ActiveDevices.Set(float64(len(s.store.ListDevices())))
		s.metrics.ActiveStreams.Set(float64(len(s.store.ListStreams())))
	}

	for _, streamKey := range s.store.sweepStreams(nowTS - int64(s.streamTimeout.Seconds())) {
		select {
		case s.TimeoutStreams <- TimedOutStream{GBCode: streamKey.gbCode, StreamID: streamKey.streamID}:
			if s.metrics != nil {
				s.metrics.RecordSweeperEviction("stream")
			}
		default:
			klog.Warningf("sweeper: TimeoutStreams channel full, dropping stream %d", streamKey.streamID)
		}
	}

	for _, gbCode := range s.store.sweepDevices(nowTS - int64(s.deviceTimeout.Seconds())) {
		select {
		case s.TimeoutDevices <- gbCode:
			if s.metrics != nil {
				s.metrics.RecordSweeperEviction("device")
			}
		default:
			klog.Warningf("sweeper: TimeoutDevices channel full, dropping device %s", gbCode)
		}
	}
}
