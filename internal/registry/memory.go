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
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryStore struct {
	globalSN         atomic.Uint32
	registerSequence atomic.Uint32
	globalSequence   atomic.Uint32
	liveStreamID     atomic.Uint32
	playbackStreamID atomic.Uint32

	devices *xsync.MapOf[string, Device]
	streams *xsync.MapOf[uint32, Stream]

	// revMu guards gbStreamsRev, which Invite and Bye must mutate
	// atomically alongside streams to keep the reverse index consistent.
	revMu      sync.Mutex
	gbStreamsRev map[string][]uint32
}

func makeMemoryStore() Store {
	st := &memoryStore{
		devices:      xsync.NewMapOf[string, Device](),
		streams:      xsync.NewMapOf[uint32, Stream](),
		gbStreamsRev: make(map[string][]uint32),
	}
	st.liveStreamID.Store(1)
	st.playbackStreamID.Store(1)
	return st
}

func now() int64 {
	return time.Now().Unix()
}

func (s *memoryStore) SetGlobalSN(v uint32) { atomicStoreIfGreater(&s.globalSN, v) }

func (s *memoryStore) AddFetchGlobalSN() uint32 { return s.globalSN.Add(1) }

func (s *memoryStore) SetRegisterSequence(v uint32) { atomicStoreIfGreater(&s.registerSequence, v) }

func (s *memoryStore) AddFetchRegisterSequence() uint32 { return s.registerSequence.Add(1) }

func (s *memoryStore) SetGlobalSequence(v uint32) { atomicStoreIfGreater(&s.globalSequence, v) }

func (s *memoryStore) AddFetchGlobalSequence() uint32 { return s.globalSequence.Add(1) }

func atomicStoreIfGreater(counter *atomic.Uint32, v uint32) {
	for {
		cur := counter.Load()
		if v <= cur {
			return
		}
		if counter.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (s *memoryStore) FindDeviceByGBCode(gbCode string) (Device, bool) {
	return s.devices.Load(gbCode)
}

func (s *memoryStore) FindDeviceByStreamID(streamID uint32) (Device, bool) {
	gbCode := s.FindGBCode(streamID)
	if gbCode == "" {
		return Device{}, false
	}
	return s.FindDeviceByGBCode(gbCode)
}

func (s *memoryStore) FindGBCode(streamID uint32) string {
	stream, ok := s.streams.Load(streamID)
	if !ok {
		return ""
	}
	return stream.GBCode
}

func (s *memoryStore) Register(branch, gbCode string, peerAddr net.Addr, handle TransportHandle) bool {
	_, loaded := s.devices.LoadOrStore(gbCode, Device{
		GBCode:     gbCode,
		Branch:     branch,
		PeerAddr:   peerAddr,
		Handle:     handle,
		LastSeenTS: now(),
	})
	return !loaded
}

func (s *memoryStore) Unregister(gbCode string) bool {
	_, existed := s.devices.LoadAndDelete(gbCode)
	return existed
}

func (s *memoryStore) RegisterKeepAlive(gbCode string) bool {
	device, ok := s.devices.Load(gbCode)
	if !ok {
		return false
	}
	device.LastSeenTS = now()
	s.devices.Store(gbCode, device)
	return true
}

func (s *memoryStore) Invite(gbCode, channelID, callerID, fromTag string, isLive bool) (*InviteResult, bool) {
	device, ok := s.devices.Load(gbCode)
	if !ok {
		return nil, false
	}

	var streamID uint32
	if isLive {
		streamID = s.liveStreamID.Add(1) - 1
	} else {
		streamID = s.playbackStreamID.Add(1) - 1
	}

	s.streams.Store(streamID, Stream{
		StreamID:   streamID,
		GBCode:     gbCode,
		ChannelID:  channelID,
		CallerID:   callerID,
		FromTag:    fromTag,
		LastSeenTS: now(),
	})

	s.revMu.Lock()
	existing, alreadyPlaying := s.gbStreamsRev[gbCode]
	alreadyPlaying = alreadyPlaying && len(existing) > 0
	s.gbStreamsRev[gbCode] = append(existing, streamID)
	s.revMu.Unlock()

	return &InviteResult{
		AlreadyPlaying: alreadyPlaying,
		StreamID:       streamID,
		ChannelID:      channelID,
		Branch:         device.Branch,
		PeerAddr:       device.PeerAddr,
		Handle:         device.Handle,
	}, true
}

func (s *memoryStore) UpdateStreamTagInfo(fromTag, toTag string) bool {
	found := false
	s.streams.Range(func(id uint32, stream Stream) bool {
		if stream.FromTag == fromTag {
			stream.ToTag = toTag
			s.streams.Store(id, stream)
			found = true
			return false
		}
		return true
	})
	return found
}

func (s *memoryStore) UpdateStreamServerInfo(streamID uint32, ip string, port uint16) {
	stream, ok := s.streams.Load(streamID)
	if !ok {
		return
	}
	stream.MediaServerIP = ip
	stream.MediaServerPort = port
	s.streams.Store(streamID, stream)
}

func (s *memoryStore) Bye(gbCode string, streamID uint32) (*ByeResult, bool) {
	stream, ok := s.streams.LoadAndDelete(streamID)
	if !ok {
		return nil, false
	}

	s.revMu.Lock()
	remaining := s.gbStreamsRev[gbCode]
	remaining = removeStreamID(remaining, streamID)
	success := len(remaining) == 0
	if success {
		delete(s.gbStreamsRev, gbCode)
	} else {
		s.gbStreamsRev[gbCode] = remaining
	}
	s.revMu.Unlock()

	device, _ := s.devices.Load(gbCode)

	return &ByeResult{
		Success:         success,
		CallID:          stream.CallerID,
		Branch:          device.Branch,
		FromTag:         stream.FromTag,
		ToTag:           stream.ToTag,
		PeerAddr:        device.PeerAddr,
		Handle:          device.Handle,
		MediaServerIP:   stream.MediaServerIP,
		MediaServerPort: stream.MediaServerPort,
	}, true
}

func removeStreamID(ids []uint32, target uint32) []uint32 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (s *memoryStore) StreamKeepAlive(gbCode string, streamID uint32) bool {
	stream, ok := s.streams.Load(streamID)
	if !ok {
		return false
	}
	stream.GBCode = gbCode
	stream.LastSeenTS = now()
	s.streams.Store(streamID, stream)
	return true
}

func (s *memoryStore) AppendSubDevices(gbCode string, devices []CatalogDevice) {
	device, ok := s.devices.Load(gbCode)
	if !ok {
		return
	}
	device.SubDevices = devices
	s.devices.Store(gbCode, device)
}

func (s *memoryStore) SetDeviceInfo(gbCode, manufacturer, model, firmware string) {
	device, ok := s.devices.Load(gbCode)
	if !ok {
		return
	}
	device.Manufacturer = manufacturer
	device.Model = model
	device.Firmware = firmware
	s.devices.Store(gbCode, device)
}

func (s *memoryStore) ListDevices() []Device {
	devices := make([]Device, 0)
	s.devices.Range(func(_ string, device Device) bool {
		devices = append(devices, device)
		return true
	})
	return devices
}

func (s *memoryStore) ListStreams() []Stream {
	streams := make([]Stream, 0)
	s.streams.Range(func(_ uint32, stream Stream) bool {
		streams = append(streams, stream)
		return true
	})
	return streams
}

func (s *memoryStore) sweepDevices(olderThanTS int64) []string {
	gbCodes := make([]string, 0)
	s.devices.Range(func(gbCode string, device Device) bool {
		if device.LastSeenTS < olderThanTS {
			gbCodes = append(gbCodes, gbCode)
		}
		return true
	})
	return gbCodes
}

func (s *memoryStore) sweepStreams(olderThanTS int64) []streamKey {
	keys := make([]streamKey, 0)
	s.streams.Range(func(id uint32, stream Stream) bool {
		if stream.LastSeenTS < olderThanTS {
			keys = append(keys, streamKey{gbCode: stream.GBCode, streamID: id})
		}
		return true
	})
	return keys
}

func (s *memoryStore) Close() error {
	return nil
}
