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
	"context"
	"encoding/json"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/gb28181/sipgw/internal/config"
	"github.com/gb28181/sipgw/internal/consts"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// redisStore shares device/stream registrations across gateway processes
// via Redis, for a horizontally-scaled deployment. It does not implement a
// distributed counter: SN/CSeq counters remain process-local atomics, a
// documented limitation of running this backend behind more than one
// gateway instance (see DESIGN.md and SPEC_FULL.md §9).
//
// A registration made on a TCP connection can only be pushed to from the
// process that owns that connection; Handle is therefore never persisted
// to Redis, only reconstructed locally by the owning process's own
// in-process cache. Cross-process lookups (FindDeviceByGBCode from a peer
// process) see PeerAddr but a nil Handle, which degrades that device to
// UDP-only delivery from the other process's perspective.
type redisStore struct {
	client *redis.Client

	registerSequence atomic.Uint32
	globalSequence   atomic.Uint32
	globalSN         atomic.Uint32

	liveStreamID     atomic.Uint32
	playbackStreamID atomic.Uint32
}

type deviceRecord struct {
	GBCode       string `json:"gb_code"`
	Branch       string `json:"branch"`
	PeerAddr     string `json:"peer_addr"`
	LastSeenTS   int64  `json:"last_seen_ts"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
	SubDevices   []CatalogDevice `json:"sub_devices,omitempty"`
}

type streamRecord struct {
	StreamID        uint32 `json:"stream_id"`
	GBCode          string `json:"gb_code"`
	ChannelID       string `json:"channel_id"`
	CallerID        string `json:"caller_id"`
	FromTag         string `json:"from_tag"`
	ToTag           string `json:"to_tag"`
	MediaServerIP   string `json:"media_server_ip"`
	MediaServerPort uint16 `json:"media_server_port"`
	LastSeenTS      int64  `json:"last_seen_ts"`
}

func makeRedisStore(cfg *config.Config) (Store, error) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:        cfg.Redis.Password,
		PoolFIFO:        true,
		PoolSize:        runtime.GOMAXPROCS(0) * consts.ConnsPerCPU,
		MinIdleConns:    runtime.GOMAXPROCS(0),
		ConnMaxIdleTime: consts.MaxIdleTime,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if cfg.Metrics.OTLPEndpoint != "" {
		if err := redisotel.InstrumentTracing(client); err != nil {
			return nil, fmt.Errorf("failed to trace redis: %w", err)
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			return nil, fmt.Errorf("failed to instrument redis metrics: %w", err)
		}
	}

	s := &redisStore{client: client}
	s.liveStreamID.Store(1)
	s.playbackStreamID.Store(1)
	return s, nil
}

func deviceKey(gbCode string) string  { return "sipgw:device:" + gbCode }
func streamKeyName(id uint32) string  { return "sipgw:stream:" + strconv.FormatUint(uint64(id), 10) }
func revKey(gbCode string) string     { return "sipgw:streams_rev:" + gbCode }
func streamIDStr(id uint32) string    { return strconv.FormatUint(uint64(id), 10) }

func (s *redisStore) SetGlobalSN(v uint32)             { atomicStoreIfGreater(&s.globalSN, v) }
func (s *redisStore) AddFetchGlobalSN() uint32         { return s.globalSN.Add(1) }
func (s *redisStore) SetRegisterSequence(v uint32)     { atomicStoreIfGreater(&s.registerSequence, v) }
func (s *redisStore) AddFetchRegisterSequence() uint32 { return s.registerSequence.Add(1) }
func (s *redisStore) SetGlobalSequence(v uint32)       { atomicStoreIfGreater(&s.globalSequence, v) }
func (s *redisStore) AddFetchGlobalSequence() uint32   { return s.globalSequence.Add(1) }

func (s *redisStore) getDevice(ctx context.Context, gbCode string) (deviceRecord, bool) {
	data, err := s.client.Get(ctx, deviceKey(gbCode)).Bytes()
	if err != nil {
		return deviceRecord{}, false
	}
	var rec deviceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return deviceRecord{}, false
	}
	return rec, true
}

func (s *redisStore) putDevice(ctx context.Context, rec deviceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal device record: %w", err)
	}
	return s.client.Set(ctx, deviceKey(rec.GBCode), data, 0).Err()
}

func (s *redisStore) toDevice(rec deviceRecord) Device {
	var addr net.Addr
	if rec.PeerAddr != "" {
		if udpAddr, err := net.ResolveUDPAddr("udp", rec.PeerAddr); err == nil {
			addr = udpAddr
		}
	}
	return Device{
		GBCode:       rec.GBCode,
		Branch:       rec.Branch,
		PeerAddr:     addr,
		Handle:       nil,
		LastSeenTS:   rec.LastSeenTS,
		SubDevices:   rec.SubDevices,
		Manufacturer: rec.Manufacturer,
		Model:        rec.Model,
		Firmware:     rec.Firmware,
	}
}

func (s *redisStore) FindDeviceByGBCode(gbCode string) (Device, bool) {
	ctx := context.Background()
	rec, ok := s.getDevice(ctx, gbCode)
	if !ok {
		return Device{}, false
	}
	return s.toDevice(rec), true
}

func (s *redisStore) FindDeviceByStreamID(streamID uint32) (Device, bool) {
	gbCode := s.FindGBCode(streamID)
	if gbCode == "" {
		return Device{}, false
	}
	return s.FindDeviceByGBCode(gbCode)
}

func (s *redisStore) FindGBCode(streamID uint32) string {
	ctx := context.Background()
	data, err := s.client.Get(ctx, streamKeyName(streamID)).Bytes()
	if err != nil {
		return ""
	}
	var rec streamRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ""
	}
	return rec.GBCode
}

func (s *redisStore) Register(branch, gbCode string, peerAddr net.Addr, _ TransportHandle) bool {
	ctx := context.Background()
	peerAddrStr := ""
	if peerAddr != nil {
		peerAddrStr = peerAddr.String()
	}
	rec := deviceRecord{
		GBCode:     gbCode,
		Branch:     branch,
		PeerAddr:   peerAddrStr,
		LastSeenTS: now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return false
	}
	ok, err := s.client.SetNX(ctx, deviceKey(gbCode), data, 0).Result()
	return err == nil && ok
}

func (s *redisStore) Unregister(gbCode string) bool {
	ctx := context.Background()
	n, err := s.client.Del(ctx, deviceKey(gbCode)).Result()
	return err == nil && n > 0
}

func (s *redisStore) RegisterKeepAlive(gbCode string) bool {
	ctx := context.Background()
	rec, ok := s.getDevice(ctx, gbCode)
	if !ok {
		return false
	}
	rec.LastSeenTS = now()
	return s.putDevice(ctx, rec) == nil
}

func (s *redisStore) Invite(gbCode, channelID, callerID, fromTag string, isLive bool) (*InviteResult, bool) {
	ctx := context.Background()
	rec, ok := s.getDevice(ctx, gbCode)
	if !ok {
		return nil, false
	}

	var streamID uint32
	if isLive {
		streamID = s.liveStreamID.Add(1) - 1
	} else {
		streamID = s.playbackStreamID.Add(1) - 1
	}

	stream := streamRecord{
		StreamID:   streamID,
		GBCode:     gbCode,
		ChannelID:  channelID,
		CallerID:   callerID,
		FromTag:    fromTag,
		LastSeenTS: now(),
	}
	data, err := json.Marshal(stream)
	if err != nil {
		return nil, false
	}
	if err := s.client.Set(ctx, streamKeyName(streamID), data, 0).Err(); err != nil {
		return nil, false
	}

	count, _ := s.client.SCard(ctx, revKey(gbCode)).Result()
	alreadyPlaying := count > 0
	s.client.SAdd(ctx, revKey(gbCode), streamIDStr(streamID))

	device := s.toDevice(rec)
	return &InviteResult{
		AlreadyPlaying: alreadyPlaying,
		StreamID:       streamID,
		ChannelID:      channelID,
		Branch:         device.Branch,
		PeerAddr:       device.PeerAddr,
		Handle:         device.Handle,
	}, true
}

func (s *redisStore) UpdateStreamTagInfo(fromTag, toTag string) bool {
	ctx := context.Background()
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "sipgw:stream:*", 100).Result()
		if err != nil {
			return false
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var rec streamRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if rec.FromTag == fromTag {
				rec.ToTag = toTag
				updated, err := json.Marshal(rec)
				if err != nil {
					return false
				}
				return s.client.Set(ctx, key, updated, 0).Err() == nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return false
}

func (s *redisStore) UpdateStreamServerInfo(streamID uint32, ip string, port uint16) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, streamKeyName(streamID)).Bytes()
	if err != nil {
		return
	}
	var rec streamRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return
	}
	rec.MediaServerIP = ip
	rec.MediaServerPort = port
	updated, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = s.client.Set(ctx, streamKeyName(streamID), updated, 0).Err()
}

func (s *redisStore) Bye(gbCode string, streamID uint32) (*ByeResult, bool) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, streamKeyName(streamID)).Bytes()
	if err != nil {
		return nil, false
	}
	var stream streamRecord
	if err := json.Unmarshal(data, &stream); err != nil {
		return nil, false
	}
	_ = s.client.Del(ctx, streamKeyName(streamID)).Err()
	_ = s.client.SRem(ctx, revKey(gbCode), streamIDStr(streamID)).Err()

	remaining, _ := s.client.SCard(ctx, revKey(gbCode)).Result()
	success := remaining == 0
	if success {
		_ = s.client.Del(ctx, revKey(gbCode)).Err()
	}

	rec, _ := s.getDevice(ctx, gbCode)
	device := s.toDevice(rec)

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

func (s *redisStore) StreamKeepAlive(gbCode string, streamID uint32) bool {
	ctx := context.Background()
	data, err := s.client.Get(ctx, streamKeyName(streamID)).Bytes()
	if err != nil {
		return false
	}
	var rec streamRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return false
	}
	rec.GBCode = gbCode
	rec.LastSeenTS = now()
	updated, err := json.Marshal(rec)
	if err != nil {
		return false
	}
	return s.client.Set(ctx, streamKeyName(streamID), updated, 0).Err() == nil
}

func (s *redisStore) AppendSubDevices(gbCode string, devices []CatalogDevice) {
	ctx := context.Background()
	rec, ok := s.getDevice(ctx, gbCode)
	if !ok {
		return
	}
	rec.SubDevices = devices
	_ = s.putDevice(ctx, rec)
}

func (s *redisStore) SetDeviceInfo(gbCode, manufacturer, model, firmware string) {
	ctx := context.Background()
	rec, ok := s.getDevice(ctx, gbCode)
	if !ok {
		return
	}
	rec.Manufacturer = manufacturer
	rec.Model = model
	rec.Firmware = firmware
	_ = s.putDevice(ctx, rec)
}

func (s *redisStore) ListDevices() []Device {
	ctx := context.Background()
	devices := make([]Device, 0)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "sipgw:device:*", 100).Result()
		if err != nil {
			break
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var rec deviceRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			devices = append(devices, s.toDevice(rec))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return devices
}

func (s *redisStore) ListStreams() []Stream {
	ctx := context.Background()
	streams := make([]Stream, 0)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "sipgw:stream:*", 100).Result()
		if err != nil {
			break
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var rec streamRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			streams = append(streams, Stream{
				StreamID:        rec.StreamID,
				GBCode:          rec.GBCode,
				ChannelID:       rec.ChannelID,
				CallerID:        rec.CallerID,
				FromTag:         rec.FromTag,
				ToTag:           rec.ToTag,
				MediaServerIP:   rec.MediaServerIP,
				MediaServerPort: rec.MediaServerPort,
				LastSeenTS:      rec.LastSeenTS,
			})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return streams
}

func (s *redisStore) sweepDevices(olderThanTS int64) []string {
	gbCodes := make([]string, 0)
	for _, device := range s.ListDevices() {
		if device.LastSeenTS < olderThanTS {
			gbCodes = append(gbCodes, device.GBCode)
		}
	}
	return gbCodes
}

func (s *redisStore) sweepStreams(olderThanTS int64) []streamKey {
	keys := make([]streamKey, 0)
	for _, stream := range s.ListStreams() {
		if stream.LastSeenTS < olderThanTS {
			keys = append(keys, streamKey{gbCode: stream.GBCode, streamID: stream.StreamID})
		}
	}
	return keys
}

func (s *redisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
