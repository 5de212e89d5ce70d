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
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gb28181/sipgw/internal/config"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// deviceRow and streamRow are the sqlite-backed mirrors of Device and
// Stream, persisted so a single-node deployment survives a process
// restart without every device having to re-register from scratch.
type deviceRow struct {
	GBCode       string `gorm:"primaryKey"`
	Branch       string
	PeerAddr     string
	LastSeenTS   int64
	Manufacturer string
	Model        string
	Firmware     string
	SubDevices   string // JSON-encoded []CatalogDevice
}

type streamRow struct {
	StreamID        uint32 `gorm:"primaryKey"`
	GBCode          string `gorm:"index"`
	ChannelID       string
	CallerID        string
	FromTag         string
	ToTag           string
	MediaServerIP   string
	MediaServerPort uint16
	LastSeenTS      int64
}

// sqlStore persists Device/Stream records via gorm+sqlite. The reverse
// index and counters stay in memory (rebuilt from the stream table on
// load) since they are cheap to recompute and don't need their own table.
type sqlStore struct {
	db *gorm.DB

	mu           sync.Mutex
	gbStreamsRev map[string][]uint32

	registerSequence atomic.Uint32
	globalSequence   atomic.Uint32
	globalSN         atomic.Uint32
	liveStreamID     atomic.Uint32
	playbackStreamID atomic.Uint32
}

func makeSQLStore(cfg *config.Config) (Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.SQL.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite registry store: %w", err)
	}
	if err := db.AutoMigrate(&deviceRow{}, &streamRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite registry store: %w", err)
	}

	s := &sqlStore{
		db:           db,
		gbStreamsRev: make(map[string][]uint32),
	}
	s.liveStreamID.Store(1)
	s.playbackStreamID.Store(1)

	var streams []streamRow
	if err := db.Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("failed to load existing streams: %w", err)
	}
	for _, stream := range streams {
		s.gbStreamsRev[stream.GBCode] = append(s.gbStreamsRev[stream.GBCode], stream.StreamID)
		if stream.StreamID >= s.liveStreamID.Load() {
			s.liveStreamID.Store(stream.StreamID + 1)
		}
		if stream.StreamID >= s.playbackStreamID.Load() {
			s.playbackStreamID.Store(stream.StreamID + 1)
		}
	}

	return s, nil
}

func (s *sqlStore) SetGlobalSN(v uint32)             { atomicStoreIfGreater(&s.globalSN, v) }
func (s *sqlStore) AddFetchGlobalSN() uint32         { return s.globalSN.Add(1) }
func (s *sqlStore) SetRegisterSequence(v uint32)     { atomicStoreIfGreater(&s.registerSequence, v) }
func (s *sqlStore) AddFetchRegisterSequence() uint32 { return s.registerSequence.Add(1) }
func (s *sqlStore) SetGlobalSequence(v uint32)       { atomicStoreIfGreater(&s.globalSequence, v) }
func (s *sqlStore) AddFetchGlobalSequence() uint32   { return s.globalSequence.Add(1) }

func rowToDevice(row deviceRow) Device {
	var addr net.Addr
	if row.PeerAddr != "" {
		if udpAddr, err := net.ResolveUDPAddr("udp", row.PeerAddr); err == nil {
			addr = udpAddr
		}
	}
	var subDevices []CatalogDevice
	_ = json.Unmarshal([]byte(row.SubDevices), &subDevices)
	return Device{
		GBCode:       row.GBCode,
		Branch:       row.Branch,
		PeerAddr:     addr,
		LastSeenTS:   row.LastSeenTS,
		SubDevices:   subDevices,
		Manufacturer: row.Manufacturer,
		Model:        row.Model,
		Firmware:     row.Firmware,
	}
}

func rowToStream(row streamRow) Stream {
	return Stream{
		StreamID:        row.StreamID,
		GBCode:          row.GBCode,
		ChannelID:       row.ChannelID,
		CallerID:        row.CallerID,
		FromTag:         row.FromTag,
		ToTag:           row.ToTag,
		MediaServerIP:   row.MediaServerIP,
		MediaServerPort: row.MediaServerPort,
		LastSeenTS:      row.LastSeenTS,
	}
}

func (s *sqlStore) FindDeviceByGBCode(gbCode string) (Device, bool) {
	var row deviceRow
	if err := s.db.First(&row, "gb_code = ?", gbCode).Error; err != nil {
		return Device{}, false
	}
	return rowToDevice(row), true
}

func (s *sqlStore) FindDeviceByStreamID(streamID uint32) (Device, bool) {
	gbCode := s.FindGBCode(streamID)
	if gbCode == "" {
		return Device{}, false
	}
	return s.FindDeviceByGBCode(gbCode)
}

func (s *sqlStore) FindGBCode(streamID uint32) string {
	var row streamRow
	if err := s.db.First(&row, "stream_id = ?", streamID).Error; err != nil {
		return ""
	}
	return row.GBCode
}

func (s *sqlStore) Register(branch, gbCode string, peerAddr net.Addr, _ TransportHandle) bool {
	var existing deviceRow
	if err := s.db.First(&existing, "gb_code = ?", gbCode).Error; err == nil {
		return false
	}
	peerAddrStr := ""
	if peerAddr != nil {
		peerAddrStr = peerAddr.String()
	}
	row := deviceRow{
		GBCode:     gbCode,
		Branch:     branch,
		PeerAddr:   peerAddrStr,
		LastSeenTS: now(),
	}
	return s.db.Create(&row).Error == nil
}

func (s *sqlStore) Unregister(gbCode string) bool {
	res := s.db.Delete(&deviceRow{}, "gb_code = ?", gbCode)
	return res.Error == nil && res.RowsAffected > 0
}

func (s *sqlStore) RegisterKeepAlive(gbCode string) bool {
	res := s.db.Model(&deviceRow{}).Where("gb_code = ?", gbCode).Update("last_seen_ts", now())
	return res.Error == nil && res.RowsAffected > 0
}

func (s *sqlStore) Invite(gbCode, channelID, callerID, fromTag string, isLive bool) (*InviteResult, bool) {
	var deviceRecord deviceRow
	if err := s.db.First(&deviceRecord, "gb_code = ?", gbCode).Error; err != nil {
		return nil, false
	}

	var streamID uint32
	if isLive {
		streamID = s.liveStreamID.Add(1) - 1
	} else {
		streamID = s.playbackStreamID.Add(1) - 1
	}

	row := streamRow{
		StreamID:   streamID,
		GBCode:     gbCode,
		ChannelID:  channelID,
		CallerID:   callerID,
		FromTag:    fromTag,
		LastSeenTS: now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return nil, false
	}

	s.mu.Lock()
	existing := s.gbStreamsRev[gbCode]
	alreadyPlaying := len(existing) > 0
	s.gbStreamsRev[gbCode] = append(existing, streamID)
	s.mu.Unlock()

	device := rowToDevice(deviceRecord)
	return &InviteResult{
		AlreadyPlaying: alreadyPlaying,
		StreamID:       streamID,
		ChannelID:      channelID,
		Branch:         device.Branch,
		PeerAddr:       device.PeerAddr,
		Handle:         device.Handle,
	}, true
}

func (s *sqlStore) UpdateStreamTagInfo(fromTag, toTag string) bool {
	res := s.db.Model(&streamRow{}).Where("from_tag = ?", fromTag).Update("to_tag", toTag)
	return res.Error == nil && res.RowsAffected > 0
}

func (s *sqlStore) UpdateStreamServerInfo(streamID uint32, ip string, port uint16) {
	s.db.Model(&streamRow{}).Where("stream_id = ?", streamID).Updates(map[string]interface{}{
		"media_server_ip":   ip,
		"media_server_port": port,
	})
}

func (s *sqlStore) Bye(gbCode string, streamID uint32) (*ByeResult, bool) {
	var row streamRow
	if err := s.db.First(&row, "stream_id = ?", streamID).Error; err != nil {
		return nil, false
	}
	s.db.Delete(&streamRow{}, "stream_id = ?", streamID)

	s.mu.Lock()
	remaining := removeStreamID(s.gbStreamsRev[gbCode], streamID)
	success := len(remaining) == 0
	if success {
		delete(s.gbStreamsRev, gbCode)
	} else {
		s.gbStreamsRev[gbCode] = remaining
	}
	s.mu.Unlock()

	device, _ := s.FindDeviceByGBCode(gbCode)

	return &ByeResult{
		Success:         success,
		CallID:          row.CallerID,
		Branch:          device.Branch,
		FromTag:         row.FromTag,
		ToTag:           row.ToTag,
		PeerAddr:        device.PeerAddr,
		Handle:          device.Handle,
		MediaServerIP:   row.MediaServerIP,
		MediaServerPort: row.MediaServerPort,
	}, true
}

func (s *sqlStore) StreamKeepAlive(gbCode string, streamID uint32) bool {
	res := s.db.Model(&streamRow{}).Where("stream_id = ?", streamID).Updates(map[string]interface{}{
		"gb_code":      gbCode,
		"last_seen_ts": now(),
	})
	return res.Error == nil && res.RowsAffected > 0
}

func (s *sqlStore) AppendSubDevices(gbCode string, devices []CatalogDevice) {
	data, err := json.Marshal(devices)
	if err != nil {
		return
	}
	s.db.Model(&deviceRow{}).Where("gb_code = ?", gbCode).Update("sub_devices", string(data))
}

func (s *sqlStore) SetDeviceInfo(gbCode, manufacturer, model, firmware string) {
	s.db.Model(&deviceRow{}).Where("gb_code = ?", gbCode).Updates(map[string]interface{}{
		"manufacturer": manufacturer,
		"model":        model,
		"firmware":     firmware,
	})
}

func (s *sqlStore) ListDevices() []Device {
	var rows []deviceRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil
	}
	devices := make([]Device, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, rowToDevice(row))
	}
	return devices
}

func (s *sqlStore) ListStreams() []Stream {
	var rows []streamRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil
	}
	streams := make([]Stream, 0, len(rows))
	for _, row := range rows {
		streams = append(streams, rowToStream(row))
	}
	return streams
}

func (s *sqlStore) sweepDevices(olderThanTS int64) []string {
	var rows []deviceRow
	if err := s.db.Where("last_seen_ts < ?", olderThanTS).Find(&rows).Error; err != nil {
		return nil
	}
	gbCodes := make([]string, 0, len(rows))
	for _, row := range rows {
		gbCodes = append(gbCodes, row.GBCode)
	}
	return gbCodes
}

func (s *sqlStore) sweepStreams(olderThanTS int64) []streamKey {
	var rows []streamRow
	if err := s.db.Where("last_seen_ts < ?", olderThanTS).Find(&rows).Error; err != nil {
		return nil
	}
	keys := make([]streamKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, streamKey{gbCode: row.GBCode, streamID: row.StreamID})
	}
	return keys
}

func (s *sqlStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite registry store: %w", err)
	}
	return nil
}
