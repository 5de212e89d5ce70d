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

// Package registry tracks registered devices and their active media
// streams behind a pluggable Store, the way internal/kv tracks arbitrary
// key-value pairs behind a pluggable backend.
package registry

import (
	"fmt"
	"net"

	"github.com/gb28181/sipgw/internal/config"
)

// TransportHandle is the write side of a device's TCP connection. UDP
// devices have no handle; sends go out over the shared UDP socket instead.
type TransportHandle interface {
	Write(b []byte) error
}

// CatalogDevice is a sub-device (camera head or NVR channel) enumerated
// from a device's Catalog response.
type CatalogDevice struct {
	GBCode string
	Name   string
	Status string
}

// Device is a registered GB/T 28181 endpoint.
type Device struct {
	GBCode       string
	Branch       string
	PeerAddr     net.Addr
	Handle       TransportHandle
	LastSeenTS   int64
	SubDevices   []CatalogDevice
	Manufacturer string
	Model        string
	Firmware     string
}

// Stream is an active or pending media dialog initiated by the server.
type Stream struct {
	StreamID        uint32
	GBCode          string
	ChannelID       string
	CallerID        string
	FromTag         string
	ToTag           string
	MediaServerIP   string
	MediaServerPort uint16
	LastSeenTS      int64
}

// InviteResult is returned by Invite.
type InviteResult struct {
	AlreadyPlaying bool
	StreamID       uint32
	ChannelID      string
	Branch         string
	PeerAddr       net.Addr
	Handle         TransportHandle
}

// ByeResult is returned by Bye.
type ByeResult struct {
	// Success is true iff this was the last active stream for the device,
	// meaning a wire BYE must actually be sent.
	Success         bool
	CallID          string
	Branch          string
	FromTag         string
	ToTag           string
	PeerAddr        net.Addr
	Handle          TransportHandle
	MediaServerIP   string
	MediaServerPort uint16
}

// Store is the Registry's persistence backend. Handlers depend only on
// this interface; a test double can replace it the same way kv.KV and
// pubsub.PubSub are swapped out from behind their own factories.
type Store interface {
	SetGlobalSN(v uint32)
	AddFetchGlobalSN() uint32
	SetRegisterSequence(v uint32)
	AddFetchRegisterSequence() uint32
	SetGlobalSequence(v uint32)
	AddFetchGlobalSequence() uint32

	FindDeviceByGBCode(gbCode string) (Device, bool)
	FindDeviceByStreamID(streamID uint32) (Device, bool)
	FindGBCode(streamID uint32) string

	Register(branch, gbCode string, peerAddr net.Addr, handle TransportHandle) bool
	Unregister(gbCode string) bool
	RegisterKeepAlive(gbCode string) bool

	Invite(gbCode, channelID, callerID, fromTag string, isLive bool) (*InviteResult, bool)
	UpdateStreamTagInfo(fromTag, toTag string) bool
	UpdateStreamServerInfo(streamID uint32, ip string, port uint16)
	Bye(gbCode string, streamID uint32) (*ByeResult, bool)
	StreamKeepAlive(gbCode string, streamID uint32) bool

	AppendSubDevices(gbCode string, devices []CatalogDevice)
	SetDeviceInfo(gbCode, manufacturer, model, firmware string)

	ListDevices() []Device
	ListStreams() []Stream

	// sweep returns the gb_codes/stream keys whose last_seen_ts is older
	// than the given thresholds, without mutating any state.
	sweepDevices(olderThanTS int64) []string
	sweepStreams(olderThanTS int64) []streamKey

	Close() error
}

type streamKey struct {
	gbCode   string
	streamID uint32
}

// MakeStore constructs a Store from the configured engine.
func MakeStore(cfg *config.Config) (Store, error) {
	switch cfg.StoreEngine {
	case config.StoreDriverRedis:
		st, err := makeRedisStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis registry store: %w", err)
		}
		return st, nil
	case config.StoreDriverSQL:
		st, err := makeSQLStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create sql registry store: %w", err)
		}
		return st, nil
	case config.StoreDriverMemory:
		fallthrough
	default:
		return makeMemoryStore(), nil
	}
}
