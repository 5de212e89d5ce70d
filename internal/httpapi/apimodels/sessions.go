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

// Package apimodels holds the JSON request/response shapes for the
// operator control plane.
package apimodels

// StartSessionRequest is the body of POST /api/v1/sessions/start.
type StartSessionRequest struct {
	GBCode      string `json:"gb_code" binding:"required"`
	ChannelID   string `json:"channel_id" binding:"required"`
	SetupType   string `json:"setup_type"`
	SessionType string `json:"session_type" binding:"required"`
	StartTS     uint64 `json:"start_ts"`
	StopTS      uint64 `json:"stop_ts"`
}

// StartSessionResponse is the 200 OK body of POST /api/v1/sessions/start.
type StartSessionResponse struct {
	StreamID       uint32 `json:"stream_id"`
	AlreadyPlaying bool   `json:"already_playing"`
}

// StopSessionRequest is the body of POST /api/v1/sessions/stop.
type StopSessionRequest struct {
	GBCode   string `json:"gb_code" binding:"required"`
	StreamID uint32 `json:"stream_id" binding:"required"`
}

// Device is one entry of GET /api/v1/devices.
type Device struct {
	GBCode       string `json:"gb_code"`
	LastSeenTS   int64  `json:"last_seen_ts"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
	SubDevices   int    `json:"sub_device_count"`
}

// Stream is one entry of GET /api/v1/streams.
type Stream struct {
	StreamID        uint32 `json:"stream_id"`
	GBCode          string `json:"gb_code"`
	ChannelID       string `json:"channel_id"`
	MediaServerIP   string `json:"media_server_ip"`
	MediaServerPort uint16 `json:"media_server_port"`
	LastSeenTS      int64  `json:"last_seen_ts"`
}
