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

// Package mediaclient is the outbound client to the external media-plane
// service that owns RTP port allocation. The reference implementation
// calls this service over gRPC (see gss.GbtStreamServiceClient); no repo
// in the pack pulls in a gRPC stack, so the same two calls are re-expressed
// here as plain JSON-over-HTTP, matching the teacher's own
// net/http-based outbound client idiom (internal/dmrdb.DB.Update).
package mediaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gb28181/sipgw/internal/config"
)

// Client binds and releases media-server RTP ports on the external
// media-plane service. It implements handlers.MediaAllocator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client from the gateway's MediaAllocator configuration.
func New(cfg config.MediaAllocator) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// bindStreamPortRequest mirrors gss.BindStreamPortRequest.
type bindStreamPortRequest struct {
	GBCode    string `json:"gb_code"`
	StreamID  uint32 `json:"stream_id"`
	SetupType string `json:"setup_type"`
}

// streamPortResponse mirrors the common shape of gss's BindStreamPortResponse
// and FreeStreamPortResponse: a ResponseCode plus an optional message, with
// the bind call additionally carrying the allocated address.
type streamPortResponse struct {
	Code            int    `json:"code"`
	Message         string `json:"message"`
	MediaServerIP   string `json:"media_server_ip"`
	MediaServerPort uint16 `json:"media_server_port"`
}

// freeStreamPortRequest mirrors gss.FreeStreamPortRequest.
type freeStreamPortRequest struct {
	GBCode          string `json:"gb_code"`
	StreamID        uint32 `json:"stream_id"`
	MediaServerIP   string `json:"media_server_ip"`
	MediaServerPort uint16 `json:"media_server_port"`
}

// responseCodeOK is gss.ResponseCode_Ok, the only success value the
// reference implementation checks for.
const responseCodeOK = 0

// BindStreamPort asks the media-plane service to allocate an RTP port for
// streamID and returns the address the gateway should put in its SDP body.
func (c *Client) BindStreamPort(ctx context.Context, gbCode string, streamID uint32, setupType string) (string, uint16, error) {
	var resp streamPortResponse
	if err := c.post(ctx, "/bind_stream_port", bindStreamPortRequest{
		GBCode:    gbCode,
		StreamID:  streamID,
		SetupType: setupType,
	}, &resp); err != nil {
		return "", 0, fmt.Errorf("mediaclient: bind_stream_port: %w", err)
	}
	if resp.Code != responseCodeOK {
		return "", 0, fmt.Errorf("mediaclient: bind_stream_port rejected: %s", resp.Message)
	}
	return resp.MediaServerIP, resp.MediaServerPort, nil
}

// FreeStreamPort releases a previously bound RTP port.
func (c *Client) FreeStreamPort(ctx context.Context, gbCode string, streamID uint32, mediaIP string, mediaPort uint16) error {
	var resp streamPortResponse
	if err := c.post(ctx, "/free_stream_port", freeStreamPortRequest{
		GBCode:          gbCode,
		StreamID:        streamID,
		MediaServerIP:   mediaIP,
		MediaServerPort: mediaPort,
	}, &resp); err != nil {
		return fmt.Errorf("mediaclient: free_stream_port: %w", err)
	}
	if resp.Code != responseCodeOK {
		return fmt.Errorf("mediaclient: free_stream_port rejected: %s", resp.Message)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
