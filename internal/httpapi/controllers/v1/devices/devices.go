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

package devices

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gb28181/sipgw/internal/httpapi/apimodels"
	"github.com/gb28181/sipgw/internal/registry"
)

// GETDevices handles GET /api/v1/devices: the registered-device roster,
// supplemented from the original's catalog/status concepts for an
// operator surface (not in the distilled spec).
func GETDevices(store registry.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		devices := store.ListDevices()
		out := make([]apimodels.Device, 0, len(devices))
		for _, d := range devices {
			out = append(out, apimodels.Device{
				GBCode:       d.GBCode,
				LastSeenTS:   d.LastSeenTS,
				Manufacturer: d.Manufacturer,
				Model:        d.Model,
				Firmware:     d.Firmware,
				SubDevices:   len(d.SubDevices),
			})
		}
		c.JSON(http.StatusOK, gin.H{"devices": out})
	}
}

// GETStreams handles GET /api/v1/streams: the active-stream roster.
func GETStreams(store registry.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		streams := store.ListStreams()
		out := make([]apimodels.Stream, 0, len(streams))
		for _, s := range streams {
			out = append(out, apimodels.Stream{
				StreamID:        s.StreamID,
				GBCode:          s.GBCode,
				ChannelID:       s.ChannelID,
				MediaServerIP:   s.MediaServerIP,
				MediaServerPort: s.MediaServerPort,
				LastSeenTS:      s.LastSeenTS,
			})
		}
		c.JSON(http.StatusOK, gin.H{"streams": out})
	}
}
