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

package sessions

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/gb28181/sipgw/internal/httpapi/apimodels"
	"github.com/gb28181/sipgw/internal/sip/handlers"
	"github.com/gb28181/sipgw/internal/sipconst"
)

// POSTStart handles POST /api/v1/sessions/start (SPEC_FULL.md §"Operator
// control plane"): start (or join) a live/playback session for a device.
func POSTStart(h *handlers.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req apimodels.StartSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		sessionType := sipconst.SessionType(req.SessionType)
		switch sessionType {
		case sipconst.SessionPlay, sipconst.SessionPlayback, sipconst.SessionDownload, sipconst.SessionTalk:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_type"})
			return
		}

		streamID, alreadyPlaying, err := h.StartSession(c.Request.Context(), handlers.StartSessionParams{
			GBCode:      req.GBCode,
			ChannelID:   req.ChannelID,
			SetupType:   req.SetupType,
			SessionType: sessionType,
			StartTS:     req.StartTS,
			StopTS:      req.StopTS,
		})
		if err != nil {
			if errors.Is(err, handlers.ErrDeviceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
				return
			}
			klog.Errorf("httpapi: start_session for %s failed: %s", req.GBCode, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
			return
		}

		c.JSON(http.StatusOK, apimodels.StartSessionResponse{
			StreamID:       streamID,
			AlreadyPlaying: alreadyPlaying,
		})
	}
}

// POSTStop handles POST /api/v1/sessions/stop. Per §4.10 it always replies
// 200, even for an unknown stream, since the operator's intent (the stream
// should not exist) is already satisfied.
func POSTStop(h *handlers.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req apimodels.StopSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if err := h.StopSession(c.Request.Context(), req.GBCode, req.StreamID); err != nil {
			if errors.Is(err, handlers.ErrStreamNotFound) {
				c.JSON(http.StatusOK, gin.H{"message": "stream not found"})
				return
			}
			klog.Errorf("httpapi: stop_session for %s/%d failed: %s", req.GBCode, req.StreamID, err)
			c.JSON(http.StatusOK, gin.H{"message": "stop requested"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "stream stopped"})
	}
}
