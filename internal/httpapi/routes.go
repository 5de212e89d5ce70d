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

package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/gb28181/sipgw/internal/config"
	v1DeviceControllers "github.com/gb28181/sipgw/internal/httpapi/controllers/v1/devices"
	v1SessionControllers "github.com/gb28181/sipgw/internal/httpapi/controllers/v1/sessions"
	"github.com/gb28181/sipgw/internal/httpapi/middleware"
	"github.com/gb28181/sipgw/internal/registry"
	"github.com/gb28181/sipgw/internal/sip/handlers"
)

// ApplyRoutes wires the v1 control-plane endpoints onto router, all
// behind rateLimit and a bearer-token check per SPEC_FULL.md's "Operator
// control plane" section.
func ApplyRoutes(router *gin.Engine, cfg *config.Config, store registry.Store, h *handlers.Handler, rateLimit gin.HandlerFunc) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiV1 := router.Group("/api/v1")
	apiV1.Use(rateLimit)
	apiV1.Use(middleware.RequireBearerToken(cfg.HTTP.BearerToken))

	v1Sessions := apiV1.Group("/sessions")
	v1Sessions.POST("/start", v1SessionControllers.POSTStart(h))
	v1Sessions.POST("/stop", v1SessionControllers.POSTStop(h))

	apiV1.GET("/devices", v1DeviceControllers.GETDevices(store))
	apiV1.GET("/streams", v1DeviceControllers.GETStreams(store))
}
