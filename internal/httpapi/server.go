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

// Package httpapi is the operator control plane: a gin router exposing
// session start/stop and read-only device/stream listings over the
// Registry and the SIP Handler.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gb28181/sipgw/internal/config"
	"github.com/gb28181/sipgw/internal/httpapi/middleware"
	"github.com/gb28181/sipgw/internal/registry"
	"github.com/gb28181/sipgw/internal/sip/handlers"
)

// ErrClosed is returned by Start after a graceful Stop.
var ErrClosed = errors.New("httpapi: server closed")

// ErrFailed is returned by Start when the listener fails to come up.
var ErrFailed = errors.New("httpapi: failed to start server")

// Server wraps the standard library server with the shutdown-signaling
// channel the teacher's HTTP server uses.
type Server struct {
	*http.Server
	shutdownChannel chan bool
}

const defTimeout = 10 * time.Second

// MakeServer builds the control-plane HTTP server from cfg, store, and h.
func MakeServer(cfg *config.Config, store registry.Store, h *handlers.Handler) Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := CreateRouter(cfg, store, h)

	s := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  defTimeout,
		WriteTimeout: defTimeout,
	}
	s.SetKeepAlivesEnabled(false)

	return Server{s, make(chan bool)}
}

// CreateRouter builds the gin engine: tracing, CORS, rate limiting, and
// the bearer-token-gated API v1 routes.
func CreateRouter(cfg *config.Config, store registry.Store, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if cfg.Metrics.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("httpapi"))
		r.Use(func(c *gin.Context) {
			span := trace.SpanFromContext(c.Request.Context())
			if span.IsRecording() {
				span.SetAttributes(
					attribute.String("http.method", c.Request.Method),
					attribute.String("http.path", c.Request.URL.Path),
				)
			}
			c.Next()
		})
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowCredentials = true
	corsConfig.AllowOrigins = cfg.HTTP.CORSHosts
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	rate := time.Minute
	limit := cfg.HTTP.RateLimitPerMinute
	if limit == 0 {
		limit = 1
	}
	rlStore := middleware.NewMemoryStore(&middleware.MemoryOptions{Rate: rate, Limit: limit})
	ratelimitMW := ratelimit.RateLimiter(rlStore, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			c.String(http.StatusTooManyRequests, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})

	ApplyRoutes(r, cfg, store, h, ratelimitMW)

	return r
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	klog.Info("httpapi: stopping control plane server")
	const timeout = 5 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		klog.Errorf("httpapi: failed to shut down: %s", err)
	}
	<-s.shutdownChannel
}

// Start runs the server until Stop is called or it fails to bind.
func (s *Server) Start() error {
	g := new(errgroup.Group)
	g.Go(func() error {
		err := s.ListenAndServe()
		if err != nil {
			switch {
			case errors.Is(err, http.ErrServerClosed):
				s.shutdownChannel <- true
				return ErrClosed
			default:
				klog.Errorf("httpapi: failed to start: %s", err)
				return ErrFailed
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err //nolint:wrapcheck
	}
	return nil
}
