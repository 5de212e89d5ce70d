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

package middleware

import (
	"sync"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
)

// hit tracks one IP's request count within the current rate window.
type hit struct {
	count     int64
	windowEnd time.Time
}

// MemoryStore is a process-local ratelimit.Store keyed by client IP. The
// control plane has no database of its own, unlike the session/repeater
// API this is adapted from, which keyed its GORMStore on a persisted
// Ratelimit row; an in-process map is the equivalent for a single-replica
// gateway.
type MemoryStore struct {
	mu    sync.Mutex
	hits  map[string]*hit
	rate  time.Duration
	limit uint
}

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	Rate  time.Duration
	Limit uint
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore(options *MemoryOptions) *MemoryStore {
	return &MemoryStore{
		hits:  make(map[string]*hit),
		rate:  options.Rate,
		limit: options.Limit,
	}
}

// Limit implements ratelimit.Store.
func (s *MemoryStore) Limit(key string, _ *gin.Context) (ret ratelimit.Info) {
	ret.Limit = s.limit

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	h, ok := s.hits[key]
	if !ok || now.After(h.windowEnd) {
		h = &hit{count: 0, windowEnd: now.Add(s.rate)}
		s.hits[key] = h
	}

	ret.ResetTime = h.windowEnd

	if h.count >= int64(s.limit) {
		ret.RateLimited = true
		ret.RemainingHits = 0
		return
	}

	h.count++
	ret.RemainingHits = s.limit - uint(h.count)
	return
}
