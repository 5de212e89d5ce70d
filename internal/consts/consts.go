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
//
// The source code is available at <https://github.com/gb28181/sipgw>

// Package consts holds small shared constants used across packages that
// would otherwise each define their own copy.
package consts

import "time"

const (
	// ConnsPerCPU sizes the Redis connection pool relative to GOMAXPROCS.
	ConnsPerCPU = 10
	// MaxIdleTime is how long a pooled Redis connection may sit idle.
	MaxIdleTime = 10 * time.Minute
)
