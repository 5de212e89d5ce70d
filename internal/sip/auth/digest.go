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

// Package auth verifies RFC 2617 HTTP-Digest credentials on REGISTER
// requests. No nonce-aging or replay cache is implemented: the server
// hands out one fixed nonce for its whole lifetime (see SPEC_FULL.md §9).
package auth

import (
	"crypto/md5" //nolint:gosec // RFC 2617 digest auth mandates MD5
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Challenge names the server-side parameters a digest response is
// verified against.
type Challenge struct {
	Username string
	Password string
	Realm    string
	Nonce    string
	Method   string
	URI      string

	// Qop, Cnonce and Nc are only set when the request carried qop=auth.
	Qop    string
	Cnonce string
	Nc     string
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Compute recomputes the expected digest response for c, following the
// same HA1/HA2 construction as rsip's DigestGenerator: HA1 covers
// username:realm:password, HA2 covers method:uri, and when qop=auth is
// present nc and cnonce are folded into the final hash.
func Compute(c Challenge) string {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", c.Username, c.Realm, c.Password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", c.Method, c.URI))

	if c.Qop == "auth" {
		return md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, c.Nonce, c.Nc, c.Cnonce, c.Qop, ha2))
	}
	return md5Hex(fmt.Sprintf("%s:%s:%s", ha1, c.Nonce, ha2))
}

// Verify reports whether clientResponse matches the digest computed from
// c, using a constant-time comparison to avoid leaking timing
// information about how many leading hex characters matched.
func Verify(c Challenge, clientResponse string) bool {
	expected := Compute(c)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(clientResponse)) == 1
}
