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

package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gb28181/sipgw/internal/sip/codec"
)

// newTag generates a random lowercase-hex dialog tag of the given length,
// the way the reference implementation draws from a 16-symbol hex charset.
func newTag(length int) string {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		for i := range buf {
			buf[i] = 0
		}
	}
	return hex.EncodeToString(buf)[:length]
}

// newCallID builds a globally unique Call-ID in the reference
// implementation's shape: an uppercase, hyphen-stripped UUID plus our
// contact address.
func (h *Handler) newCallID() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s@%s:%d", id, h.sip.MyIP, h.sip.Port)
}

// via builds a Via header value for an outbound request/response on the
// given transport and branch.
func (h *Handler) via(transportName, branch string) string {
	return fmt.Sprintf("SIP/2.0/%s %s:%d;rport;branch=%s", transportName, h.sip.MyIP, h.sip.Port, branch)
}

// fromNew builds a From header for a request the gateway originates,
// tagged with a fresh random tag.
func (h *Handler) fromNew() string {
	return fmt.Sprintf("<sip:%s@%s>;tag=%s", h.sip.ID, h.sip.Domain, newTag(32))
}

// fromOld rebuilds a From header the gateway originates, reusing an
// existing dialog tag.
func (h *Handler) fromOld(tag string) string {
	return fmt.Sprintf("<sip:%s@%s>;tag=%s", h.sip.ID, h.sip.Domain, tag)
}

// toNew builds an untagged To header addressed at gbCode.
func (h *Handler) toNew(gbCode string) string {
	return fmt.Sprintf("<sip:%s@%s>", gbCode, h.sip.Domain)
}

// toNewWithTag builds a To header addressed at gbCode, carrying tag.
func (h *Handler) toNewWithTag(gbCode, tag string) string {
	return fmt.Sprintf("<sip:%s@%s>;tag=%s", gbCode, h.sip.Domain, tag)
}

// ensureToTag appends a freshly generated tag to a To header value that
// does not already carry one, the way every 401/200 reply to a device
// request must echo a tagged To.
func ensureToTag(to string) string {
	if strings.Contains(to, ";tag=") {
		return to
	}
	return to + ";tag=" + newTag(32)
}

// replyHeaders copies Via, From, To (tagged), Call-ID and CSeq from req in
// that order, the header sequence every 200/401 reply to a device request
// uses.
func replyHeaders(req *codec.Message) []codec.Header {
	var headers []codec.Header
	if v, ok := req.Get("Via"); ok {
		headers = append(headers, codec.Header{Name: "Via", Value: v})
	}
	if f, ok := req.Get("From"); ok {
		headers = append(headers, codec.Header{Name: "From", Value: f})
	}
	if t, ok := req.Get("To"); ok {
		headers = append(headers, codec.Header{Name: "To", Value: ensureToTag(t)})
	}
	if c, ok := req.Get("Call-ID"); ok {
		headers = append(headers, codec.Header{Name: "Call-ID", Value: c})
	}
	if c, ok := req.Get("CSeq"); ok {
		headers = append(headers, codec.Header{Name: "CSeq", Value: c})
	}
	return headers
}

// fromUser extracts the user part of a From/To header's SIP URI, e.g.
// "<sip:34020000001320000001@3402000000>;tag=abc" -> "34020000001320000001".
func fromUser(header string) string {
	start := strings.Index(header, "sip:")
	if start == -1 {
		return ""
	}
	rest := header[start+len("sip:"):]
	end := strings.IndexAny(rest, "@>")
	if end == -1 {
		return ""
	}
	return rest[:end]
}

// tagOf extracts the tag parameter from a From/To header value, if any.
func tagOf(header string) string {
	idx := strings.Index(header, ";tag=")
	if idx == -1 {
		return ""
	}
	rest := header[idx+len(";tag="):]
	end := strings.IndexByte(rest, ';')
	if end == -1 {
		return rest
	}
	return rest[:end]
}

// branchOf extracts the branch parameter from a Via header value.
func branchOf(via string) string {
	idx := strings.Index(via, "branch=")
	if idx == -1 {
		return ""
	}
	rest := via[idx+len("branch="):]
	end := strings.IndexByte(rest, ';')
	if end == -1 {
		return rest
	}
	return rest[:end]
}

// transportOf reports whether a Via header names the TCP transport.
func isTCPVia(via string) bool {
	return strings.Contains(via, "SIP/2.0/TCP")
}
