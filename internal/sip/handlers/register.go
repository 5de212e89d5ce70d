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
	"net"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/gb28181/sipgw/internal/sip/auth"
	"github.com/gb28181/sipgw/internal/sip/codec"
	"github.com/gb28181/sipgw/internal/sip/manscdp"
	"github.com/gb28181/sipgw/internal/sip/transport"
	"github.com/gb28181/sipgw/internal/sipconst"
)

// onRegister implements the REGISTER challenge/accept flow of §4.5: an
// unauthenticated or invalid request gets a fresh 401 challenge; a valid
// one is registered or unregistered depending on Expires.
func (h *Handler) onRegister(peerAddr net.Addr, handle transport.Handle, req *codec.Message) {
	if authz, ok := req.Get("Authorization"); ok {
		if h.verifyAuthorization(req, authz) {
			from, _ := req.Get("From")
			gbCode := fromUser(from)
			h.onRegisterAccepted(peerAddr, handle, req, gbCode)
			return
		}
		if h.metrics != nil {
			h.metrics.RecordDigestFailure()
		}
	}
	h.onRegisterChallenge(peerAddr, handle, req)
}

// verifyAuthorization parses a digest Authorization header value and
// checks it against the server's own credentials.
func (h *Handler) verifyAuthorization(req *codec.Message, authz string) bool {
	params := parseAuthParams(authz)
	if params["username"] == "" || params["response"] == "" {
		return false
	}

	challenge := auth.Challenge{
		Username: params["username"],
		Password: h.sip.Password,
		Realm:    h.sip.Realm,
		Nonce:    h.sip.Nonce,
		Method:   string(req.Method),
		URI:      params["uri"],
		Qop:      params["qop"],
		Cnonce:   params["cnonce"],
		Nc:       params["nc"],
	}
	return auth.Verify(challenge, params["response"])
}

// parseAuthParams splits a `Digest key="value", key2=value2` Authorization
// header body into a lowercase-keyed map.
func parseAuthParams(header string) map[string]string {
	out := make(map[string]string)
	header = strings.TrimPrefix(strings.TrimSpace(header), "Digest ")
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		out[key] = val
	}
	return out
}

// onRegisterChallenge replies 401 Unauthorized with a WWW-Authenticate
// challenge carrying the server's realm/nonce/algorithm/qop.
func (h *Handler) onRegisterChallenge(peerAddr net.Addr, handle transport.Handle, req *codec.Message) {
	headers := replyHeaders(req)
	headers = append(headers, codec.Header{
		Name: "WWW-Authenticate",
		Value: `Digest realm="` + h.sip.Realm + `", nonce="` + h.sip.Nonce +
			`", algorithm=MD5, qop="auth"`,
	})

	resp := &codec.Message{
		IsResponse: true,
		StatusCode: sipconst.StatusUnauthorized,
		Reason:     sipconst.StatusUnauthorized.Reason(),
		Headers:    headers,
	}
	h.sendResponse(peerAddr, handle, resp)
}

// onRegisterAccepted registers or unregisters gbCode depending on Expires,
// replies 200 OK, and on first-time registration follows up with a
// DeviceStatus query over the same transport.
func (h *Handler) onRegisterAccepted(peerAddr net.Addr, handle transport.Handle, req *codec.Message, gbCode string) {
	expires, hasExpires := req.Get("Expires")
	isNewRegistration := false

	if hasExpires {
		seconds, err := strconv.Atoi(strings.TrimSpace(expires))
		if err != nil {
			klog.Warningf("handlers: malformed Expires %q from %s, treating as 0", expires, peerAddr)
			seconds = 0
		}
		if seconds == 0 {
			h.store.Unregister(gbCode)
			if h.metrics != nil {
				h.metrics.RecordRegistration("unregistered")
			}
		} else {
			via, _ := req.Get("Via")
			isNewRegistration = h.store.Register(branchOf(via), gbCode, peerAddr, handle)
			if h.metrics != nil {
				h.metrics.RecordRegistration("accepted")
			}
		}
	}

	h.reply200(peerAddr, handle, req)

	if isNewRegistration {
		h.sendDeviceStatusQuery(peerAddr, handle, gbCode)
	}
}

// sendDeviceStatusQuery sends a MANSCDP DeviceStatus <Query> to gbCode,
// the follow-up every first-time REGISTER triggers per §4.5 step 3.
func (h *Handler) sendDeviceStatusQuery(peerAddr net.Addr, handle transport.Handle, gbCode string) {
	sn := h.store.AddFetchGlobalSN()
	query := manscdp.NewDeviceStatusQuery(sn, gbCode)
	xmlBody, err := manscdp.Marshal(query)
	if err != nil {
		klog.Errorf("handlers: failed to marshal DeviceStatus query for %s: %s", gbCode, err)
		return
	}
	h.sendMessageRequest(peerAddr, handle, gbCode, xmlBody)
}

// sendMessageRequest builds and sends a SIP MESSAGE carrying a MANSCDP
// body, GB-encoded per §4.3.
func (h *Handler) sendMessageRequest(peerAddr net.Addr, handle transport.Handle, gbCode, xmlBody string) {
	body, err := codec.EncodeBody(xmlBody)
	if err != nil {
		klog.Errorf("handlers: failed to encode MANSCDP body for %s: %s", gbCode, err)
		return
	}

	branch := "z9hG4bK" + newTag(16)
	seq := h.store.AddFetchGlobalSequence()
	req := &codec.Message{
		Method:     sipconst.MESSAGE,
		RequestURI: "sip:" + gbCode + "@" + h.sip.Domain,
		Headers: []codec.Header{
			{Name: "Via", Value: h.via(transportName(handle), branch)},
			{Name: "From", Value: h.fromNew()},
			{Name: "To", Value: h.toNew(gbCode)},
			{Name: "Call-ID", Value: h.newCallID()},
			{Name: "CSeq", Value: formatU32(seq) + " MESSAGE"},
			{Name: "Content-Type", Value: sipconst.ContentTypeMANSCDP},
		},
		Body: body,
	}
	h.sendRequest(peerAddr, handle, req)
}

func formatU32(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
