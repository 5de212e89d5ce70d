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

	"k8s.io/klog/v2"

	"github.com/gb28181/sipgw/internal/sip/codec"
	"github.com/gb28181/sipgw/internal/sip/transport"
	"github.com/gb28181/sipgw/internal/sipconst"
)

// sendResponse serializes and sends resp on the peer's transport, logging
// on failure. There is no retry; the device's own retransmit covers loss.
func (h *Handler) sendResponse(peerAddr net.Addr, handle transport.Handle, resp *codec.Message) {
	if !h.sender.Send(peerAddr, handle, resp.Serialize()) {
		klog.Warningf("handlers: failed to send %d response to %s", resp.StatusCode, peerAddr)
	}
}

// sendRequest serializes and sends req on the peer's transport, logging on
// failure. Returns whether the send succeeded.
func (h *Handler) sendRequest(peerAddr net.Addr, handle transport.Handle, req *codec.Message) bool {
	ok := h.sender.Send(peerAddr, handle, req.Serialize())
	if !ok {
		klog.Warningf("handlers: failed to send %s request to %s", req.Method, peerAddr)
	}
	return ok
}

// reply200 answers req with a bare 200 OK, copying Via/From/To/Call-ID/CSeq
// and a zero Content-Length, the header shape used by REGISTER, MESSAGE and
// every stubbed method.
func (h *Handler) reply200(peerAddr net.Addr, handle transport.Handle, req *codec.Message) {
	resp := &codec.Message{
		IsResponse: true,
		StatusCode: sipconst.StatusOK,
		Reason:     sipconst.StatusOK.Reason(),
		Headers:    replyHeaders(req),
	}
	h.sendResponse(peerAddr, handle, resp)
}

// replyStub200 is reply200 used for methods the gateway does not act on:
// CANCEL, OPTIONS, PRACK, INFO, NOTIFY, PUBLISH, REFER, SUBSCRIBE, UPDATE,
// ACK and inbound BYE. The spec requires these to be acknowledged with no
// state change.
func (h *Handler) replyStub200(peerAddr net.Addr, handle transport.Handle, req *codec.Message) {
	h.reply200(peerAddr, handle, req)
}

// transportName returns "TCP" when handle is non-nil (the message arrived
// over a TCP connection), else "UDP".
func transportName(handle transport.Handle) string {
	if handle != nil {
		return "TCP"
	}
	return "UDP"
}
