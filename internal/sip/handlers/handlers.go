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

// Package handlers implements the per-method SIP request/response logic:
// REGISTER digest challenge, MESSAGE/MANSCDP subtypes, the INVITE/ACK/BYE
// dialog the gateway drives as UAC, and 200-OK stubs for every other
// method a GB/T 28181 device might send.
package handlers

import (
	"context"
	"net"

	"k8s.io/klog/v2"

	"github.com/gb28181/sipgw/internal/config"
	"github.com/gb28181/sipgw/internal/metrics"
	"github.com/gb28181/sipgw/internal/registry"
	"github.com/gb28181/sipgw/internal/sip/codec"
	"github.com/gb28181/sipgw/internal/sip/transport"
	"github.com/gb28181/sipgw/internal/sipconst"
)

// Sender is the outbound half of the transport, kept as an interface so
// handlers can be tested against a recording fake instead of real sockets.
type Sender interface {
	Send(peerAddr net.Addr, handle transport.Handle, data []byte) bool
}

// MediaAllocator binds and releases media-server ports for a stream on
// the external media-plane service. Implemented by internal/mediaclient.
type MediaAllocator interface {
	BindStreamPort(ctx context.Context, gbCode string, streamID uint32, setupType string) (mediaIP string, mediaPort uint16, err error)
	FreeStreamPort(ctx context.Context, gbCode string, streamID uint32, mediaIP string, mediaPort uint16) error
}

// Handler wires the Registry, the outbound transport, and the media-port
// allocator together to implement the gateway's signaling behavior.
type Handler struct {
	sip     *config.SIP
	store   registry.Store
	sender  Sender
	media   MediaAllocator
	metrics *metrics.Metrics
}

// New constructs a Handler. m may be nil, in which case metrics recording
// is skipped (used by tests that don't care about counters).
func New(sip *config.SIP, store registry.Store, sender Sender, media MediaAllocator, m *metrics.Metrics) *Handler {
	return &Handler{sip: sip, store: store, sender: sender, media: media, metrics: m}
}

// Dispatch is the transport.Dispatcher entry point: it parses raw bytes
// into a SIP message and routes it by request/response, exactly mirroring
// SipHandler::dispatch in the reference implementation.
func (h *Handler) Dispatch(peerAddr net.Addr, handle transport.Handle, raw []byte) {
	msg, err := codec.Parse(raw)
	if err != nil {
		klog.Warningf("handlers: failed to parse sip message from %s: %s", peerAddr, err)
		return
	}

	if msg.IsResponse {
		h.dispatchResponse(peerAddr, handle, msg)
		return
	}
	h.dispatchRequest(peerAddr, handle, msg)
}

func (h *Handler) dispatchRequest(peerAddr net.Addr, handle transport.Handle, req *codec.Message) {
	seq, method, err := req.CSeq()
	if err != nil {
		klog.Warningf("handlers: request from %s has no usable CSeq: %s", peerAddr, err)
		return
	}
	if method == sipconst.REGISTER {
		h.store.SetRegisterSequence(seq)
	} else {
		h.store.SetGlobalSequence(seq)
	}

	switch req.Method {
	case sipconst.REGISTER:
		h.onRegister(peerAddr, handle, req)
	case sipconst.MESSAGE:
		h.onMessage(peerAddr, handle, req)
	case sipconst.INVITE:
		// Inbound INVITE is not supported: the gateway only ever acts as
		// the dialog's UAC. Log and drop, matching the reference
		// implementation's empty on_req_invite.
		klog.Warningf("handlers: inbound INVITE from %s is not supported, dropping", peerAddr)
	default:
		h.replyStub200(peerAddr, handle, req)
	}
}

func (h *Handler) dispatchResponse(peerAddr net.Addr, handle transport.Handle, resp *codec.Message) {
	_, method, err := resp.CSeq()
	if err != nil {
		klog.Warningf("handlers: response from %s has no usable CSeq: %s", peerAddr, err)
		return
	}

	switch method {
	case sipconst.INVITE:
		h.onInviteResponse(peerAddr, handle, resp)
	case sipconst.REGISTER:
		// No action: the gateway never sends REGISTER itself.
	default:
		klog.V(4).Infof("handlers: unhandled response method %s from %s", method, peerAddr)
	}
}
