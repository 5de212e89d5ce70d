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
	"context"
	"errors"
	"fmt"
	"net"

	"k8s.io/klog/v2"

	"github.com/gb28181/sipgw/internal/sip/codec"
	"github.com/gb28181/sipgw/internal/sip/sdp"
	"github.com/gb28181/sipgw/internal/sip/transport"
	"github.com/gb28181/sipgw/internal/sipconst"
)

// ErrDeviceNotFound is returned by StartSession when the target device
// has no active registration.
var ErrDeviceNotFound = errors.New("handlers: device not found")

// StartSessionParams carries the operator's start_session request (§4.7).
type StartSessionParams struct {
	GBCode      string
	ChannelID   string
	SetupType   string
	SessionType sipconst.SessionType
	StartTS     uint64
	StopTS      uint64
}

// StartSession drives the INVITE initiator described in §4.7: allocate a
// stream, bind a media-server port, build the SDP body, and send INVITE.
func (h *Handler) StartSession(ctx context.Context, p StartSessionParams) (streamID uint32, alreadyPlaying bool, err error) {
	isLive := p.SessionType == sipconst.SessionPlay || p.SessionType == sipconst.SessionTalk
	fromTag := newTag(32)
	callerID := h.newCallID()

	result, ok := h.store.Invite(p.GBCode, p.ChannelID, callerID, fromTag, isLive)
	if !ok {
		return 0, false, ErrDeviceNotFound
	}

	mediaIP, mediaPort, err := h.media.BindStreamPort(ctx, p.GBCode, result.StreamID, p.SetupType)
	if err != nil {
		return 0, false, fmt.Errorf("handlers: bind stream port for %s: %w", p.GBCode, err)
	}
	h.store.UpdateStreamServerInfo(result.StreamID, mediaIP, mediaPort)

	body := sdp.Build(sdp.BuildParams{
		MediaServerIP:   mediaIP,
		MediaServerPort: mediaPort,
		GBCode:          p.GBCode,
		SetupType:       p.SetupType,
		SessionType:     p.SessionType,
		StartTS:         p.StartTS,
		StopTS:          p.StopTS,
	})
	bodyBytes := []byte(body)

	branch := "z9hG4bK" + newTag(16)
	seq := h.store.AddFetchGlobalSequence()
	req := &codec.Message{
		Method:     sipconst.INVITE,
		RequestURI: "sip:" + p.GBCode + "@" + h.sip.Domain,
		Headers: []codec.Header{
			{Name: "Via", Value: h.via(transportName(result.Handle), branch)},
			{Name: "Max-Forwards", Value: "70"},
			{Name: "From", Value: h.fromOld(fromTag)},
			{Name: "To", Value: h.toNew(p.GBCode)},
			{Name: "Contact", Value: fmt.Sprintf("<sip:%s@%s:%d>", h.sip.ID, h.sip.MyIP, h.sip.Port)},
			{Name: "Call-ID", Value: callerID},
			{Name: "CSeq", Value: formatU32(seq) + " INVITE"},
			{Name: "Allow", Value: sipconst.Allow},
			{Name: "Supported", Value: sipconst.Supported},
			{Name: "Subject", Value: p.ChannelID + ":0"},
			{Name: "User-Agent", Value: "gb28181-sipgw"},
			{Name: "Content-Type", Value: sipconst.ContentTypeSDP},
		},
		Body: bodyBytes,
	}

	h.sendRequest(result.PeerAddr, result.Handle, req)
	return result.StreamID, result.AlreadyPlaying, nil
}

// onInviteResponse implements §4.7 steps 4-6: react to 100 Trying (no-op),
// 200 OK (ACK synthesis), and log anything else.
func (h *Handler) onInviteResponse(peerAddr net.Addr, handle transport.Handle, resp *codec.Message) {
	switch resp.StatusCode {
	case sipconst.StatusTrying:
		// No action.
	case sipconst.StatusOK:
		h.onInviteOK(peerAddr, handle, resp)
	default:
		klog.Warningf("handlers: unexpected INVITE response %d from %s", resp.StatusCode, peerAddr)
	}
}

func (h *Handler) onInviteOK(peerAddr net.Addr, handle transport.Handle, resp *codec.Message) {
	from, _ := resp.Get("From")
	to, _ := resp.Get("To")
	fromTag := tagOf(from)
	toTag := tagOf(to)

	if !h.store.UpdateStreamTagInfo(fromTag, toTag) {
		klog.Warningf("handlers: INVITE 200 OK for unknown dialog (from-tag %s) from %s, dropping", fromTag, peerAddr)
		return
	}

	callID, _ := resp.Get("Call-ID")
	cseq, _ := resp.Get("CSeq")
	via, _ := resp.Get("Via")

	gbCode := fromUser(to)
	ack := &codec.Message{
		Method:     sipconst.ACK,
		RequestURI: "sip:" + gbCode + "@" + h.sip.Domain,
		Headers: []codec.Header{
			{Name: "Via", Value: via},
			{Name: "From", Value: from},
			{Name: "To", Value: to},
			{Name: "Call-ID", Value: callID},
			{Name: "CSeq", Value: ackCSeq(cseq)},
		},
	}
	h.sendRequest(peerAddr, handle, ack)
}

// ackCSeq rewrites a "<seq> INVITE" CSeq value to "<seq> ACK".
func ackCSeq(cseq string) string {
	for i := 0; i < len(cseq); i++ {
		if cseq[i] == ' ' {
			return cseq[:i] + " ACK"
		}
	}
	return cseq
}
