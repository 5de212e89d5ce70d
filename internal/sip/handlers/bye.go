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

	"k8s.io/klog/v2"

	"github.com/gb28181/sipgw/internal/registry"
	"github.com/gb28181/sipgw/internal/sip/codec"
	"github.com/gb28181/sipgw/internal/sipconst"
)

// ErrStreamNotFound is returned by StopSession when no stream with the
// given id is tracked for the device.
var ErrStreamNotFound = errors.New("handlers: stream not found")

// StopSession implements §4.10: release the stream from the Registry,
// emit a wire BYE only if this was the device's last active stream, and
// always release the allocated media-server port.
func (h *Handler) StopSession(ctx context.Context, gbCode string, streamID uint32) error {
	result, ok := h.store.Bye(gbCode, streamID)
	if !ok {
		return ErrStreamNotFound
	}

	if result.Success {
		h.sendBye(gbCode, result)
	}

	if err := h.media.FreeStreamPort(ctx, gbCode, streamID, result.MediaServerIP, result.MediaServerPort); err != nil {
		klog.Warningf("handlers: failed to free media port for %s stream %d: %s", gbCode, streamID, err)
	}
	return nil
}

func (h *Handler) sendBye(gbCode string, result *registry.ByeResult) {
	branch := "z9hG4bK" + newTag(16)
	seq := h.store.AddFetchGlobalSequence()

	req := &codec.Message{
		Method:     sipconst.BYE,
		RequestURI: "sip:" + gbCode + "@" + h.sip.Domain,
		Headers: []codec.Header{
			{Name: "Via", Value: h.via(transportName(result.Handle), branch)},
			{Name: "From", Value: h.fromOld(result.FromTag)},
			{Name: "To", Value: h.toNewWithTag(gbCode, result.ToTag)},
			{Name: "Contact", Value: "<sip:" + h.sip.ID + "@" + h.sip.MyIP + ">"},
			{Name: "Call-ID", Value: result.CallID},
			{Name: "CSeq", Value: formatU32(seq) + " BYE"},
		},
	}
	h.sendRequest(result.PeerAddr, result.Handle, req)
}
