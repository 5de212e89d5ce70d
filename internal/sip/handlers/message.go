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
	"encoding/xml"
	"net"

	"k8s.io/klog/v2"

	"github.com/gb28181/sipgw/internal/registry"
	"github.com/gb28181/sipgw/internal/sip/codec"
	"github.com/gb28181/sipgw/internal/sip/manscdp"
	"github.com/gb28181/sipgw/internal/sip/transport"
	"github.com/gb28181/sipgw/internal/sipconst"
)

// onMessage implements §4.6: decode the GB-encoded body, extract CmdType,
// and dispatch to the matching MANSCDP handler. Every branch replies 200
// OK with Content-Length 0.
func (h *Handler) onMessage(peerAddr net.Addr, handle transport.Handle, req *codec.Message) {
	text, err := codec.DecodeBody(req.Body)
	if err != nil {
		klog.Warningf("handlers: failed to decode MESSAGE body from %s: %s", peerAddr, err)
		h.reply200(peerAddr, handle, req)
		return
	}

	switch manscdp.CmdTypeOf(text) {
	case string(sipconst.CmdKeepalive):
		h.onKeepalive(peerAddr, handle, req, text)
	case string(sipconst.CmdDeviceStatus):
		h.onDeviceStatus(peerAddr, handle, req, text)
	case string(sipconst.CmdCatalog):
		h.onCatalog(peerAddr, handle, req, text)
	case string(sipconst.CmdDeviceInfo):
		h.onDeviceInfo(peerAddr, handle, req, text)
	default:
		h.reply200(peerAddr, handle, req)
	}
}

func (h *Handler) onKeepalive(peerAddr net.Addr, handle transport.Handle, req *codec.Message, text string) {
	var data manscdp.Keepalive
	if err := xml.Unmarshal([]byte(text), &data); err != nil {
		klog.Warningf("handlers: malformed Keepalive body from %s: %s", peerAddr, err)
		h.reply200(peerAddr, handle, req)
		return
	}
	if data.SN > 0 {
		h.store.SetGlobalSN(data.SN)
	}

	from, _ := req.Get("From")
	h.store.RegisterKeepAlive(fromUser(from))

	h.reply200(peerAddr, handle, req)
}

func (h *Handler) onDeviceStatus(peerAddr net.Addr, handle transport.Handle, req *codec.Message, text string) {
	var data manscdp.DeviceStatusResponse
	if err := xml.Unmarshal([]byte(text), &data); err != nil {
		klog.Warningf("handlers: malformed DeviceStatus body from %s: %s", peerAddr, err)
		h.reply200(peerAddr, handle, req)
		return
	}
	if data.SN > 0 {
		h.store.SetGlobalSN(data.SN)
	}

	h.reply200(peerAddr, handle, req)
}

func (h *Handler) onCatalog(peerAddr net.Addr, handle transport.Handle, req *codec.Message, text string) {
	var data manscdp.CatalogResponse
	if err := xml.Unmarshal([]byte(text), &data); err != nil {
		klog.Warningf("handlers: malformed Catalog body from %s: %s", peerAddr, err)
		h.reply200(peerAddr, handle, req)
		return
	}
	if data.SN > 0 {
		h.store.SetGlobalSN(data.SN)
	}

	from, _ := req.Get("From")
	gbCode := fromUser(from)
	items := make([]registry.CatalogDevice, 0, len(data.DeviceList.Items))
	for _, item := range data.DeviceList.Items {
		items = append(items, registry.CatalogDevice{
			GBCode: item.DeviceID,
			Name:   item.Name,
			Status: item.Status,
		})
	}
	h.store.AppendSubDevices(gbCode, items)

	h.reply200(peerAddr, handle, req)
}

func (h *Handler) onDeviceInfo(peerAddr net.Addr, handle transport.Handle, req *codec.Message, text string) {
	var data manscdp.DeviceInfoResponse
	if err := xml.Unmarshal([]byte(text), &data); err != nil {
		klog.Warningf("handlers: malformed DeviceInfo body from %s: %s", peerAddr, err)
		h.reply200(peerAddr, handle, req)
		return
	}
	if data.SN > 0 {
		h.store.SetGlobalSN(data.SN)
	}

	from, _ := req.Get("From")
	gbCode := fromUser(from)
	h.store.SetDeviceInfo(gbCode, data.Manufacturer, data.Model, data.Firmware)

	h.reply200(peerAddr, handle, req)
}

// RefreshCatalog sends a Catalog query to gbCode, letting an operator
// refresh a device's sub-device list on demand (§4.6, supplemented).
func (h *Handler) RefreshCatalog(gbCode string) bool {
	device, ok := h.store.FindDeviceByGBCode(gbCode)
	if !ok {
		return false
	}

	sn := h.store.AddFetchGlobalSN()
	query := manscdp.NewCatalogQuery(sn, gbCode)
	xmlBody, err := manscdp.Marshal(query)
	if err != nil {
		klog.Errorf("handlers: failed to marshal Catalog query for %s: %s", gbCode, err)
		return false
	}
	h.sendMessageRequest(device.PeerAddr, device.Handle, gbCode, xmlBody)
	return true
}
