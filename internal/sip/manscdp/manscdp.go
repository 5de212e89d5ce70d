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

// Package manscdp models the MANSCDP/XML bodies carried in SIP MESSAGE
// requests: keepalive notifications, catalog/device-status/device-info
// responses, and the queries the server itself originates.
package manscdp

import "encoding/xml"

// CmdTypeOf extracts the <CmdType> element from a MANSCDP body without
// fully parsing it, mirroring the reference implementation's use of a
// regex to route before committing to one of the typed structs below.
func CmdTypeOf(body string) string {
	var probe struct {
		CmdType string `xml:"CmdType"`
	}
	if err := xml.Unmarshal([]byte(body), &probe); err != nil {
		return ""
	}
	return probe.CmdType
}

// Keepalive is the device's periodic liveness notification.
type Keepalive struct {
	XMLName  xml.Name `xml:"Notify"`
	CmdType  string   `xml:"CmdType"`
	SN       uint32   `xml:"SN"`
	DeviceID string   `xml:"DeviceID"`
	Status   string   `xml:"Status"`
}

// DeviceStatusResponse is the device's reply to a server-originated
// DeviceStatus query.
type DeviceStatusResponse struct {
	XMLName  xml.Name `xml:"Response"`
	CmdType  string   `xml:"CmdType"`
	SN       uint32   `xml:"SN"`
	DeviceID string   `xml:"DeviceID"`
	Result   string   `xml:"Result"`
}

// DeviceStatusQuery is sent by the server right after a first-time
// REGISTER to learn whether the device considers itself online.
type DeviceStatusQuery struct {
	XMLName  xml.Name `xml:"Query"`
	CmdType  string   `xml:"CmdType"`
	SN       uint32   `xml:"SN"`
	DeviceID string   `xml:"DeviceID"`
}

// NewDeviceStatusQuery builds a DeviceStatusQuery for gbCode.
func NewDeviceStatusQuery(sn uint32, gbCode string) DeviceStatusQuery {
	return DeviceStatusQuery{CmdType: "DeviceStatus", SN: sn, DeviceID: gbCode}
}

// CatalogItem is one sub-device (camera head or NVR channel) listed in a
// Catalog response.
type CatalogItem struct {
	XMLName      xml.Name `xml:"Item"`
	DeviceID     string   `xml:"DeviceID"`
	Name         string   `xml:"Name"`
	Manufacturer string   `xml:"Manufacturer"`
	Model        string   `xml:"Model"`
	Owner        string   `xml:"Owner"`
	CivilCode    string   `xml:"CivilCode"`
	Block        string   `xml:"Block"`
	Address      string   `xml:"Address"`
	Parental     uint32   `xml:"Parental"`
	ParentID     string   `xml:"ParentID"`
	RegisterWay  uint32   `xml:"RegisterWay"`
	Secrecy      uint32   `xml:"Secrecy"`
	IPAddress    string   `xml:"IPAddress"`
	Port         uint16   `xml:"Port"`
	Password     string   `xml:"Password"`
	Status       string   `xml:"Status"`
	Longitude    float64  `xml:"Longitude"`
	Latitude     float64  `xml:"Latitude"`
	PTZType      uint32   `xml:"PTZType"`
}

// DeviceList wraps the repeated Item elements of a Catalog response.
type DeviceList struct {
	Num   uint32        `xml:"Num"`
	Items []CatalogItem `xml:"Item"`
}

// CatalogResponse is the device's reply to a server-originated Catalog
// query, enumerating its sub-devices.
type CatalogResponse struct {
	XMLName    xml.Name   `xml:"Response"`
	CmdType    string     `xml:"CmdType"`
	SN         uint32     `xml:"SN"`
	DeviceID   string     `xml:"DeviceID"`
	SumNum     uint32     `xml:"SumNum"`
	DeviceList DeviceList `xml:"DeviceList"`
}

// CatalogQuery is sent by the server to ask a device for its sub-device
// list.
type CatalogQuery struct {
	XMLName  xml.Name `xml:"Query"`
	CmdType  string   `xml:"CmdType"`
	SN       uint32   `xml:"SN"`
	DeviceID string   `xml:"DeviceID"`
}

// NewCatalogQuery builds a CatalogQuery for gbCode.
func NewCatalogQuery(sn uint32, gbCode string) CatalogQuery {
	return CatalogQuery{CmdType: "Catalog", SN: sn, DeviceID: gbCode}
}

// DeviceInfoResponse is the device's reply to a server-originated
// DeviceInfo query.
type DeviceInfoResponse struct {
	XMLName      xml.Name `xml:"Response"`
	CmdType      string   `xml:"CmdType"`
	SN           uint32   `xml:"SN"`
	DeviceID     string   `xml:"DeviceID"`
	DeviceName   string   `xml:"DeviceName"`
	Manufacturer string   `xml:"Manufacturer"`
	Model        string   `xml:"Model"`
	Firmware     string   `xml:"Firmware"`
	Result       string   `xml:"Result"`
}

// DeviceInfoQuery is sent by the server to ask a device for its
// manufacturer/model/firmware.
type DeviceInfoQuery struct {
	XMLName  xml.Name `xml:"Query"`
	CmdType  string   `xml:"CmdType"`
	SN       uint32   `xml:"SN"`
	DeviceID string   `xml:"DeviceID"`
}

// NewDeviceInfoQuery builds a DeviceInfoQuery for gbCode.
func NewDeviceInfoQuery(sn uint32, gbCode string) DeviceInfoQuery {
	return DeviceInfoQuery{CmdType: "DeviceInfo", SN: sn, DeviceID: gbCode}
}

// xmlProlog is prepended to every outbound MANSCDP body; the reference
// implementation's serializer emits the same declaration before encoding
// to GB2312.
const xmlProlog = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Marshal serializes v (one of the types above) with the standard
// MANSCDP XML prolog, ready for codec.EncodeBody.
func Marshal(v interface{}) (string, error) {
	data, err := xml.Marshal(v)
	if err != nil {
		return "", err
	}
	return xmlProlog + string(data), nil
}
