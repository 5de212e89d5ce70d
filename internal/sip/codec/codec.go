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

// Package codec parses raw SIP messages into a typed form, serializes
// typed messages back to wire bytes, and transcodes MANSCDP bodies
// between GB2312/GB18030 and UTF-8.
package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/gb28181/sipgw/internal/sipconst"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Header is one name/value pair. Headers are kept in a slice rather than
// a map because GB/T 28181 devices are sensitive to header order on
// outbound messages and some carry repeated names (Via).
type Header struct {
	Name  string
	Value string
}

// Message is a parsed SIP request or response.
type Message struct {
	IsResponse bool

	// Request line
	Method     sipconst.Method
	RequestURI string

	// Status line
	StatusCode sipconst.StatusCode
	Reason     string

	Headers []Header
	Body    []byte
}

// Get returns the first header value matching name, case-insensitively.
func (m *Message) Get(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Set replaces the first header matching name, or appends one if absent.
func (m *Message) Set(name, value string) {
	for i, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			m.Headers[i].Value = value
			return
		}
	}
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// Add appends a header even if one by that name already exists (used for
// Via, which may be repeated).
func (m *Message) Add(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// CSeq splits the CSeq header into its sequence number and method.
func (m *Message) CSeq() (uint32, sipconst.Method, error) {
	raw, ok := m.Get("CSeq")
	if !ok {
		return 0, "", fmt.Errorf("codec: missing CSeq header")
	}
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("codec: malformed CSeq header %q", raw)
	}
	seq, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("codec: malformed CSeq number %q: %w", fields[0], err)
	}
	return uint32(seq), sipconst.Method(fields[1]), nil
}

// Parse decodes one complete SIP message (as already extracted by the
// framer) into a Message. The body is returned as raw bytes; callers
// that need MANSCDP text call DecodeBody separately.
func Parse(raw []byte) (*Message, error) {
	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		return nil, fmt.Errorf("codec: no header/body separator found")
	}

	headerBlock := string(raw[:headerEnd])
	body := raw[headerEnd+4:]

	lines := strings.Split(headerBlock, "\r\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("codec: empty message")
	}

	msg := &Message{Body: body}
	startLine := lines[0]

	if strings.HasPrefix(strings.TrimLeft(startLine, " \t"), "SIP") {
		msg.IsResponse = true
		fields := strings.SplitN(startLine, " ", 3)
		if len(fields) < 2 {
			return nil, fmt.Errorf("codec: malformed status line %q", startLine)
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("codec: malformed status code %q: %w", fields[1], err)
		}
		msg.StatusCode = sipconst.StatusCode(code)
		if len(fields) == 3 {
			msg.Reason = fields[2]
		}
	} else {
		fields := strings.Fields(startLine)
		if len(fields) < 2 {
			return nil, fmt.Errorf("codec: malformed request line %q", startLine)
		}
		msg.Method = sipconst.Method(fields[0])
		msg.RequestURI = fields[1]
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx == -1 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		msg.Headers = append(msg.Headers, Header{Name: name, Value: value})
	}

	return msg, nil
}

// Serialize renders msg back to wire bytes. Content-Length is recomputed
// from the current body and overwrites any existing header of that name.
func (m *Message) Serialize() []byte {
	var b bytes.Buffer

	if m.IsResponse {
		reason := m.Reason
		if reason == "" {
			reason = m.StatusCode.Reason()
		}
		fmt.Fprintf(&b, "SIP/2.0 %d %s\r\n", m.StatusCode, reason)
	} else {
		fmt.Fprintf(&b, "%s %s SIP/2.0\r\n", m.Method, m.RequestURI)
	}

	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, "Content-Length") {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(m.Body))

	b.WriteString("\r\n")
	b.Write(m.Body)
	return b.Bytes()
}

const (
	gb2312Decl  = `encoding="GB2312"`
	gb18030Decl = `encoding="GB18030"`
	utf8Decl    = `encoding="UTF-8"`
)

// DecodeBody decodes a MANSCDP body from the wire (GB18030, a superset of
// GB2312) and rewrites its XML declaration to claim UTF-8, matching the
// reference implementation's literal string-replace approach rather than
// an XML-declaration-aware rewrite.
func DecodeBody(data []byte) (string, error) {
	decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("codec: GB18030 decode failed: %w", err)
	}
	body := string(decoded)

	switch {
	case strings.Contains(body, gb2312Decl):
		return strings.Replace(body, gb2312Decl, utf8Decl, 1), nil
	case strings.Contains(body, gb18030Decl):
		return strings.Replace(body, gb18030Decl, utf8Decl, 1), nil
	default:
		return body, nil
	}
}

// EncodeBody reverses DecodeBody: rewrites the XML declaration to claim
// GB2312 and encodes the text for the wire. x/text has no standalone
// GB2312 codec; GBK is its superset and byte-identical for every
// character GB2312 itself can represent, which is what the reference
// implementation's GB2312 encoder is limited to anyway.
func EncodeBody(text string) ([]byte, error) {
	rewritten := strings.Replace(text, utf8Decl, gb2312Decl, 1)
	encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(rewritten))
	if err != nil {
		return nil, fmt.Errorf("codec: GB2312 encode failed: %w", err)
	}
	return encoded, nil
}
