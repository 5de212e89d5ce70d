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

// Package framer extracts complete SIP messages from a TCP byte stream
// using Content-Length framing, the same rule a UDP datagram already
// satisfies by virtue of being a single complete message.
package framer

import (
	"bytes"
	"fmt"
	"strconv"
)

const crlfcrlf = "\r\n\r\n"

// ErrMessageTooLarge is returned when the accumulated buffer exceeds
// MaxBytes before a complete message could be extracted. The caller
// should drop the connection.
var ErrMessageTooLarge = fmt.Errorf("framer: message exceeds configured maximum size")

// Framer accumulates bytes from a single TCP connection and yields
// complete SIP messages as they become available. A fresh Framer is
// used per connection; UDP datagrams don't need one since each read is
// already a complete message.
type Framer struct {
	buf      []byte
	maxBytes int
}

// New constructs a Framer. maxBytes <= 0 disables the size guard.
func New(maxBytes int) *Framer {
	return &Framer{maxBytes: maxBytes}
}

// Feed appends newly read bytes and returns every complete message now
// extractable from the buffer, in order.
func (f *Framer) Feed(data []byte) ([][]byte, error) {
	f.buf = append(f.buf, data...)

	var messages [][]byte
	for {
		msg, ok := f.extractOne()
		if !ok {
			break
		}
		if msg != nil {
			messages = append(messages, msg)
		}
	}

	if f.maxBytes > 0 && len(f.buf) > f.maxBytes {
		return messages, ErrMessageTooLarge
	}
	return messages, nil
}

// extractOne attempts to pull one message off the front of the buffer.
// ok is false when more bytes are needed. A nil message with ok=true
// means a bare CRLFCRLF keepalive was consumed and discarded.
func (f *Framer) extractOne() (msg []byte, ok bool) {
	trimmed := bytes.TrimLeft(f.buf, " \t\r\n")
	consumedLeading := len(f.buf) - len(trimmed)

	if len(trimmed) == 0 {
		if consumedLeading == 0 {
			// Buffer is genuinely empty; nothing to discard.
			return nil, false
		}
		f.buf = f.buf[:0]
		return nil, true
	}

	clIdx := bytes.Index(trimmed, []byte("Content-Length:"))
	if clIdx == -1 {
		return nil, false
	}

	lineEnd := bytes.IndexByte(trimmed[clIdx:], '\n')
	if lineEnd == -1 {
		return nil, false
	}
	lineEnd += clIdx

	valueStart := clIdx + len("Content-Length:")
	valueBytes := bytes.TrimSpace(trimmed[valueStart:lineEnd])
	contentLength, err := strconv.Atoi(string(valueBytes))
	if err != nil {
		contentLength = 0
	}

	headerEnd := bytes.Index(trimmed, []byte(crlfcrlf))
	if headerEnd == -1 {
		return nil, false
	}

	bodyStart := headerEnd + len(crlfcrlf)
	msgEnd := bodyStart + contentLength
	if len(trimmed) < msgEnd {
		return nil, false
	}

	message := make([]byte, msgEnd)
	copy(message, trimmed[:msgEnd])

	f.buf = f.buf[consumedLeading+msgEnd:]
	return message, true
}

// Reset discards any partially-accumulated bytes, used after a framing
// error forces the connection closed.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
