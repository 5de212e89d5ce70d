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

package codec_test

import (
	"testing"

	"github.com/gb28181/sipgw/internal/sip/codec"
	"github.com/gb28181/sipgw/internal/sipconst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	raw := "REGISTER sip:3402000000@3402000000 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 192.0.2.1:5060;branch=z9hG4bK123\r\n" +
		"From: <sip:34020000001320000001@3402000000>;tag=abc\r\n" +
		"To: <sip:34020000001320000001@3402000000>\r\n" +
		"Call-ID: callid-1\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"

	msg, err := codec.Parse([]byte(raw))
	require.NoError(t, err)
	assert.False(t, msg.IsResponse)
	assert.Equal(t, sipconst.REGISTER, msg.Method)
	assert.Equal(t, "sip:3402000000@3402000000", msg.RequestURI)

	via, ok := msg.Get("Via")
	require.True(t, ok)
	assert.Contains(t, via, "branch=z9hG4bK123")

	seq, method, err := msg.CSeq()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq)
	assert.Equal(t, sipconst.REGISTER, method)
}

func TestParseResponse(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\nCSeq: 2 INVITE\r\nContent-Length: 0\r\n\r\n"
	msg, err := codec.Parse([]byte(raw))
	require.NoError(t, err)
	assert.True(t, msg.IsResponse)
	assert.Equal(t, sipconst.StatusOK, msg.StatusCode)
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := &codec.Message{
		Method:     sipconst.MESSAGE,
		RequestURI: "sip:foo@bar",
		Headers: []codec.Header{
			{Name: "Via", Value: "SIP/2.0/UDP 192.0.2.1:5060"},
			{Name: "Call-ID", Value: "callid-2"},
			{Name: "CSeq", Value: "3 MESSAGE"},
		},
		Body: []byte("hello"),
	}

	serialized := msg.Serialize()
	reparsed, err := codec.Parse(serialized)
	require.NoError(t, err)
	assert.Equal(t, sipconst.MESSAGE, reparsed.Method)
	assert.Equal(t, "hello", string(reparsed.Body))

	cl, ok := reparsed.Get("Content-Length")
	require.True(t, ok)
	assert.Equal(t, "5", cl)
}

func TestDecodeBodyRewritesEncodingDeclaration(t *testing.T) {
	body := `<?xml version="1.0" encoding="GB2312"?><Notify></Notify>`
	decoded, err := codec.DecodeBody([]byte(body))
	require.NoError(t, err)
	assert.Contains(t, decoded, `encoding="UTF-8"`)
	assert.NotContains(t, decoded, `encoding="GB2312"`)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := `<?xml version="1.0" encoding="UTF-8"?><Notify><CmdType>Keepalive</CmdType></Notify>`
	encoded, err := codec.EncodeBody(original)
	require.NoError(t, err)

	decoded, err := codec.DecodeBody(encoded)
	require.NoError(t, err)
	assert.Contains(t, decoded, "<CmdType>Keepalive</CmdType>")
	assert.Contains(t, decoded, `encoding="UTF-8"`)
}
