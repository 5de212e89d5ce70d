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

package transport_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gb28181/sipgw/internal/sip/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackTransport(t *testing.T, dispatch transport.Dispatcher) *transport.Transport {
	t.Helper()
	tr, err := transport.New(transport.Config{
		Host:            "127.0.0.1",
		Port:            0,
		RecvBufferSize:  65535,
		MaxMessageBytes: 65536,
	}, dispatch)
	require.NoError(t, err)
	return tr
}

func TestUDPDatagramDispatchedWithNilHandle(t *testing.T) {
	var mu sync.Mutex
	var gotHandle transport.Handle
	var gotBody []byte
	done := make(chan struct{}, 1)

	tr := newLoopbackTransport(t, func(_ net.Addr, handle transport.Handle, raw []byte) {
		mu.Lock()
		gotHandle = handle
		gotBody = raw
		mu.Unlock()
		done <- struct{}{}
	})
	defer tr.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	msg := []byte("OPTIONS sip:34020000001320000001@3402000000 SIP/2.0\r\n\r\n")

	conn, err := net.Dial("udp", tr.UDPLocalAddr().String())
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck
	_, err = conn.Write(msg)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for udp dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Nil(t, gotHandle)
	assert.Equal(t, msg, gotBody)
}

func TestTCPStreamIsFramedBeforeDispatch(t *testing.T) {
	var mu sync.Mutex
	var received [][]byte
	done := make(chan struct{}, 2)

	tr := newLoopbackTransport(t, func(_ net.Addr, handle transport.Handle, raw []byte) {
		mu.Lock()
		received = append(received, raw)
		mu.Unlock()
		assert.NotNil(t, handle)
		done <- struct{}{}
	})
	defer tr.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	conn, err := net.Dial("tcp", tr.TCPLocalAddr().String())
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	first := "MESSAGE sip:34020000001320000001@3402000000 SIP/2.0\r\nContent-Length: 5\r\n\r\nhello"
	second := "MESSAGE sip:34020000001320000001@3402000000 SIP/2.0\r\nContent-Length: 0\r\n\r\n"
	_, err = conn.Write([]byte(first + second))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tcp dispatch")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Contains(t, string(received[0]), "hello")
}

func TestSendFallsBackToUDPWhenHandleNil(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close() //nolint:errcheck

	tr := newLoopbackTransport(t, func(net.Addr, transport.Handle, []byte) {})
	defer tr.Close() //nolint:errcheck

	ok := tr.Send(serverConn.LocalAddr(), nil, []byte("ping"))
	assert.True(t, ok)

	buf := make([]byte, 64)
	require.NoError(t, serverConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := serverConn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}
