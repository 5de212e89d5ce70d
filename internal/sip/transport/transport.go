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

// Package transport binds the gateway's UDP socket and TCP listener on
// the same port and feeds every inbound message to a dispatcher, the
// way internal/dmr/servers/hbrp binds one UDP socket and fans reads out
// to per-command handlers.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gb28181/sipgw/internal/sip/framer"
	"k8s.io/klog/v2"
)

// Dispatcher receives one complete raw SIP message per call, along with
// the peer address it arrived from and a handle for replying on the
// same connection (nil for UDP).
type Dispatcher func(peerAddr net.Addr, handle Handle, raw []byte)

// Handle is the write side of a device's TCP connection, shared between
// the connection's reader goroutine and any handler goroutine that
// needs to push a server-initiated request (INVITE, BYE, MESSAGE query)
// to that same device.
type Handle interface {
	Write(b []byte) error
}

type tcpHandle struct {
	mu   sync.Mutex
	conn net.Conn
}

func (h *tcpHandle) Write(b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.conn.Write(b)
	if err != nil {
		return fmt.Errorf("transport: tcp write failed: %w", err)
	}
	return nil
}

// Transport owns the UDP socket and TCP listener.
type Transport struct {
	udpConn        *net.UDPConn
	tcpListener    net.Listener
	dispatch       Dispatcher
	recvBufferSize int
	maxMessageBytes int
}

// Config carries the bind parameters.
type Config struct {
	Host            string
	Port            int
	RecvBufferSize  int
	MaxMessageBytes int
}

// New constructs a Transport bound to cfg.Host:cfg.Port over both UDP
// and TCP. dispatch is invoked once per complete message.
func New(cfg Config, dispatch Dispatcher) (*Transport, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve udp addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}

	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = udpConn.Close()
		return nil, fmt.Errorf("transport: listen tcp: %w", err)
	}

	return &Transport{
		udpConn:         udpConn,
		tcpListener:     tcpListener,
		dispatch:        dispatch,
		recvBufferSize:  cfg.RecvBufferSize,
		maxMessageBytes: cfg.MaxMessageBytes,
	}, nil
}

// UDPLocalAddr returns the bound UDP socket's local address.
func (t *Transport) UDPLocalAddr() net.Addr {
	return t.udpConn.LocalAddr()
}

// TCPLocalAddr returns the bound TCP listener's local address.
func (t *Transport) TCPLocalAddr() net.Addr {
	return t.tcpListener.Addr()
}

// Start begins the UDP receive loop and TCP accept loop. Both run until
// ctx is cancelled.
func (t *Transport) Start(ctx context.Context) {
	go t.udpLoop(ctx)
	go t.acceptLoop(ctx)
}

func (t *Transport) udpLoop(ctx context.Context) {
	buf := make([]byte, t.recvBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, peerAddr, err := t.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			klog.Warningf("transport: udp read error: %s", err)
			continue
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		go t.safeDispatch(peerAddr, nil, msg)
	}
}

func (t *Transport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.tcpListener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			klog.Warningf("transport: tcp accept error: %s", err)
			continue
		}
		go t.handleConn(ctx, conn)
	}
}

func (t *Transport) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil {
			klog.Warningf("transport: tcp close error: %s", err)
		}
	}()

	handle := &tcpHandle{conn: conn}
	f := framer.New(t.maxMessageBytes)
	buf := make([]byte, t.recvBufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			return
		}

		messages, ferr := f.Feed(buf[:n])
		for _, msg := range messages {
			t.safeDispatch(conn.RemoteAddr(), handle, msg)
		}
		if ferr != nil {
			klog.Warningf("transport: framing error on %s, dropping connection: %s", conn.RemoteAddr(), ferr)
			return
		}
	}
}

// safeDispatch recovers a panicking handler so one malformed message or
// buggy handler cannot take down the peer's connection or the UDP loop.
func (t *Transport) safeDispatch(peerAddr net.Addr, handle Handle, msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("transport: handler panic recovered: %v", r)
		}
	}()
	t.dispatch(peerAddr, handle, msg)
}

// Send writes data to the device via handle if present (TCP), else over
// the shared UDP socket to peerAddr.
func (t *Transport) Send(peerAddr net.Addr, handle Handle, data []byte) bool {
	if handle != nil {
		if err := handle.Write(data); err != nil {
			klog.Warningf("transport: send via tcp handle failed: %s", err)
			return false
		}
		return true
	}

	udpAddr, ok := peerAddr.(*net.UDPAddr)
	if !ok {
		klog.Warningf("transport: no tcp handle and peer addr is not a udp addr: %v", peerAddr)
		return false
	}
	if _, err := t.udpConn.WriteToUDP(data, udpAddr); err != nil {
		klog.Warningf("transport: send via udp failed: %s", err)
		return false
	}
	return true
}

// Close shuts down both listeners.
func (t *Transport) Close() error {
	if err := t.udpConn.Close(); err != nil {
		return fmt.Errorf("transport: close udp: %w", err)
	}
	if err := t.tcpListener.Close(); err != nil {
		return fmt.Errorf("transport: close tcp: %w", err)
	}
	return nil
}
