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

package handlers_test

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gb28181/sipgw/internal/config"
	"github.com/gb28181/sipgw/internal/metrics"
	"github.com/gb28181/sipgw/internal/registry"
	"github.com/gb28181/sipgw/internal/sip/auth"
	"github.com/gb28181/sipgw/internal/sip/codec"
	"github.com/gb28181/sipgw/internal/sip/handlers"
	"github.com/gb28181/sipgw/internal/sip/transport"
	"github.com/gb28181/sipgw/internal/sipconst"
)

const (
	testDomain   = "3402000000"
	testSIPID    = "34020000002000000001"
	testPassword = "d383cf85b0e8ce0b"
	testNonce    = "f89d0eaccaf1c90453e2f84688ec800f05"
	testRealm    = "gbt@future_oriented.com"
	testDevice   = "34020000001320000001"
	testChannel  = "34020000001320000002"
)

func testSIPConfig() *config.SIP {
	return &config.SIP{
		Host:     "0.0.0.0",
		Port:     5060,
		MyIP:     "127.0.0.1",
		Domain:   testDomain,
		ID:       testSIPID,
		Password: testPassword,
		Nonce:    testNonce,
		Realm:    testRealm,
	}
}

// recordedSend captures one call to fakeSender.Send.
type recordedSend struct {
	peerAddr net.Addr
	handle   transport.Handle
	msg      *codec.Message
}

// fakeSender records every outbound send instead of touching a socket.
type fakeSender struct {
	mu   sync.Mutex
	sent []recordedSend
}

func (f *fakeSender) Send(peerAddr net.Addr, handle transport.Handle, data []byte) bool {
	msg, err := codec.Parse(data)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedSend{peerAddr: peerAddr, handle: handle, msg: msg})
	return true
}

func (f *fakeSender) last() *codec.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1].msg
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeMedia is a stubbed media-port allocator returning a fixed address.
type fakeMedia struct {
	mu       sync.Mutex
	bindIP   string
	bindPort uint16
	freed    int
}

func (f *fakeMedia) BindStreamPort(_ context.Context, _ string, _ uint32, _ string) (string, uint16, error) {
	return f.bindIP, f.bindPort, nil
}

func (f *fakeMedia) FreeStreamPort(_ context.Context, _ string, _ uint32, _ string, _ uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freed++
	return nil
}

func newTestUDPAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("192.0.2.10"), Port: 5060}
}

func newHarness(t *testing.T) (*handlers.Handler, *fakeSender, *fakeMedia, registry.Store) {
	t.Helper()
	store, err := registry.MakeStore(&config.Config{StoreEngine: config.StoreDriverMemory})
	require.NoError(t, err)

	sender := &fakeSender{}
	media := &fakeMedia{bindIP: "10.0.0.1", bindPort: 20000}
	h := handlers.New(testSIPConfig(), store, sender, media, nil)
	return h, sender, media, store
}

func registerRequest(withAuth bool) *codec.Message {
	req := &codec.Message{
		Method:     sipconst.REGISTER,
		RequestURI: "sip:" + testSIPID + "@" + testDomain,
		Headers: []codec.Header{
			{Name: "Via", Value: "SIP/2.0/UDP 192.0.2.10:5060;rport;branch=z9hG4bK000001"},
			{Name: "From", Value: "<sip:" + testDevice + "@" + testDomain + ">;tag=fromtag01"},
			{Name: "To", Value: "<sip:" + testSIPID + "@" + testDomain + ">"},
			{Name: "Call-ID", Value: "call-register-1@192.0.2.10:5060"},
			{Name: "CSeq", Value: "1 REGISTER"},
			{Name: "Expires", Value: "3600"},
		},
	}
	if withAuth {
		resp := auth.Compute(auth.Challenge{
			Username: testDevice,
			Password: testPassword,
			Realm:    testRealm,
			Nonce:    testNonce,
			Method:   "REGISTER",
			URI:      req.RequestURI,
		})
		req.Headers = append(req.Headers, codec.Header{
			Name: "Authorization",
			Value: `Digest username="` + testDevice + `", realm="` + testRealm + `", nonce="` + testNonce +
				`", uri="` + req.RequestURI + `", response="` + resp + `", algorithm=MD5`,
		})
	}
	return req
}

// Scenario 1: Register challenge/accept (SPEC_FULL.md §8.1).
func TestRegisterChallengeThenAccept(t *testing.T) {
	h, sender, _, store := newHarness(t)
	peer := newTestUDPAddr()

	h.Dispatch(peer, nil, registerRequest(false).Serialize())
	require.Equal(t, 1, sender.count())
	challenge := sender.last()
	assert.True(t, challenge.IsResponse)
	assert.Equal(t, sipconst.StatusUnauthorized, challenge.StatusCode)
	www, ok := challenge.Get("WWW-Authenticate")
	require.True(t, ok)
	assert.Contains(t, www, testNonce)
	assert.Contains(t, www, testRealm)

	_, stillRegistered := store.FindDeviceByGBCode(testDevice)
	assert.False(t, stillRegistered)

	h.Dispatch(peer, nil, registerRequest(true).Serialize())
	require.Equal(t, 3, sender.count(), "expect 200 OK plus a follow-up DeviceStatus MESSAGE")

	device, ok := store.FindDeviceByGBCode(testDevice)
	require.True(t, ok)
	assert.Equal(t, testDevice, device.GBCode)

	statusQuery := sender.last()
	assert.Equal(t, sipconst.MESSAGE, statusQuery.Method)
	assert.Contains(t, statusQuery.RequestURI, testDevice)
}

// Scenario 2: Keepalive updates liveness (SPEC_FULL.md §8.2).
func TestKeepaliveMergesGlobalSN(t *testing.T) {
	h, sender, _, store := newHarness(t)
	peer := newTestUDPAddr()

	h.Dispatch(peer, nil, registerRequest(true).Serialize())
	sender.mu.Lock()
	sender.sent = nil
	sender.mu.Unlock()

	body := `<Notify><CmdType>Keepalive</CmdType><SN>5</SN><DeviceID>` + testDevice +
		`</DeviceID><Status>OK</Status></Notify>`
	encoded, err := codec.EncodeBody(body)
	require.NoError(t, err)

	req := &codec.Message{
		Method:     sipconst.MESSAGE,
		RequestURI: "sip:" + testSIPID + "@" + testDomain,
		Headers: []codec.Header{
			{Name: "Via", Value: "SIP/2.0/UDP 192.0.2.10:5060;rport;branch=z9hG4bK000002"},
			{Name: "From", Value: "<sip:" + testDevice + "@" + testDomain + ">;tag=fromtag01"},
			{Name: "To", Value: "<sip:" + testSIPID + "@" + testDomain + ">"},
			{Name: "Call-ID", Value: "call-keepalive-1@192.0.2.10:5060"},
			{Name: "CSeq", Value: "2 MESSAGE"},
			{Name: "Content-Type", Value: sipconst.ContentTypeMANSCDP},
		},
		Body: encoded,
	}

	h.Dispatch(peer, nil, req.Serialize())

	require.Equal(t, 1, sender.count())
	resp := sender.last()
	assert.True(t, resp.IsResponse)
	assert.Equal(t, sipconst.StatusOK, resp.StatusCode)

	assert.Equal(t, uint32(6), store.AddFetchGlobalSN(), "global_sn floor should have been raised to 5")

	device, ok := store.FindDeviceByGBCode(testDevice)
	require.True(t, ok)
	assert.Greater(t, device.LastSeenTS, int64(0))
}

// Scenario 3: Live start (SPEC_FULL.md §8.3).
func TestStartSessionSendsInvite(t *testing.T) {
	h, sender, media, _ := newHarness(t)
	peer := newTestUDPAddr()

	h.Dispatch(peer, nil, registerRequest(true).Serialize())
	sender.mu.Lock()
	sender.sent = nil
	sender.mu.Unlock()

	streamID, alreadyPlaying, err := h.StartSession(context.Background(), handlers.StartSessionParams{
		GBCode:      testDevice,
		ChannelID:   testChannel,
		SetupType:   "",
		SessionType: sipconst.SessionPlay,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), streamID)
	assert.False(t, alreadyPlaying)
	assert.Equal(t, "10.0.0.1", media.bindIP)

	require.Equal(t, 1, sender.count())
	invite := sender.last()
	assert.Equal(t, sipconst.INVITE, invite.Method)
	assert.Contains(t, invite.RequestURI, testDevice)
	assert.Contains(t, string(invite.Body), "m=video 20000 RTP/AVP 96 97 98 99")
	assert.Contains(t, string(invite.Body), "a=recvonly")

	idx := strings.Index(string(invite.Body), "y=0")
	require.GreaterOrEqual(t, idx, 0, "expected a y=0... SSRC trailer for a Play session")
	ssrcLine := string(invite.Body)[idx:]
	ssrcLine = strings.SplitN(ssrcLine, "\r\n", 2)[0]
	assert.Equal(t, "y=0", ssrcLine[:3])
	assert.Len(t, ssrcLine, len("y=0")+8, "prefix digit + 4 gb-code chars + 4-digit random suffix")
}

// buildInviteOK synthesizes a 200 OK to the last INVITE sender recorded,
// carrying a fixed To-tag per SPEC_FULL.md §8.4.
func buildInviteOK(invite *codec.Message, toTag string) *codec.Message {
	from, _ := invite.Get("From")
	to, _ := invite.Get("To")
	callID, _ := invite.Get("Call-ID")
	cseq, _ := invite.Get("CSeq")
	via, _ := invite.Get("Via")

	return &codec.Message{
		IsResponse: true,
		StatusCode: sipconst.StatusOK,
		Reason:     "OK",
		Headers: []codec.Header{
			{Name: "Via", Value: via},
			{Name: "From", Value: from},
			{Name: "To", Value: to + ";tag=" + toTag},
			{Name: "Call-ID", Value: callID},
			{Name: "CSeq", Value: cseq},
			{Name: "Contact", Value: "<sip:" + testDevice + "@192.0.2.10:5060>"},
		},
	}
}

// Scenario 4: INVITE ACK (SPEC_FULL.md §8.4).
func TestInviteOKTriggersACK(t *testing.T) {
	h, sender, _, store := newHarness(t)
	peer := newTestUDPAddr()

	h.Dispatch(peer, nil, registerRequest(true).Serialize())
	_, _, err := h.StartSession(context.Background(), handlers.StartSessionParams{
		GBCode:      testDevice,
		ChannelID:   testChannel,
		SessionType: sipconst.SessionPlay,
	})
	require.NoError(t, err)

	invite := sender.last()
	require.Equal(t, sipconst.INVITE, invite.Method)

	okResp := buildInviteOK(invite, "abcdef0123")
	h.Dispatch(peer, nil, okResp.Serialize())

	ack := sender.last()
	assert.Equal(t, sipconst.ACK, ack.Method)
	callID, _ := ack.Get("Call-ID")
	inviteCallID, _ := invite.Get("Call-ID")
	assert.Equal(t, inviteCallID, callID)
	to, _ := ack.Get("To")
	assert.Contains(t, to, "abcdef0123")
	from, _ := ack.Get("From")
	inviteFrom, _ := invite.Get("From")
	assert.Equal(t, inviteFrom, from)

	streams := store.ListStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, "abcdef0123", streams[0].ToTag)
}

// Scenario 5: Second subscriber does not re-INVITE (SPEC_FULL.md §8.5).
func TestSecondSubscriberSharesReverseIndex(t *testing.T) {
	h, sender, _, store := newHarness(t)
	peer := newTestUDPAddr()
	h.Dispatch(peer, nil, registerRequest(true).Serialize())

	streamID1, alreadyPlaying1, err := h.StartSession(context.Background(), handlers.StartSessionParams{
		GBCode:      testDevice,
		ChannelID:   testChannel,
		SessionType: sipconst.SessionPlay,
	})
	require.NoError(t, err)
	assert.False(t, alreadyPlaying1)
	assert.Equal(t, uint32(1), streamID1)

	streamID2, alreadyPlaying2, err := h.StartSession(context.Background(), handlers.StartSessionParams{
		GBCode:      testDevice,
		ChannelID:   testChannel,
		SessionType: sipconst.SessionPlay,
	})
	require.NoError(t, err)
	assert.True(t, alreadyPlaying2)
	assert.Equal(t, uint32(2), streamID2)

	streams := store.ListStreams()
	assert.Len(t, streams, 2)
	assert.GreaterOrEqual(t, sender.count(), 2, "current behavior still sends a fresh INVITE per subscriber")
}

// Scenario 6: Stop (SPEC_FULL.md §8.6).
func TestStopSessionOnlySendsByeWhenLastStream(t *testing.T) {
	h, sender, media, _ := newHarness(t)
	peer := newTestUDPAddr()
	h.Dispatch(peer, nil, registerRequest(true).Serialize())

	streamID1, _, err := h.StartSession(context.Background(), handlers.StartSessionParams{
		GBCode:      testDevice,
		ChannelID:   testChannel,
		SessionType: sipconst.SessionPlay,
	})
	require.NoError(t, err)
	streamID2, _, err := h.StartSession(context.Background(), handlers.StartSessionParams{
		GBCode:      testDevice,
		ChannelID:   testChannel,
		SessionType: sipconst.SessionPlay,
	})
	require.NoError(t, err)

	sender.mu.Lock()
	sender.sent = nil
	sender.mu.Unlock()

	require.NoError(t, h.StopSession(context.Background(), testDevice, streamID1))
	assert.Equal(t, 0, sender.count(), "another stream is still active, no wire BYE expected")
	assert.Equal(t, 1, media.freed)

	require.NoError(t, h.StopSession(context.Background(), testDevice, streamID2))
	require.Equal(t, 1, sender.count(), "last stream for the device: expect a wire BYE")
	bye := sender.last()
	assert.Equal(t, sipconst.BYE, bye.Method)
	assert.Equal(t, 2, media.freed)
}

// Boundary: StopSession on an unknown stream returns ErrStreamNotFound.
func TestStopSessionUnknownStream(t *testing.T) {
	h, _, _, _ := newHarness(t)
	err := h.StopSession(context.Background(), testDevice, 999)
	assert.ErrorIs(t, err, handlers.ErrStreamNotFound)
}

// Metrics wiring: a bad digest increments DigestFailuresTotal; an accepted
// REGISTER increments RegistrationsTotal{result="accepted"}.
func TestRegisterWiresMetrics(t *testing.T) {
	store, err := registry.MakeStore(&config.Config{StoreEngine: config.StoreDriverMemory})
	require.NoError(t, err)
	m := metrics.NewMetrics()
	sender := &fakeSender{}
	media := &fakeMedia{bindIP: "10.0.0.1", bindPort: 20000}
	h := handlers.New(testSIPConfig(), store, sender, media, m)
	peer := newTestUDPAddr()

	badAuth := registerRequest(true)
	for i, hdr := range badAuth.Headers {
		if hdr.Name == "Authorization" {
			badAuth.Headers[i].Value = strings.Replace(hdr.Value, `response="`, `response="00`, 1)
		}
	}
	h.Dispatch(peer, nil, badAuth.Serialize())
	assert.InDelta(t, float64(1), testutil.ToFloat64(m.DigestFailuresTotal), 0)

	h.Dispatch(peer, nil, registerRequest(true).Serialize())
	assert.InDelta(t, float64(1), testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues("accepted")), 0)
}

// Boundary: StartSession against an unregistered device returns
// ErrDeviceNotFound and touches neither the stream map nor the sender.
func TestStartSessionUnknownDevice(t *testing.T) {
	h, sender, _, store := newHarness(t)
	_, _, err := h.StartSession(context.Background(), handlers.StartSessionParams{
		GBCode:      "34020000009999999999",
		ChannelID:   testChannel,
		SessionType: sipconst.SessionPlay,
	})
	assert.ErrorIs(t, err, handlers.ErrDeviceNotFound)
	assert.Equal(t, 0, sender.count())
	assert.Empty(t, store.ListStreams())
}
