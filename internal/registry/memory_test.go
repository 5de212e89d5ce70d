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

package registry_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gb28181/sipgw/internal/config"
	"github.com/gb28181/sipgw/internal/registry"
)

type fakeHandle struct{}

func (fakeHandle) Write(_ []byte) error { return nil }

func newMemoryStore(t *testing.T) registry.Store {
	t.Helper()
	store, err := registry.MakeStore(&config.Config{})
	require.NoError(t, err)
	return store
}

func TestRegister_FirstTimeSucceedsSecondTimeFails(t *testing.T) {
	t.Parallel()
	store := newMemoryStore(t)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060}

	assert.True(t, store.Register("branch-1", "34020000001110000001", addr, fakeHandle{}))
	assert.False(t, store.Register("branch-2", "34020000001110000001", addr, fakeHandle{}))

	device, ok := store.FindDeviceByGBCode("34020000001110000001")
	require.True(t, ok)
	assert.Equal(t, "branch-1", device.Branch)
}

func TestUnregister_RemovesDevice(t *testing.T) {
	t.Parallel()
	store := newMemoryStore(t)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060}
	store.Register("branch-1", "34020000001110000001", addr, fakeHandle{})

	assert.True(t, store.Unregister("34020000001110000001"))
	assert.False(t, store.Unregister("34020000001110000001"))

	_, ok := store.FindDeviceByGBCode("34020000001110000001")
	assert.False(t, ok)
}

func TestInvite_UnknownDevice_Fails(t *testing.T) {
	t.Parallel()
	store := newMemoryStore(t)

	result, ok := store.Invite("34020000001110000001", "34020000001310000001", "call-1", "from-tag-1", true)
	assert.False(t, ok)
	assert.Nil(t, result)
}

func TestInviteThenBye_LastStreamSendsWireBye(t *testing.T) {
	t.Parallel()
	store := newMemoryStore(t)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060}
	store.Register("branch-1", "34020000001110000001", addr, fakeHandle{})

	result, ok := store.Invite("34020000001110000001", "34020000001310000001", "call-1", "from-tag-1", true)
	require.True(t, ok)
	require.NotNil(t, result)
	assert.False(t, result.AlreadyPlaying)

	streams := store.ListStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, result.StreamID, streams[0].StreamID)

	byeResult, ok := store.Bye("34020000001110000001", result.StreamID)
	require.True(t, ok)
	assert.True(t, byeResult.Success)

	assert.Empty(t, store.ListStreams())
}

func TestBye_UnknownStream_Fails(t *testing.T) {
	t.Parallel()
	store := newMemoryStore(t)

	result, ok := store.Bye("34020000001110000001", 999)
	assert.False(t, ok)
	assert.Nil(t, result)
}

func TestListDevices_ReflectsDeviceInfo(t *testing.T) {
	t.Parallel()
	store := newMemoryStore(t)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060}
	store.Register("branch-1", "34020000001110000001", addr, fakeHandle{})
	store.SetDeviceInfo("34020000001110000001", "Acme", "Camera-1", "v1.0.0")
	store.AppendSubDevices("34020000001110000001", []registry.CatalogDevice{
		{GBCode: "34020000001320000001", Name: "Channel 1", Status: "ON"},
	})

	devices := store.ListDevices()
	require.Len(t, devices, 1)
	assert.Equal(t, "Acme", devices[0].Manufacturer)
	assert.Len(t, devices[0].SubDevices, 1)
}
