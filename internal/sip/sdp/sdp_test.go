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

package sdp_test

import (
	"strings"
	"testing"

	"github.com/gb28181/sipgw/internal/sip/sdp"
	"github.com/gb28181/sipgw/internal/sipconst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlayHasSSRCTrailer(t *testing.T) {
	body := sdp.Build(sdp.BuildParams{
		MediaServerIP:   "192.0.2.10",
		MediaServerPort: 30000,
		GBCode:          "34020000001320000001",
		SessionType:     sipconst.SessionPlay,
	})

	assert.True(t, strings.HasSuffix(body, "\r\n"))
	lines := strings.Split(body, "\r\n")
	last := lines[len(lines)-2]
	assert.True(t, strings.HasPrefix(last, "y=0132"))
	assert.Len(t, strings.TrimPrefix(last, "y="), 10)
}

func TestBuildPlaybackUsesDifferentPrefix(t *testing.T) {
	body := sdp.Build(sdp.BuildParams{
		MediaServerIP:   "192.0.2.10",
		MediaServerPort: 30000,
		GBCode:          "34020000001320000001",
		SessionType:     sipconst.SessionPlayback,
	})
	assert.Contains(t, body, "y=1132")
}

func TestBuildDownloadHasNoSSRCTrailer(t *testing.T) {
	body := sdp.Build(sdp.BuildParams{
		MediaServerIP: "192.0.2.10",
		GBCode:        "34020000001320000001",
		SessionType:   sipconst.SessionDownload,
	})
	assert.False(t, strings.Contains(body, "y="))
}

func TestBuildTCPSetupAddsAttributes(t *testing.T) {
	body := sdp.Build(sdp.BuildParams{
		MediaServerIP:   "192.0.2.10",
		MediaServerPort: 30000,
		GBCode:          "34020000001320000001",
		SetupType:       "passive",
		SessionType:     sipconst.SessionTalk,
	})
	assert.Contains(t, body, "m=video 30000 TCP/RTP/AVP 96 97 98 99")
	assert.Contains(t, body, "a=setup:passive")
	assert.Contains(t, body, "a=connection:new")
}

func TestParseRoundTrip(t *testing.T) {
	body := sdp.Build(sdp.BuildParams{
		MediaServerIP:   "192.0.2.10",
		MediaServerPort: 30000,
		GBCode:          "34020000001320000001",
		SessionType:     sipconst.SessionPlay,
	})

	parsed, err := sdp.Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "34020000001320000001", parsed.GBCode)
	assert.Equal(t, "192.0.2.10", parsed.MediaIP)
	assert.EqualValues(t, 30000, parsed.MediaPort)
	assert.True(t, parsed.HasVideo)
	assert.Equal(t, []string{"96", "97", "98", "99"}, parsed.Codecs)
	require.True(t, strings.HasPrefix(parsed.SSRC, "0132"))
	assert.Len(t, parsed.SSRC, 10)
}

func TestParseRoundTripPlaybackSSRC(t *testing.T) {
	body := sdp.Build(sdp.BuildParams{
		MediaServerIP:   "192.0.2.10",
		MediaServerPort: 30000,
		GBCode:          "34020000001320000001",
		SessionType:     sipconst.SessionPlayback,
	})

	parsed, err := sdp.Parse(body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(parsed.SSRC, "1132"))
	assert.Len(t, parsed.SSRC, 10)
}

func TestParseRejectsMissingMediaLine(t *testing.T) {
	_, err := sdp.Parse("v=0\r\no=34020000001320000001 0 0 IN IP4 192.0.2.10\r\n")
	assert.Error(t, err)
}
