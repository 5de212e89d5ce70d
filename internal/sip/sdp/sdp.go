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

// Package sdp builds and parses the fixed-shape SDP bodies exchanged in
// GB/T 28181 INVITE dialogs: a handful of rtpmap lines, one video media
// line, and for live/playback sessions a trailing y=<ssrc> line.
package sdp

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/gb28181/sipgw/internal/sipconst"
)

// BuildParams carries everything the builder needs to produce a session
// description for one INVITE.
type BuildParams struct {
	MediaServerIP   string
	MediaServerPort uint16
	GBCode          string
	SetupType       string // "" for UDP, "active"/"passive" for TCP
	SessionType     sipconst.SessionType
	StartTS         uint64
	StopTS          uint64
}

// Build renders the session description as a CRLF-terminated string
// ready to be used as a SIP message body.
func Build(p BuildParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "v=0\r\n")
	fmt.Fprintf(&b, "o=%s 0 0 IN IP4 %s\r\n", p.GBCode, p.MediaServerIP)
	fmt.Fprintf(&b, "s=%s\r\n", p.SessionType)
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", p.MediaServerIP)
	fmt.Fprintf(&b, "t=%d %d\r\n", p.StartTS, p.StopTS)

	if p.SetupType == "" {
		fmt.Fprintf(&b, "m=video %d RTP/AVP 96 97 98 99\r\n", p.MediaServerPort)
	} else {
		fmt.Fprintf(&b, "m=video %d TCP/RTP/AVP 96 97 98 99\r\n", p.MediaServerPort)
	}

	fmt.Fprintf(&b, "a=rtpmap:96 PS/90000\r\n")
	fmt.Fprintf(&b, "a=rtpmap:97 MPEG4/90000\r\n")
	fmt.Fprintf(&b, "a=rtpmap:98 H264/90000\r\n")
	fmt.Fprintf(&b, "a=rtpmap:99 H265/90000\r\n")
	fmt.Fprintf(&b, "a=recvonly\r\n")
	fmt.Fprintf(&b, "a=streamMode:MAIN\r\n")

	if p.SetupType != "" {
		fmt.Fprintf(&b, "a=setup:%s\r\n", p.SetupType)
		fmt.Fprintf(&b, "a=connection:new\r\n")
	}

	switch p.SessionType {
	case sipconst.SessionPlay:
		fmt.Fprintf(&b, "y=%s\r\n", ssrc("0", p.GBCode))
	case sipconst.SessionPlayback:
		fmt.Fprintf(&b, "y=%s\r\n", ssrc("1", p.GBCode))
	case sipconst.SessionDownload, sipconst.SessionTalk:
		// no y= trailer
	}

	return b.String()
}

// ssrc builds the ten-digit SSRC the device echoes back in its RTP
// stream: a fixed leading digit (0=Play, 1=Playback), characters 4..8 of
// the device's GB code, then a random zero-padded 4-digit suffix.
func ssrc(prefix, gbCode string) string {
	gbcorePart := "0000"
	if len(gbCode) >= 8 {
		gbcorePart = gbCode[4:8]
	}
	randomPart := rand.Intn(10000) //nolint:gosec // not security-sensitive, just wire-protocol disambiguation
	return fmt.Sprintf("%s%s%04d", prefix, gbcorePart, randomPart)
}

// Parsed is the subset of an SDP body the INVITE-response handler needs
// to confirm: the originating device's GB code, that the expected video
// codecs are present, and the SSRC the device will tag its RTP stream
// with, if the session carries a y= trailer.
type Parsed struct {
	GBCode    string
	MediaIP   string
	MediaPort uint16
	HasVideo  bool
	Codecs    []string
	SSRC      string
}

// Parse extracts the origin username and media line from an SDP body.
// It is deliberately tolerant: GB/T 28181 devices are not always strict
// about line order or optional whitespace.
func Parse(body string) (Parsed, error) {
	var p Parsed
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "o="):
			fields := strings.Fields(strings.TrimPrefix(line, "o="))
			if len(fields) > 0 {
				p.GBCode = fields[0]
			}
		case strings.HasPrefix(line, "m=video"):
			fields := strings.Fields(strings.TrimPrefix(line, "m=video "))
			if len(fields) >= 3 {
				p.HasVideo = true
				fmt.Sscanf(fields[0], "%d", &p.MediaPort) //nolint:errcheck
				p.Codecs = fields[2:]
			}
		case strings.HasPrefix(line, "c=IN IP4"):
			fields := strings.Fields(strings.TrimPrefix(line, "c=IN IP4"))
			if len(fields) > 0 {
				p.MediaIP = fields[0]
			}
		case strings.HasPrefix(line, "y="):
			p.SSRC = strings.TrimSpace(strings.TrimPrefix(line, "y="))
		}
	}
	if p.GBCode == "" {
		return Parsed{}, fmt.Errorf("sdp: missing origin line")
	}
	if !p.HasVideo {
		return Parsed{}, fmt.Errorf("sdp: missing video media line")
	}
	return p, nil
}
