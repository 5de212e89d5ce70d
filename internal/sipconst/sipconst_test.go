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

package sipconst_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gb28181/sipgw/internal/sipconst"
)

func TestStatusCode_Reason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code sipconst.StatusCode
		want string
	}{
		{"trying", sipconst.StatusTrying, "Trying"},
		{"ok", sipconst.StatusOK, "OK"},
		{"unauthorized", sipconst.StatusUnauthorized, "Unauthorized"},
		{"not found", sipconst.StatusNotFound, "Not Found"},
		{"unknown", sipconst.StatusCode(599), "Unknown"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.code.Reason())
		})
	}
}

func TestMethod_StringValues(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "REGISTER", string(sipconst.REGISTER))
	assert.Equal(t, "INVITE", string(sipconst.INVITE))
	assert.Equal(t, "BYE", string(sipconst.BYE))
}
