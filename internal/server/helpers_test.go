// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/apperr"
)

func TestWriteAppErrorMapsKindsToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.CLIInvalid("bad flag"), 400},
		{apperr.PolicyDenied("not granted"), 403},
		{apperr.NotFound("run %s", "r1"), 404},
		{apperr.IOFailure(assertNewErr(), "writing"), 500},
		{apperr.Internal(assertNewErr(), "boom"), 500},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeAppError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code)
	}
}

func assertNewErr() error {
	return &testError{"wrapped"}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestDecodeJSONEmptyBodyIsNoop(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	var v map[string]any
	require.NoError(t, decodeJSON(req, &v))
}

func TestDecodeJSONParsesBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"a":1}`))
	req.ContentLength = int64(len(`{"a":1}`))
	var v map[string]any
	require.NoError(t, decodeJSON(req, &v))
	assert.Equal(t, float64(1), v["a"])
}
