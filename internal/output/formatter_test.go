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

package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultFormatterSelectsByMode(t *testing.T) {
	assert.IsType(t, &JSONFormatter{}, DefaultFormatter(true))
	assert.IsType(t, &TextFormatter{}, DefaultFormatter(false))
}

func TestJSONFormatterSetOutput(t *testing.T) {
	f := &JSONFormatter{}
	f.SetOutput(nil)
	assert.Nil(t, f.out)
}

func TestTextFormatterFormatSuccessIsNoop(t *testing.T) {
	f := &TextFormatter{}
	assert.NoError(t, f.FormatSuccess("runs.list", map[string]any{"a": 1}))
	assert.NoError(t, f.FormatError("runs.list", []JSONError{{Code: "IO_FAILURE", Message: "boom"}}))
}
