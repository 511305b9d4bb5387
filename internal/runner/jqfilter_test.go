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

package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/model"
)

func TestApplyJQFilterEmptyExpressionIsNoop(t *testing.T) {
	runs := []model.Run{{ID: "run-1", Provider: model.ProviderCodex}}
	out, err := applyJQFilter(context.Background(), "", runs)
	require.NoError(t, err)
	assert.Equal(t, runs, out)
}

func TestApplyJQFilterProjectsFields(t *testing.T) {
	runs := []model.Run{
		{ID: "run-1", Provider: model.ProviderCodex, Status: model.StatusCompleted},
		{ID: "run-2", Provider: model.ProviderClaude, Status: model.StatusFailed},
	}
	out, err := applyJQFilter(context.Background(), `[.[] | select(.status == "completed") | .id]`, runs)
	require.NoError(t, err)
	assert.Equal(t, []any{"run-1"}, out)
}

func TestApplyJQFilterRejectsInvalidExpression(t *testing.T) {
	_, err := applyJQFilter(context.Background(), "not valid jq (((", []model.Run{})
	assert.Error(t, err)
}
