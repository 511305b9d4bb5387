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
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	jqFilterTimeout      = 1 * time.Second
	jqFilterMaxInputSize = 10 * 1024 * 1024
)

// applyJQFilter runs expression against data and returns the transformed
// result, mirroring the teacher's jq transform executor: data is marshaled
// to JSON and decoded back into the generic map/slice/scalar shapes gojq
// operates on, the query runs under a bounded timeout, and multiple emitted
// values collapse to an array (a single value returns unwrapped). An empty
// expression is a no-op that returns data as-is.
func applyJQFilter(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return data, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling data for jq: %w", err)
	}
	if len(raw) > jqFilterMaxInputSize {
		return nil, fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)", len(raw), jqFilterMaxInputSize)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decoding data for jq: %w", err)
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compile error: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, jqFilterTimeout)
	defer cancel()

	resultChan := make(chan any, 1)
	errorChan := make(chan error, 1)
	go func() {
		iter := code.Run(generic)
		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errorChan <- err
				return
			}
			results = append(results, v)
		}
		switch len(results) {
		case 0:
			resultChan <- nil
		case 1:
			resultChan <- results[0]
		default:
			resultChan <- results
		}
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		return nil, err
	case <-execCtx.Done():
		return nil, fmt.Errorf("jq execution timeout after %v", jqFilterTimeout)
	}
}
