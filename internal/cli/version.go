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

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentrunctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return emit(cmd, "version", map[string]string{
				"version":    version,
				"commit":     commit,
				"build_date": buildDate,
			}, func() {
				fmt.Printf("agentrun %s (commit: %s, built: %s)\n", version, commit, buildDate)
			})
		},
	}
}
