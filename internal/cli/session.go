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
	"strings"

	"github.com/spf13/cobra"
)

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Interact with an open run session",
	}
	cmd.AddCommand(newSessionInputCommand())
	cmd.AddCommand(newSessionEndCommand())
	cmd.AddCommand(newSessionResumeCommand())
	return cmd
}

func newSessionInputCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "input <run-id> [text]",
		Short: "Send input to an open interactive session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			if text == "" {
				text = readStdinPrompt()
			}
			resp, err := c.Post(cmd.Context(), "/v1/runs/"+args[0]+"/session/input", map[string]any{"text": text})
			if err != nil {
				return err
			}
			return emit(cmd, "session.input", resp, func() { fmt.Println("sent") })
		},
	}
}

func newSessionEndCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "end <run-id>",
		Short: "Close an open interactive session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Post(cmd.Context(), "/v1/runs/"+args[0]+"/session/end", nil)
			if err != nil {
				return err
			}
			return emit(cmd, "session.end", resp, func() { fmt.Println("closed") })
		},
	}
}

func newSessionResumeCommand() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Replay a session's buffered transcript, then optionally follow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Post(cmd.Context(), "/v1/runs/"+args[0]+"/session/resume", nil)
			if err != nil {
				return err
			}
			if err := emit(cmd, "session.resume", resp, func() {
				lines, _ := resp["lines"].([]any)
				for _, l := range lines {
					fmt.Println(l)
				}
			}); err != nil {
				return err
			}
			if follow {
				return followRunEvents(cmd.Context(), c, args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "Continue streaming live output after the replay")
	return cmd
}
