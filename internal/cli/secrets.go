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
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newProviderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage provider authentication tokens",
	}

	saveCmd := &cobra.Command{
		Use:   "save-token <provider>",
		Short: "Save an auth token for a provider, read from stdin or a terminal prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken()
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Post(cmd.Context(), "/v1/providers/"+args[0]+"/token", map[string]any{"token": token})
			if err != nil {
				return err
			}
			return emit(cmd, "provider.save_token", resp, func() { fmt.Println("saved") })
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear-token <provider>",
		Short: "Remove a provider's saved auth token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), "/v1/providers/"+args[0]+"/token"); err != nil {
				return err
			}
			return emit(cmd, "provider.clear_token", map[string]any{"cleared": true}, func() { fmt.Println("cleared") })
		},
	}

	hasCmd := &cobra.Command{
		Use:   "has-token <provider>",
		Short: "Report whether a provider has a saved auth token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Get(cmd.Context(), "/v1/providers/"+args[0]+"/token")
			if err != nil {
				return err
			}
			return emit(cmd, "provider.has_token", resp, func() {
				fmt.Printf("%v\n", resp["has_token"])
			})
		},
	}

	cmd.AddCommand(saveCmd, clearCmd, hasCmd)
	return cmd
}

func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("Token: ")
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return readStdinPrompt(), nil
}
