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
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomhq/agentrun/internal/client"
)

func newRunCommand() *cobra.Command {
	var (
		provider       string
		model          string
		mode           string
		cwd            string
		priority       int
		timeoutSeconds int
		maxRetries     int
		profileID      string
		conversationID string
		createSession  bool
		interactive    bool
		follow         bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Submit a run to an agent provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				prompt = readStdinPrompt()
			}

			runMode := mode
			if interactive {
				runMode = "interactive"
			}

			c, err := newClient()
			if err != nil {
				return err
			}

			resp, err := c.Post(cmd.Context(), "/v1/runs", map[string]any{
				"provider":        provider,
				"prompt":          prompt,
				"model":           model,
				"mode":            runMode,
				"cwd":             cwd,
				"queue_priority":  priority,
				"timeout_seconds": timeoutSeconds,
				"max_retries":     maxRetries,
				"profile_id":      profileID,
				"conversation_id": conversationID,
				"create_session":  createSession,
			})
			if err != nil {
				return err
			}

			if err := emit(cmd, "run", resp, func() {
				fmt.Printf("run_id: %v\n", resp["run_id"])
				if sid, ok := resp["session_id"]; ok {
					fmt.Printf("session_id: %v\n", sid)
				}
			}); err != nil {
				return err
			}

			if follow {
				runID, _ := resp["run_id"].(string)
				return followRunEvents(cmd.Context(), c, runID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "codex", "Agent provider (codex, claude)")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&mode, "mode", "non_interactive", "Run mode (non_interactive, interactive)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory the run executes in")
	cmd.Flags().IntVar(&priority, "priority", 0, "Scheduler queue priority")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Run timeout in seconds (0 = no timeout)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Max automatic retries on provider failure")
	cmd.Flags().StringVar(&profileID, "profile", "", "Saved profile ID to apply")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID to append this run to")
	cmd.Flags().BoolVar(&createSession, "session", false, "Create an interactive session for this run")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Shorthand for --mode interactive --session")
	cmd.Flags().BoolVar(&follow, "follow", false, "Stream run_event updates until the run finishes")

	return cmd
}

func readStdinPrompt() string {
	scanner := bufio.NewScanner(os.Stdin)
	var b strings.Builder
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage submitted runs",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsGetCommand())
	cmd.AddCommand(newRunsCancelCommand())
	cmd.AddCommand(newRunsRerunCommand())
	cmd.AddCommand(newRunsExportCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var provider, status, conversationID, jqQuery string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			path := "/v1/runs?provider=" + provider + "&status=" + status + "&conversation_id=" + conversationID
			if limit > 0 {
				path += fmt.Sprintf("&limit=%d", limit)
			}
			if jqQuery != "" {
				path += "&jq=" + url.QueryEscape(jqQuery)
			}
			resp, err := c.Get(cmd.Context(), path)
			if err != nil {
				return err
			}
			return emit(cmd, "runs.list", resp, func() {
				if jqQuery != "" {
					fmt.Printf("%v\n", resp["result"])
					return
				}
				runs, _ := resp["runs"].([]any)
				for _, r := range runs {
					m, _ := r.(map[string]any)
					fmt.Printf("%v\t%v\t%v\n", m["id"], m["provider"], m["status"])
				}
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Filter by conversation ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	cmd.Flags().StringVar(&jqQuery, "jq", "", "Filter/reshape results with a jq expression")
	return cmd
}

func newRunsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Get full detail for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Get(cmd.Context(), "/v1/runs/"+args[0])
			if err != nil {
				return err
			}
			return emit(cmd, "runs.get", resp, func() {
				fmt.Printf("status: %v\n", resp["status"])
			})
		},
	}
}

func newRunsCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a running or queued run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Post(cmd.Context(), "/v1/runs/"+args[0]+"/cancel", nil)
			if err != nil {
				return err
			}
			return emit(cmd, "runs.cancel", resp, func() {
				fmt.Println("canceled")
			})
		},
	}
}

func newRunsRerunCommand() *cobra.Command {
	var overridePrompt string

	cmd := &cobra.Command{
		Use:   "rerun <run-id>",
		Short: "Resubmit a run, optionally overriding fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			overrides := map[string]any{}
			if overridePrompt != "" {
				overrides["prompt"] = overridePrompt
			}
			resp, err := c.Post(cmd.Context(), "/v1/runs/"+args[0]+"/rerun", overrides)
			if err != nil {
				return err
			}
			return emit(cmd, "runs.rerun", resp, func() {
				fmt.Printf("run_id: %v\n", resp["run_id"])
			})
		},
	}
	cmd.Flags().StringVar(&overridePrompt, "prompt", "", "Override the prompt for the rerun")
	return cmd
}

func newRunsExportCommand() *cobra.Command {
	var format, jqQuery string

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a run's transcript to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			path := "/v1/runs/" + args[0] + "/export?format=" + format
			if jqQuery != "" {
				path += "&jq=" + url.QueryEscape(jqQuery)
			}
			resp, err := c.Get(cmd.Context(), path)
			if err != nil {
				return err
			}
			return emit(cmd, "runs.export", resp, func() {
				fmt.Printf("exported to: %v\n", resp["path"])
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "Export format (md, json)")
	cmd.Flags().StringVar(&jqQuery, "jq", "", "Filter/reshape the exported run+events with a jq expression")
	return cmd
}

// followRunEvents streams run_event updates for runID to stdout until the
// stream closes, used by --follow.
func followRunEvents(ctx context.Context, c *client.Client, runID string) error {
	resp, err := c.GetStream(ctx, "/v1/runs/events?run_id="+runID, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Println(strings.TrimPrefix(line, "data: "))
		}
	}
	return nil
}
