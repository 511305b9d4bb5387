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

func newProfilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage saved run profiles",
	}

	var listProvider string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Get(cmd.Context(), "/v1/profiles?provider="+listProvider)
			if err != nil {
				return err
			}
			return emit(cmd, "profiles.list", resp, func() {
				profiles, _ := resp["profiles"].([]any)
				for _, p := range profiles {
					m, _ := p.(map[string]any)
					fmt.Printf("%v\t%v\t%v\n", m["id"], m["name"], m["provider"])
				}
			})
		},
	}
	listCmd.Flags().StringVar(&listProvider, "provider", "", "Filter by provider")

	var saveProvider string
	saveCmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save a new profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Post(cmd.Context(), "/v1/profiles", map[string]any{
				"name":     args[0],
				"provider": saveProvider,
				"config":   map[string]any{},
			})
			if err != nil {
				return err
			}
			return emit(cmd, "profiles.save", resp, func() {
				fmt.Printf("saved profile %v\n", resp["id"])
			})
		},
	}
	saveCmd.Flags().StringVar(&saveProvider, "provider", "codex", "Provider this profile applies to")

	cmd.AddCommand(listCmd, saveCmd)
	return cmd
}

func newCapabilitiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Inspect detected provider CLI capabilities",
	}

	var listProvider string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached capability snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Get(cmd.Context(), "/v1/capabilities?provider="+listProvider)
			if err != nil {
				return err
			}
			return emit(cmd, "capabilities.list", resp, func() {
				snaps, _ := resp["capabilities"].([]any)
				for _, s := range snaps {
					m, _ := s.(map[string]any)
					fmt.Printf("%v\t%v\n", m["provider"], m["cli_version"])
				}
			})
		},
	}
	listCmd.Flags().StringVar(&listProvider, "provider", "", "Filter by provider")

	refreshCmd := &cobra.Command{
		Use:   "refresh <provider>",
		Short: "Re-probe a provider CLI's version and capability profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Post(cmd.Context(), "/v1/capabilities/refresh", map[string]any{"provider": args[0]})
			if err != nil {
				return err
			}
			return emit(cmd, "capabilities.refresh", resp, func() {
				fmt.Printf("%v: %v\n", resp["provider"], resp["cli_version"])
			})
		},
	}

	cmd.AddCommand(listCmd, refreshCmd)
	return cmd
}

func newQueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List jobs waiting in the scheduler queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Get(cmd.Context(), "/v1/queue")
			if err != nil {
				return err
			}
			return emit(cmd, "queue.list", resp, func() {
				jobs, _ := resp["jobs"].([]any)
				for _, j := range jobs {
					m, _ := j.(map[string]any)
					fmt.Printf("%v\t%v\tpriority=%v\n", m["run_id"], m["state"], m["priority"])
				}
			})
		},
	}
}

func newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "View or update daemon settings",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Get(cmd.Context(), "/v1/settings")
			if err != nil {
				return err
			}
			return emit(cmd, "settings.get", resp, func() {
				for k, v := range resp {
					fmt.Printf("%s: %v\n", k, v)
				}
			})
		},
	}

	var retentionDays, maxStorageMB, globalLimit, providerLimit, maxQueue int
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update settings (only flags explicitly set are applied)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			current, err := c.Get(cmd.Context(), "/v1/settings")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retention-days") {
				current["retention_days"] = retentionDays
			}
			if cmd.Flags().Changed("max-storage-mb") {
				current["max_storage_mb"] = maxStorageMB
			}
			if cmd.Flags().Changed("global-limit") {
				current["global_concurrency_limit"] = globalLimit
			}
			if cmd.Flags().Changed("provider-limit") {
				current["per_provider_concurrency_limit"] = providerLimit
			}
			if cmd.Flags().Changed("max-queue") {
				current["max_queue_size"] = maxQueue
			}
			resp, err := c.Put(cmd.Context(), "/v1/settings", current)
			if err != nil {
				return err
			}
			return emit(cmd, "settings.set", resp, func() { fmt.Println("updated") })
		},
	}
	setCmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Days to retain terminal runs")
	setCmd.Flags().IntVar(&maxStorageMB, "max-storage-mb", 0, "Max database size in MB before pruning")
	setCmd.Flags().IntVar(&globalLimit, "global-limit", 0, "Max concurrent runs across all providers")
	setCmd.Flags().IntVar(&providerLimit, "provider-limit", 0, "Max concurrent runs per provider")
	setCmd.Flags().IntVar(&maxQueue, "max-queue", 0, "Max queued runs")

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

func newWorkspaceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage directory grants runs are allowed to execute in",
	}

	var activeOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workspace grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Get(cmd.Context(), fmt.Sprintf("/v1/workspace-grants?active_only=%v", activeOnly))
			if err != nil {
				return err
			}
			return emit(cmd, "workspace.list", resp, func() {
				grants, _ := resp["grants"].([]any)
				for _, g := range grants {
					m, _ := g.(map[string]any)
					fmt.Printf("%v\t%v\n", m["id"], m["path"])
				}
			})
		},
	}
	listCmd.Flags().BoolVar(&activeOnly, "active-only", true, "Only show ungranted grants")

	var grantedBy string
	grantCmd := &cobra.Command{
		Use:   "grant <path>",
		Short: "Authorize a directory subtree for run execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Post(cmd.Context(), "/v1/workspace-grants", map[string]any{
				"path":       args[0],
				"granted_by": grantedBy,
			})
			if err != nil {
				return err
			}
			return emit(cmd, "workspace.grant", resp, func() {
				fmt.Printf("granted %v\n", resp["path"])
			})
		},
	}
	grantCmd.Flags().StringVar(&grantedBy, "by", "cli", "Identity recorded as the grantor")

	cmd.AddCommand(listCmd, grantCmd)
	return cmd
}
