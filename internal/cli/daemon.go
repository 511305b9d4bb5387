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
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomhq/agentrun/internal/client"
	"github.com/fathomhq/agentrun/internal/lifecycle"
	"github.com/fathomhq/agentrun/internal/xdgpaths"
)

func newDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start, stop, and inspect the agentrund daemon",
	}
	cmd.AddCommand(newDaemonStartCommand())
	cmd.AddCommand(newDaemonStopCommand())
	cmd.AddCommand(newDaemonStatusCommand())
	return cmd
}

func newDaemonStartCommand() *cobra.Command {
	var foreground bool
	var socketPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if foreground {
				bin, err := exec.LookPath("agentrund")
				if err != nil {
					return fmt.Errorf("agentrund not found in PATH: %w", err)
				}
				args := []string{}
				if socketPath != "" {
					args = append(args, "--socket", socketPath)
				}
				proc := exec.Command(bin, args...)
				proc.Stdout = os.Stdout
				proc.Stderr = os.Stderr
				proc.Stdin = os.Stdin
				return proc.Run()
			}
			return client.StartDaemon(client.AutoStartConfig{
				Enabled:      true,
				SocketPath:   socketPath,
				StartTimeout: 10 * time.Second,
			})
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run the daemon in the foreground instead of detaching")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Unix socket path override")
	return cmd
}

func newDaemonStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := xdgpaths.PIDFilePath()
			if err != nil {
				return err
			}
			mgr := lifecycle.NewPIDFileManager(pidPath)
			pid, err := mgr.Read()
			if err != nil {
				return fmt.Errorf("daemon is not running: %w", err)
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal daemon (pid %d): %w", pid, err)
			}
			fmt.Printf("stopped daemon (pid %d)\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running and healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.FromEnvironment()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			health, err := c.Health(ctx)
			if err != nil {
				return emit(cmd, "daemon.status", map[string]any{"running": false}, func() {
					fmt.Println("daemon is not running")
				})
			}
			return emit(cmd, "daemon.status", health, func() {
				fmt.Printf("status: %s, uptime: %s\n", health.Status, health.Uptime)
			})
		},
	}
}
