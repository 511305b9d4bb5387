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

//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"strconv"
	"time"
)

const killWaitPeriod = 2 * time.Second

// terminateProcess kills the process tree via taskkill. Windows has no
// graceful-signal equivalent to SIGTERM for arbitrary child processes, so
// this escalates immediately; exited must be closed exactly once by the
// goroutine that owns cmd.Wait().
func terminateProcess(proc *os.Process, exited <-chan struct{}) {
	if proc == nil {
		return
	}
	_ = exec.Command("taskkill", "/PID", strconv.Itoa(proc.Pid), "/T", "/F").Run()

	select {
	case <-exited:
	case <-time.After(killWaitPeriod):
	}
}
