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

//go:build !windows

package supervisor

import (
	"os"
	"syscall"
	"time"
)

const (
	gracePeriod    = 1500 * time.Millisecond
	killWaitPeriod = 2 * time.Second
)

// terminateProcess sends SIGTERM, waits up to gracePeriod for exited to
// close, and escalates to SIGKILL if the process is still alive. exited must
// be closed exactly once by whatever goroutine owns cmd.Wait(); this
// function never reaps the process itself, to avoid a double-Wait race.
func terminateProcess(proc *os.Process, exited <-chan struct{}) {
	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)

	select {
	case <-exited:
		return
	case <-time.After(gracePeriod):
	}

	_ = proc.Signal(syscall.SIGKILL)
	select {
	case <-exited:
	case <-time.After(killWaitPeriod):
	}
}
