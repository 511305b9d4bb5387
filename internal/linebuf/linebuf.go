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

// Package linebuf assembles raw byte chunks from a child process's stdout
// or stderr into complete lines, with a bounded tail so a runaway process
// emitting unterminated output cannot grow memory without limit.
package linebuf

import "strings"

// LineBuffer splits an incoming byte stream into lines on \n, \r, or \r\n.
type LineBuffer struct {
	buf             strings.Builder
	maxBufferBytes  int
	overflowedBytes int
}

// New constructs a LineBuffer. A nil/zero maxBufferBytes disables the cap.
func New(maxBufferBytes int) *LineBuffer {
	return &LineBuffer{maxBufferBytes: maxBufferBytes}
}

// Push appends chunk to the buffer and returns any complete lines it now
// contains. Separators are consumed; \r\n counts as a single separator.
func (b *LineBuffer) Push(chunk string) []string {
	b.buf.WriteString(chunk)

	current := b.buf.String()
	if b.maxBufferBytes > 0 && len(current) > b.maxBufferBytes {
		excess := len(current) - b.maxBufferBytes
		b.overflowedBytes += excess
		current = current[excess:]
	}

	var lines []string
	for {
		nl := strings.IndexByte(current, '\n')
		cr := strings.IndexByte(current, '\r')

		idx := -1
		sepLen := 1
		switch {
		case nl == -1 && cr == -1:
			idx = -1
		case nl == -1:
			idx, sepLen = cr, 1
		case cr == -1:
			idx, sepLen = nl, 1
		case cr < nl:
			idx = cr
			if nl == cr+1 {
				sepLen = 2
			} else {
				sepLen = 1
			}
		default: // nl < cr
			idx, sepLen = nl, 1
		}

		if idx == -1 {
			break
		}

		lines = append(lines, current[:idx])
		current = current[idx+sepLen:]
	}

	b.buf.Reset()
	b.buf.WriteString(current)

	return lines
}

// Flush returns and clears any remaining partial line.
func (b *LineBuffer) Flush() string {
	tail := b.buf.String()
	b.buf.Reset()
	return tail
}

// ConsumeOverflowedBytes returns and resets the overflow counter.
func (b *LineBuffer) ConsumeOverflowedBytes() int {
	n := b.overflowedBytes
	b.overflowedBytes = 0
	return n
}
