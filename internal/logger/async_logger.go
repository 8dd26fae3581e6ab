// Copyright 2025 Google LLC
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

package logger

import (
	"fmt"
	"io"
	"os"
)

// AsyncLogger decouples log writers from the (possibly slow, rotating)
// underlying file: Write enqueues a copy of p onto a buffered channel and
// returns immediately, while a single goroutine drains it in order. A full
// buffer drops the message rather than block the caller, since a stalled
// disk must never stall sync/scrub progress.
type AsyncLogger struct {
	dest io.WriteCloser
	msgs chan []byte
	done chan struct{}
}

// NewAsyncLogger starts the drain goroutine and returns the logger. Close
// must be called to flush pending messages and release dest.
func NewAsyncLogger(dest io.WriteCloser, bufferSize int) *AsyncLogger {
	a := &AsyncLogger{
		dest: dest,
		msgs: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	defer close(a.done)
	for msg := range a.msgs {
		if _, err := a.dest.Write(msg); err != nil {
			fmt.Fprintf(os.Stderr, "asynclogger: write failed: %v\n", err)
		}
	}
}

// Write copies p (the caller's buffer may be reused after Write returns)
// and enqueues it for the drain goroutine.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.msgs <- cp:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close stops accepting new messages, waits for the drain goroutine to
// flush everything already queued, then closes dest.
func (a *AsyncLogger) Close() error {
	close(a.msgs)
	<-a.done
	return a.dest.Close()
}
