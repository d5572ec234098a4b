// Copyright 2025 Ziya Authors
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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// heartbeatInterval is the number of data frames between injected
// heartbeats. Long tool executions keep the connection alive through
// proxies that reap idle streams.
const heartbeatInterval = 10

// framer writes server-sent events. Every frame is one complete JSON
// document on a single data: line; payloads are never split across
// frames.
type framer struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	sinceBeat int
}

// newFramer negotiates the SSE response. A ResponseWriter that cannot
// flush cannot stream.
func newFramer(w http.ResponseWriter) (*framer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &framer{w: w, flusher: flusher}, nil
}

// send writes one event frame. Returns false when the client is gone;
// write errors are swallowed because there is nobody left to tell.
func (f *framer) send(payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return true
	}
	if _, err := fmt.Fprintf(f.w, "data: %s\n\n", data); err != nil {
		return false
	}
	f.flusher.Flush()

	f.sinceBeat++
	if f.sinceBeat >= heartbeatInterval {
		return f.heartbeat()
	}
	return true
}

// heartbeat emits a standalone heartbeat frame and resets the counter.
func (f *framer) heartbeat() bool {
	f.sinceBeat = 0
	if _, err := fmt.Fprint(f.w, "data: {\"type\": \"heartbeat\"}\n\n"); err != nil {
		return false
	}
	f.flusher.Flush()
	return true
}

// done writes the terminal sentinel. It is sent on every path, success
// or failure, so clients always see a definite end of stream.
func (f *framer) done() {
	_, _ = fmt.Fprint(f.w, "data: [DONE]\n\n")
	f.flusher.Flush()
}
