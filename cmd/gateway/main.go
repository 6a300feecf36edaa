// Copyright 2025 Esteban Alvarez. All Rights Reserved.
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

// Command gateway is a minimal HTTP front door translating
// POST /invoke/<function> into a synchronous LabeledInvoke against the
// scheduler and mapping its TaskReturnCode to an HTTP status (spec.md
// section 7: "HTTP gateways map scheduler return codes to HTTP status,
// e.g. QueueFull->429, LaunchFailed/Other->500, Success->200 with body").
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"faasten/internal/label"
	"faasten/internal/wire"
)

func main() {
	listenAddr := flag.String("addr", ":8080", "HTTP listen address")
	schedAddr := flag.String("scheduler-addr", "127.0.0.1:4522", "scheduler RPC address")
	flag.Parse()

	conn, err := net.Dial("tcp", *schedAddr)
	if err != nil {
		log.Fatalf("gateway: dial scheduler: %v", err)
	}

	gw := &gateway{conn: conn}
	http.HandleFunc("/invoke/", gw.handleInvoke)
	log.Printf("gateway: listening on %s, scheduler at %s", *listenAddr, *schedAddr)
	log.Fatal(http.ListenAndServe(*listenAddr, nil))
}

// gateway serializes RPCMessage writes/reads over a single scheduler
// connection; concurrent HTTP requests share it under mu, since the RPC
// envelope has no request-ID multiplexing (spec.md section 6's framing is
// one reply per request on the wire, matching the admin/gateway's
// call-and-block usage pattern rather than the worker's long-lived
// streaming one).
type gateway struct {
	mu   sync.Mutex
	conn net.Conn
}

func (g *gateway) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	function := strings.TrimPrefix(r.URL.Path, "/invoke/")
	if function == "" {
		http.Error(w, "missing function name", http.StatusBadRequest)
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return
	}

	startLabel := label.Public()
	if s := r.Header.Get("X-Faasten-Label"); s != "" {
		startLabel, err = label.Parse(s)
		if err != nil {
			http.Error(w, "bad X-Faasten-Label: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	clearance := label.Top()
	if s := r.Header.Get("X-Faasten-Clearance"); s != "" {
		clearance, err = label.Parse(s)
		if err != nil {
			http.Error(w, "bad X-Faasten-Clearance: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	task := &wire.Task{
		Kind:      wire.TaskInvoke,
		ID:        newTaskID(),
		Function:  function,
		Payload:   payload,
		Label:     startLabel.String(),
		Privilege: label.ComponentString(label.True()),
		Clearance: clearance.String(),
		Sync:      true,
	}

	ret, err := g.invokeSync(task)
	if err != nil {
		http.Error(w, "gateway: "+err.Error(), http.StatusBadGateway)
		return
	}

	switch ret.Code {
	case wire.CodeSuccess:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(ret.Payload)
	case wire.CodeQueueFull:
		http.Error(w, "scheduler queue full", http.StatusTooManyRequests)
	case wire.CodeFunctionNotExist:
		http.Error(w, "function does not exist", http.StatusNotFound)
	default:
		http.Error(w, "invocation failed", http.StatusInternalServerError)
	}
}

// invokeSync sends a LabeledInvoke RPCMessage and blocks for the matching
// TaskReturn reply.
func (g *gateway) invokeSync(task *wire.Task) (*wire.TaskReturn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	msg := &wire.RPCMessage{Kind: wire.RPCLabeledInvoke, Task: task}
	if err := wire.WriteFrame(g.conn, msg.Marshal()); err != nil {
		return nil, err
	}
	body, err := wire.ReadFrame(g.conn)
	if err != nil {
		return nil, err
	}
	reply, err := wire.UnmarshalRPCMessage(body)
	if err != nil {
		return nil, err
	}
	if reply.Return == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return reply.Return, nil
}

func newTaskID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
