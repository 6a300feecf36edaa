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

// Command scheduler is the long-running daemon wrapping internal/scheduler
// in the TCP, length-prefixed wire.RPCMessage framing of spec.md section 6.
// It accepts connections from both workers (GetTask/FinishTask/
// UpdateResource/DropResource) and gateways/admin clients
// (LabeledInvoke/UnlabeledInvoke), since both speak the same RPCMessage
// envelope over the same listener, distinguished only by which Kind they
// send first.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"faasten/internal/metrics"
	"faasten/internal/scheduler"
	"faasten/internal/wire"
)

func main() {
	addr := flag.String("addr", ":4522", "listen address for worker/gateway RPC connections")
	metricsAddr := flag.String("metrics-addr", ":9522", "Prometheus /metrics listen address")
	capacity := flag.Int("queue-capacity", scheduler.DefaultQueueCapacity, "bounded task queue capacity")
	flag.Parse()

	metrics.StartEndpoint(*metricsAddr)

	sched := scheduler.New(*capacity)
	go sched.Run()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("scheduler: listen: %v", err)
	}
	fmt.Fprintf(os.Stdout, "scheduler: listening on %s\n", *addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("scheduler: accept: %v", err)
			continue
		}
		go serveConn(sched, conn)
	}
}

// connWorker adapts a net.Conn into scheduler.WorkerConn. The scheduler
// hands SendFrame a bare Task.Marshal() body (internal/scheduler only
// knows about wire.Task, not the RPCMessage envelope), so it gets
// re-wrapped as an RPCProcessTask here before going out over the same
// RPCMessage-framed connection the worker is reading.
type connWorker struct{ conn net.Conn }

func (c connWorker) SendFrame(body []byte) error {
	task, err := wire.UnmarshalTask(body)
	if err != nil {
		return err
	}
	msg := &wire.RPCMessage{Kind: wire.RPCProcessTask, Task: task}
	return wire.WriteFrame(c.conn, msg.Marshal())
}

// serveConn multiplexes every RPCMessage kind a single connection might
// send. A worker connection mostly sends GetTask once (registering as
// idle; this loop keeps reading while the scheduler's dispatch loop later
// writes a task over the same socket) then FinishTask/
// UpdateResource/DropResource repeatedly; a gateway connection sends
// LabeledInvoke/UnlabeledInvoke and reads back a single TaskReturn.
func serveConn(sched *scheduler.Scheduler, conn net.Conn) {
	defer conn.Close()
	workerID := ""
	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("scheduler: read: %v", err)
			}
			if workerID != "" {
				sched.DropResource(workerID)
			}
			return
		}
		msg, err := wire.UnmarshalRPCMessage(body)
		if err != nil {
			log.Printf("scheduler: decode: %v", err)
			return
		}
		switch msg.Kind {
		case wire.RPCGetTask:
			workerID = msg.WorkerID
			info := msg.Info
			if info == nil {
				info = &wire.NodeInfo{NodeID: workerID}
			}
			sched.RegisterIdle(&scheduler.Worker{ID: workerID, Info: info, Conn: connWorker{conn}})
		case wire.RPCFinishTask:
			if msg.Finish != nil {
				sched.FinishTask(msg.Finish)
			}
		case wire.RPCUpdateResource:
			if msg.Info != nil {
				sched.UpdateResource(msg.Info)
			}
		case wire.RPCDropResource:
			sched.DropResource(msg.WorkerID)
		case wire.RPCLabeledInvoke, wire.RPCUnlabeledInvoke:
			handleInvoke(sched, conn, msg)
		case wire.RPCPing:
			_ = wire.WriteFrame(conn, (&wire.RPCMessage{Kind: wire.RPCPong}).Marshal())
		default:
			log.Printf("scheduler: unexpected RPC kind %d on this connection", msg.Kind)
		}
	}
}

// handleInvoke services a gateway's LabeledInvoke/UnlabeledInvoke: enqueue
// it, and for a sync invocation block on the scheduler's waiter channel
// before replying with a TaskReturn (spec.md section 4.6, "Sync waiter
// routing").
func handleInvoke(sched *scheduler.Scheduler, conn net.Conn, msg *wire.RPCMessage) {
	if msg.Task == nil {
		return
	}
	task := msg.Task
	if !task.Sync {
		if err := sched.Enqueue(task); err != nil {
			reply(conn, wire.CodeQueueFull, nil)
			return
		}
		reply(conn, wire.CodeSuccess, nil)
		return
	}
	waitC, err := sched.EnqueueSync(task)
	if err != nil {
		reply(conn, wire.CodeQueueFull, nil)
		return
	}
	ft := <-waitC
	reply(conn, ft.Code, ft.Result)
}

func reply(conn net.Conn, code wire.TaskReturnCode, payload []byte) {
	ret := &wire.RPCMessage{Kind: wire.RPCTaskReturn, Return: &wire.TaskReturn{Code: code, Payload: payload}}
	_ = wire.WriteFrame(conn, ret.Marshal())
}
