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

package wire

import (
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// TaskKind discriminates the scheduler's inbound task queue entries
// (spec.md section 4.6: "Task::{Invoke, InvokeInsecure, Terminate}").
type TaskKind uint8

const (
	TaskInvoke TaskKind = iota
	TaskInvokeInsecure
	TaskTerminate
)

// Task is one entry of the scheduler's bounded MPMC queue. Sync mirrors
// LabeledInvoke's own field (spec.md section 3): it is informational only
// here — whether a Task actually gets a sync waiter is decided by whether
// the caller submitted it through Scheduler.Enqueue or Scheduler.EnqueueSync
// — but it rides along on the wire so a receiving worker or gateway can
// tell which kind of invocation produced a given ProcessTask.
type Task struct {
	Kind      TaskKind
	ID        string
	Function  string
	Payload   []byte
	Label     string
	Privilege string
	Clearance string
	Sync      bool
}

const (
	fTaskKind      = 1
	fTaskID        = 2
	fTaskFunction  = 3
	fTaskPayload   = 4
	fTaskLabel     = 5
	fTaskPrivilege = 6
	fTaskClearance = 7
	fTaskSync      = 8
)

func (t *Task) Marshal() []byte {
	var buf []byte
	buf = appendVarintField(buf, fTaskKind, uint64(t.Kind))
	buf = appendStringField(buf, fTaskID, t.ID)
	buf = appendStringField(buf, fTaskFunction, t.Function)
	buf = appendBytesField(buf, fTaskPayload, t.Payload)
	buf = appendStringField(buf, fTaskLabel, t.Label)
	buf = appendStringField(buf, fTaskPrivilege, t.Privilege)
	buf = appendStringField(buf, fTaskClearance, t.Clearance)
	buf = appendBoolField(buf, fTaskSync, t.Sync)
	return buf
}

func UnmarshalTask(data []byte) (*Task, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	t := &Task{}
	for _, f := range fields {
		switch f.num {
		case fTaskKind:
			t.Kind = TaskKind(f.varint)
		case fTaskID:
			t.ID = string(f.bytes)
		case fTaskFunction:
			t.Function = string(f.bytes)
		case fTaskPayload:
			t.Payload = append([]byte(nil), f.bytes...)
		case fTaskLabel:
			t.Label = string(f.bytes)
		case fTaskPrivilege:
			t.Privilege = string(f.bytes)
		case fTaskClearance:
			t.Clearance = string(f.bytes)
		case fTaskSync:
			t.Sync = f.varint != 0
		}
	}
	return t, nil
}

// NodeInfo is a worker's resource advertisement to the scheduler (spec.md
// section 4.6: "UpdateResource/DropResource maintain the per-node resource
// table used for cache-aware placement"). LastHeartbeat uses
// timestamppb.Timestamp, the one field in this wire protocol for which a
// generated well-known-type is used directly rather than hand-rolled, since
// go.mod already pulls in google.golang.org/protobuf transitively and the
// staleness check (time.Since(info.LastHeartbeat.AsTime())) is clearer than
// a raw epoch int.
type NodeInfo struct {
	NodeID        string
	FreeMemMiB    int64
	CachedFns     []string
	LastHeartbeat *timestamppb.Timestamp
}

const (
	fNodeID        = 1
	fNodeFreeMem   = 2
	fNodeCachedFns = 3
	fNodeHeartbeat = 4
)

func (n *NodeInfo) Marshal() []byte {
	var buf []byte
	buf = appendStringField(buf, fNodeID, n.NodeID)
	buf = appendVarintField(buf, fNodeFreeMem, uint64(n.FreeMemMiB))
	buf = appendStringSliceField(buf, fNodeCachedFns, n.CachedFns)
	if n.LastHeartbeat != nil {
		sec := uint64(n.LastHeartbeat.AsTime().Unix())
		buf = appendVarintField(buf, fNodeHeartbeat, sec)
	}
	return buf
}

func UnmarshalNodeInfo(data []byte) (*NodeInfo, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	n := &NodeInfo{}
	for _, f := range fields {
		switch f.num {
		case fNodeID:
			n.NodeID = string(f.bytes)
		case fNodeFreeMem:
			n.FreeMemMiB = int64(f.varint)
		case fNodeCachedFns:
			n.CachedFns = append(n.CachedFns, string(f.bytes))
		case fNodeHeartbeat:
			n.LastHeartbeat = timestamppb.New(time.Unix(int64(f.varint), 0))
		}
	}
	return n, nil
}

// Stale reports whether the node's advertisement is older than maxAge.
func (n *NodeInfo) Stale(maxAge time.Duration) bool {
	if n.LastHeartbeat == nil {
		return true
	}
	return time.Since(n.LastHeartbeat.AsTime()) > maxAge
}

// FinishTask routes a completed task's result back to the scheduler's sync
// waiter map (spec.md section 4.6).
type FinishTask struct {
	TaskID  string
	Result  []byte
	Code    TaskReturnCode
}

const (
	fFinishTaskID = 1
	fFinishResult = 2
	fFinishCode   = 3
)

func (f *FinishTask) Marshal() []byte {
	var buf []byte
	buf = appendStringField(buf, fFinishTaskID, f.TaskID)
	buf = appendBytesField(buf, fFinishResult, f.Result)
	buf = appendVarintField(buf, fFinishCode, uint64(f.Code))
	return buf
}

func UnmarshalFinishTask(data []byte) (*FinishTask, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	out := &FinishTask{}
	for _, fl := range fields {
		switch fl.num {
		case fFinishTaskID:
			out.TaskID = string(fl.bytes)
		case fFinishResult:
			out.Result = append([]byte(nil), fl.bytes...)
		case fFinishCode:
			out.Code = TaskReturnCode(fl.varint)
		}
	}
	return out, nil
}
