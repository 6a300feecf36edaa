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

// RPCKind discriminates the scheduler<->worker protocol frames of spec.md
// section 6 ("Message kinds: Ping/Pong, GetTask, FinishTask,
// LabeledInvoke, UnlabeledInvoke, UpdateResource, DropResource,
// TerminateAll. Responses: Pong, ProcessTask, Terminate, TaskReturn").
// Every RPCMessage carries exactly one Kind and the matching nested payload;
// the rest are left zero, the same optional-field discipline Task and
// NodeInfo already use.
type RPCKind uint8

const (
	RPCPing RPCKind = iota
	RPCPong
	RPCGetTask
	RPCProcessTask
	RPCTerminate
	RPCFinishTask
	RPCTaskReturn
	RPCLabeledInvoke
	RPCUnlabeledInvoke
	RPCUpdateResource
	RPCDropResource
	RPCTerminateAll
)

// RPCMessage is the envelope carried over the scheduler<->worker TCP
// connection (spec.md section 6, "Scheduler RPC"). WorkerID identifies the
// sender for GetTask/UpdateResource/DropResource; Task carries
// ProcessTask's {task_id, invoke_bytes} as Task.ID/Task.Payload with the
// rest of Task reused verbatim for LabeledInvoke/UnlabeledInvoke framing
// (UnlabeledInvoke simply leaves Label/Privilege/Clearance empty).
type RPCMessage struct {
	Kind     RPCKind
	WorkerID string
	Task     *Task
	Info     *NodeInfo
	Finish   *FinishTask
	Return   *TaskReturn
}

const (
	fRPCKind     = 1
	fRPCWorkerID = 2
	fRPCTask     = 3
	fRPCInfo     = 4
	fRPCFinish   = 5
	fRPCReturn   = 6
)

func (m *RPCMessage) Marshal() []byte {
	var buf []byte
	buf = appendVarintField(buf, fRPCKind, uint64(m.Kind))
	buf = appendStringField(buf, fRPCWorkerID, m.WorkerID)
	if m.Task != nil {
		buf = appendBytesField(buf, fRPCTask, m.Task.Marshal())
	}
	if m.Info != nil {
		buf = appendBytesField(buf, fRPCInfo, m.Info.Marshal())
	}
	if m.Finish != nil {
		buf = appendBytesField(buf, fRPCFinish, m.Finish.Marshal())
	}
	if m.Return != nil {
		buf = appendBytesField(buf, fRPCReturn, m.Return.Marshal())
	}
	return buf
}

func UnmarshalRPCMessage(data []byte) (*RPCMessage, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	m := &RPCMessage{}
	for _, f := range fields {
		switch f.num {
		case fRPCKind:
			m.Kind = RPCKind(f.varint)
		case fRPCWorkerID:
			m.WorkerID = string(f.bytes)
		case fRPCTask:
			t, err := UnmarshalTask(f.bytes)
			if err != nil {
				return nil, err
			}
			m.Task = t
		case fRPCInfo:
			info, err := UnmarshalNodeInfo(f.bytes)
			if err != nil {
				return nil, err
			}
			m.Info = info
		case fRPCFinish:
			ft, err := UnmarshalFinishTask(f.bytes)
			if err != nil {
				return nil, err
			}
			m.Finish = ft
		case fRPCReturn:
			ret, err := UnmarshalTaskReturn(f.bytes)
			if err != nil {
				return nil, err
			}
			m.Return = ret
		}
	}
	return m, nil
}
