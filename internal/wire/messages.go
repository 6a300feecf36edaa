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

// SyscallKind discriminates the oneof of guest syscalls (spec.md section
// 4.3's syscall table). A single Syscall struct carries the union of fields
// used by any one kind, the fields a given kind does not use are left zero
// and never put on the wire (see appendVarintField/appendStringField's
// zero-value elision), keeping frames small the way a protobuf oneof would.
type SyscallKind uint8

const (
	SyscallResponse SyscallKind = iota
	SyscallFsRead
	SyscallFsWrite
	SyscallFsList
	SyscallFsFacetedList
	SyscallFsCreateDir
	SyscallFsCreateFile
	SyscallFsCreateFacetedDir
	SyscallFsCreateGate
	SyscallFsCreateRedirectGate
	SyscallFsCreateService
	SyscallFsCreateBlobByName
	SyscallFsDelete
	SyscallReadDir
	SyscallReadKey
	SyscallWriteKey
	SyscallBuckleParse
	SyscallGetCurrentLabel
	SyscallTaintWithLabel
	SyscallDeclassify
	SyscallSubPrivilege
	SyscallInvokeGate
	SyscallInvokeFunction
	SyscallInvokeService
	SyscallCreateBlob
	SyscallWriteBlob
	SyscallFinalizeBlob
	SyscallOpenBlob
	SyscallReadBlob
	SyscallCloseBlob
	SyscallGithubRest
	SyscallDupGate
)

// Syscall is the guest->host frame body.
type Syscall struct {
	Kind     SyscallKind
	Path     string
	Data     []byte
	Label    string
	Name     string
	BlobName string
	Verb     string
	Route    string
	Body     []byte
	ToBlob   bool
	Fd       uint64
	BaseDir  string
	Policy   string
	Payload  []byte
	Suffix   string
}

const (
	fSyscallKind = 1
	fSyscallPath = 2
	fSyscallData = 3
	fSyscallLabel = 4
	fSyscallName = 5
	fSyscallBlobName = 6
	fSyscallVerb = 7
	fSyscallRoute = 8
	fSyscallBody = 9
	fSyscallToBlob = 10
	fSyscallFd = 11
	fSyscallBaseDir = 12
	fSyscallPolicy = 13
	fSyscallPayload = 14
	fSyscallSuffix = 15
)

// Marshal encodes the syscall frame body.
func (s *Syscall) Marshal() []byte {
	var buf []byte
	buf = appendVarintField(buf, fSyscallKind, uint64(s.Kind))
	buf = appendStringField(buf, fSyscallPath, s.Path)
	buf = appendBytesField(buf, fSyscallData, s.Data)
	buf = appendStringField(buf, fSyscallLabel, s.Label)
	buf = appendStringField(buf, fSyscallName, s.Name)
	buf = appendStringField(buf, fSyscallBlobName, s.BlobName)
	buf = appendStringField(buf, fSyscallVerb, s.Verb)
	buf = appendStringField(buf, fSyscallRoute, s.Route)
	buf = appendBytesField(buf, fSyscallBody, s.Body)
	buf = appendBoolField(buf, fSyscallToBlob, s.ToBlob)
	buf = appendVarintField(buf, fSyscallFd, s.Fd)
	buf = appendStringField(buf, fSyscallBaseDir, s.BaseDir)
	buf = appendStringField(buf, fSyscallPolicy, s.Policy)
	buf = appendBytesField(buf, fSyscallPayload, s.Payload)
	buf = appendStringField(buf, fSyscallSuffix, s.Suffix)
	return buf
}

// UnmarshalSyscall decodes a syscall frame body.
func UnmarshalSyscall(data []byte) (*Syscall, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	s := &Syscall{}
	for _, f := range fields {
		switch f.num {
		case fSyscallKind:
			s.Kind = SyscallKind(f.varint)
		case fSyscallPath:
			s.Path = string(f.bytes)
		case fSyscallData:
			s.Data = append([]byte(nil), f.bytes...)
		case fSyscallLabel:
			s.Label = string(f.bytes)
		case fSyscallName:
			s.Name = string(f.bytes)
		case fSyscallBlobName:
			s.BlobName = string(f.bytes)
		case fSyscallVerb:
			s.Verb = string(f.bytes)
		case fSyscallRoute:
			s.Route = string(f.bytes)
		case fSyscallBody:
			s.Body = append([]byte(nil), f.bytes...)
		case fSyscallToBlob:
			s.ToBlob = f.varint != 0
		case fSyscallFd:
			s.Fd = f.varint
		case fSyscallBaseDir:
			s.BaseDir = string(f.bytes)
		case fSyscallPolicy:
			s.Policy = string(f.bytes)
		case fSyscallPayload:
			s.Payload = append([]byte(nil), f.bytes...)
		case fSyscallSuffix:
			s.Suffix = string(f.bytes)
		}
	}
	return s, nil
}

// Response is the host's reply to a single syscall (spec.md section 4.3:
// "failures within a syscall are reported as a typed response rather than
// terminating the session").
type Response struct {
	Success bool
	Message string
	Payload []byte
	Label   string
	Names   []string
	Fd      uint64
}

const (
	fRespSuccess = 1
	fRespMessage = 2
	fRespPayload = 3
	fRespLabel   = 4
	fRespNames   = 5
	fRespFd      = 6
)

func (r *Response) Marshal() []byte {
	var buf []byte
	buf = appendBoolField(buf, fRespSuccess, r.Success)
	buf = appendStringField(buf, fRespMessage, r.Message)
	buf = appendBytesField(buf, fRespPayload, r.Payload)
	buf = appendStringField(buf, fRespLabel, r.Label)
	buf = appendStringSliceField(buf, fRespNames, r.Names)
	buf = appendVarintField(buf, fRespFd, r.Fd)
	return buf
}

func UnmarshalResponse(data []byte) (*Response, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	r := &Response{}
	for _, f := range fields {
		switch f.num {
		case fRespSuccess:
			r.Success = f.varint != 0
		case fRespMessage:
			r.Message = string(f.bytes)
		case fRespPayload:
			r.Payload = append([]byte(nil), f.bytes...)
		case fRespLabel:
			r.Label = string(f.bytes)
		case fRespNames:
			r.Names = append(r.Names, string(f.bytes))
		case fRespFd:
			r.Fd = f.varint
		}
	}
	return r, nil
}

// Request is the host's session-start frame carrying the invocation payload.
type Request struct {
	Payload []byte
}

const fReqPayload = 1

func (req *Request) Marshal() []byte {
	var buf []byte
	buf = appendBytesField(buf, fReqPayload, req.Payload)
	return buf
}

func UnmarshalRequest(data []byte) (*Request, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	req := &Request{}
	for _, f := range fields {
		if f.num == fReqPayload {
			req.Payload = append([]byte(nil), f.bytes...)
		}
	}
	return req, nil
}

// TaskReturnCode enumerates the terminal status of a syscall session
// (spec.md section 4.3/4.7).
type TaskReturnCode uint8

const (
	CodeSuccess TaskReturnCode = iota
	CodeProcessRequestFailed
	CodeQueueFull
	CodeLaunchFailed
	CodeResourceExhausted
	CodeFunctionNotExist
)

// TaskReturn is the worker-facing terminal result of a VM invocation.
type TaskReturn struct {
	Code    TaskReturnCode
	Payload []byte
}

const (
	fRetCode    = 1
	fRetPayload = 2
)

func (t *TaskReturn) Marshal() []byte {
	var buf []byte
	buf = appendVarintField(buf, fRetCode, uint64(t.Code))
	buf = appendBytesField(buf, fRetPayload, t.Payload)
	return buf
}

func UnmarshalTaskReturn(data []byte) (*TaskReturn, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	t := &TaskReturn{}
	for _, f := range fields {
		switch f.num {
		case fRetCode:
			t.Code = TaskReturnCode(f.varint)
		case fRetPayload:
			t.Payload = append([]byte(nil), f.bytes...)
		}
	}
	return t, nil
}
