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

// Package wire implements the guest<->host and scheduler<->worker framing
// (spec.md section 6): a u32 big-endian length prefix around a
// length-delimited message body. Message bodies use a hand-rolled
// tag/varint codec modeling protobuf's wire format (field_num<<3|wire_type
// followed by a base-128 varint or length-delimited payload) since no
// protoc toolchain is available in this environment; field numbers are
// stable so unknown/missing fields decode to zero values, the same
// forward-compatibility protobuf gives generated code.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	wireVarint = 0
	wireBytes  = 2
)

// ErrMalformed is returned for a body that violates the tag/varint grammar.
var ErrMalformed = errors.New("wire: malformed message body")

func appendTag(buf []byte, fieldNum int, wireType uint64) []byte {
	return appendUvarint(buf, uint64(fieldNum)<<3|wireType)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendVarintField(buf []byte, fieldNum int, v uint64) []byte {
	if v == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireVarint)
	return appendUvarint(buf, v)
}

func appendBoolField(buf []byte, fieldNum int, v bool) []byte {
	if !v {
		return buf
	}
	return appendVarintField(buf, fieldNum, 1)
}

func appendBytesField(buf []byte, fieldNum int, v []byte) []byte {
	if len(v) == 0 {
		return buf
	}
	buf = appendTag(buf, fieldNum, wireBytes)
	buf = appendUvarint(buf, uint64(len(v)))
	return append(buf, v...)
}

func appendStringField(buf []byte, fieldNum int, v string) []byte {
	if v == "" {
		return buf
	}
	return appendBytesField(buf, fieldNum, []byte(v))
}

func appendStringSliceField(buf []byte, fieldNum int, vs []string) []byte {
	for _, v := range vs {
		buf = appendBytesField(buf, fieldNum, []byte(v))
	}
	return buf
}

// field is one decoded (field_num, wire_type, value) triple; value holds the
// varint for wireVarint or the raw bytes for wireBytes.
type field struct {
	num      int
	wireType uint64
	varint   uint64
	bytes    []byte
}

func decodeFields(data []byte) ([]field, error) {
	var out []field
	for len(data) > 0 {
		tag, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, ErrMalformed
		}
		data = data[n:]
		fieldNum := int(tag >> 3)
		wireType := tag & 0x7
		switch wireType {
		case wireVarint:
			v, n := binary.Uvarint(data)
			if n <= 0 {
				return nil, ErrMalformed
			}
			data = data[n:]
			out = append(out, field{num: fieldNum, wireType: wireType, varint: v})
		case wireBytes:
			ln, n := binary.Uvarint(data)
			if n <= 0 {
				return nil, ErrMalformed
			}
			data = data[n:]
			if uint64(len(data)) < ln {
				return nil, ErrMalformed
			}
			out = append(out, field{num: fieldNum, wireType: wireType, bytes: data[:ln]})
			data = data[ln:]
		default:
			return nil, ErrMalformed
		}
	}
	return out, nil
}

// ReadFrame reads one u32-BE-length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes body to w prefixed by its u32-BE length.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
