/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package memory provides range-checked, little-endian primitive access over a
// byte buffer, plus no-copy sub-range views. Sketch images are always encoded
// little endian regardless of the host byte order.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is wrapped by every range-check failure.
var ErrInvalidArgument = errors.New("invalid argument")

// Memory wraps a byte slice. A Memory obtained from Region shares the backing
// array of its parent; writes through either are visible to both.
type Memory struct {
	buf []byte
}

// Wrap returns a Memory backed directly by buf, without copying.
func Wrap(buf []byte) *Memory {
	return &Memory{buf: buf}
}

// Allocate returns a zeroed Memory of the given capacity.
func Allocate(capacityBytes int) (*Memory, error) {
	if capacityBytes < 0 {
		return nil, fmt.Errorf("%w: negative capacity %d", ErrInvalidArgument, capacityBytes)
	}
	return &Memory{buf: make([]byte, capacityBytes)}, nil
}

// Capacity returns the size of the buffer in bytes.
func (m *Memory) Capacity() int {
	return len(m.buf)
}

// Bytes returns the backing slice. Mutating it mutates the Memory.
func (m *Memory) Bytes() []byte {
	return m.buf
}

// Region returns a no-copy view of [offsetBytes, offsetBytes+capacityBytes).
func (m *Memory) Region(offsetBytes, capacityBytes int) (*Memory, error) {
	if err := m.checkBounds(offsetBytes, capacityBytes); err != nil {
		return nil, err
	}
	return &Memory{buf: m.buf[offsetBytes : offsetBytes+capacityBytes]}, nil
}

func (m *Memory) checkBounds(offsetBytes, lengthBytes int) error {
	if offsetBytes < 0 || lengthBytes < 0 || offsetBytes+lengthBytes > len(m.buf) {
		return fmt.Errorf("%w: offset %d, length %d, capacity %d",
			ErrInvalidArgument, offsetBytes, lengthBytes, len(m.buf))
	}
	return nil
}

func (m *Memory) GetByte(offsetBytes int) (byte, error) {
	if err := m.checkBounds(offsetBytes, 1); err != nil {
		return 0, err
	}
	return m.buf[offsetBytes], nil
}

func (m *Memory) PutByte(offsetBytes int, value byte) error {
	if err := m.checkBounds(offsetBytes, 1); err != nil {
		return err
	}
	m.buf[offsetBytes] = value
	return nil
}

func (m *Memory) GetInt(offsetBytes int) (int32, error) {
	if err := m.checkBounds(offsetBytes, 4); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(m.buf[offsetBytes:])), nil
}

func (m *Memory) PutInt(offsetBytes int, value int32) error {
	if err := m.checkBounds(offsetBytes, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.buf[offsetBytes:], uint32(value))
	return nil
}

func (m *Memory) GetLong(offsetBytes int) (int64, error) {
	if err := m.checkBounds(offsetBytes, 8); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(m.buf[offsetBytes:])), nil
}

func (m *Memory) PutLong(offsetBytes int, value int64) error {
	if err := m.checkBounds(offsetBytes, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.buf[offsetBytes:], uint64(value))
	return nil
}

func (m *Memory) GetDouble(offsetBytes int) (float64, error) {
	if err := m.checkBounds(offsetBytes, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(m.buf[offsetBytes:])), nil
}

func (m *Memory) PutDouble(offsetBytes int, value float64) error {
	if err := m.checkBounds(offsetBytes, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.buf[offsetBytes:], math.Float64bits(value))
	return nil
}

// GetByteArray copies length bytes starting at offsetBytes into a new slice.
func (m *Memory) GetByteArray(offsetBytes, lengthBytes int) ([]byte, error) {
	if err := m.checkBounds(offsetBytes, lengthBytes); err != nil {
		return nil, err
	}
	out := make([]byte, lengthBytes)
	copy(out, m.buf[offsetBytes:])
	return out, nil
}

// PutByteArray copies src into the buffer starting at offsetBytes.
func (m *Memory) PutByteArray(offsetBytes int, src []byte) error {
	if err := m.checkBounds(offsetBytes, len(src)); err != nil {
		return err
	}
	copy(m.buf[offsetBytes:], src)
	return nil
}
