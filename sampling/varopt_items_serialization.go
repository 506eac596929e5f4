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

package sampling

import (
	"errors"
	"fmt"
	"io"

	"github.com/sketchlab/varopt-go/memory"
)

// ToSlice serializes the sketch using the layout documented in
// preamble_utils.go. Per-item encoding is delegated to the serde.
func (s *VarOptItemsSketch[T]) ToSlice(serde ItemsSerDe[T]) ([]byte, error) {
	if s.m != 0 {
		return nil, errors.New("sketch has items pending in the middle region")
	}

	pre := &varOptPreamble{
		rf:       s.rf,
		k:        s.k,
		hCount:   s.h,
		rCount:   s.r,
		totalWtR: s.totalWeightR,
	}
	switch {
	case s.IsEmpty():
		pre.preLongs = varOptPreLongsEmpty
		pre.flags = varOptFlagEmpty
	case s.r == 0:
		pre.preLongs = varOptPreLongsWarmup
	default:
		pre.preLongs = varOptPreLongsFull
	}

	headerBytes, err := headerSizeBytes(pre.preLongs)
	if err != nil {
		return nil, err
	}

	if pre.preLongs == varOptPreLongsEmpty {
		mem, err := memory.Allocate(headerBytes)
		if err != nil {
			return nil, err
		}
		if err := writeVarOptPreamble(mem, pre); err != nil {
			return nil, err
		}
		return mem.Bytes(), nil
	}

	itemBytes, err := serde.SerializeToBytes(s.sampleItems())
	if err != nil {
		return nil, err
	}

	mem, err := memory.Allocate(headerBytes + (s.h * 8) + len(itemBytes))
	if err != nil {
		return nil, err
	}
	if err := writeVarOptPreamble(mem, pre); err != nil {
		return nil, err
	}
	offset := headerBytes
	for i := 0; i < s.h; i++ {
		if err := mem.PutDouble(offset, s.weights[i]); err != nil {
			return nil, err
		}
		offset += 8
	}
	if err := mem.PutByteArray(offset, itemBytes); err != nil {
		return nil, err
	}
	return mem.Bytes(), nil
}

// sampleItems returns the retained items in serialization order: the H region
// in heap slot order, then the R region in slot order.
func (s *VarOptItemsSketch[T]) sampleItems() []T {
	out := make([]T, 0, s.h+s.r)
	out = append(out, s.data[:s.h]...)
	if s.r > 0 {
		rStart := s.h + 1
		out = append(out, s.data[rStart:rStart+s.r]...)
	}
	return out
}

// NewVarOptItemsSketchFromSlice reconstructs a sketch from a serialized image.
// The image is validated before any item decoding happens; failures surface as
// ErrCorruption or ErrUnsupportedVersion.
func NewVarOptItemsSketchFromSlice[T any](data []byte, serde ItemsSerDe[T]) (*VarOptItemsSketch[T], error) {
	mem := memory.Wrap(data)
	pre, err := readVarOptPreamble(mem)
	if err != nil {
		return nil, err
	}

	if pre.k < varOptMinK || pre.k > varOptMaxK {
		return nil, fmt.Errorf("%w: k out of range: %d", ErrCorruption, pre.k)
	}

	if pre.isEmpty() != (pre.preLongs == varOptPreLongsEmpty) {
		return nil, fmt.Errorf("%w: empty flag is %t but found %d preamble longs",
			ErrCorruption, pre.isEmpty(), pre.preLongs)
	}
	if pre.preLongs == varOptPreLongsEmpty {
		return NewVarOptItemsSketch[T](pre.k, WithResizeFactor(pre.rf))
	}

	h, r := pre.hCount, pre.rCount
	if h < 0 || r < 0 {
		return nil, fmt.Errorf("%w: negative region counts: h=%d, r=%d", ErrCorruption, h, r)
	}
	switch pre.preLongs {
	case varOptPreLongsWarmup:
		if r != 0 {
			return nil, fmt.Errorf("%w: %d preamble longs but %d items in R region",
				ErrCorruption, varOptPreLongsWarmup, r)
		}
		if h == 0 || h > pre.k {
			return nil, fmt.Errorf("%w: warmup image with h=%d for k=%d", ErrCorruption, h, pre.k)
		}
	case varOptPreLongsFull:
		if r == 0 {
			return nil, fmt.Errorf("%w: %d preamble longs but no items in R region",
				ErrCorruption, varOptPreLongsFull)
		}
		if h+r != pre.k {
			return nil, fmt.Errorf("%w: h=%d plus r=%d must equal k=%d", ErrCorruption, h, r, pre.k)
		}
		if !(pre.totalWtR > 0.0) {
			return nil, fmt.Errorf("%w: non-positive total R weight: %v", ErrCorruption, pre.totalWtR)
		}
	}

	headerBytes, err := headerSizeBytes(pre.preLongs)
	if err != nil {
		return nil, err
	}
	weightsBytes := h * 8
	itemsOffset := headerBytes + weightsBytes
	if mem.Capacity() < itemsOffset {
		return nil, fmt.Errorf("%w: image too short for %d heap weights", ErrCorruption, h)
	}

	weights := make([]float64, h)
	for i := 0; i < h; i++ {
		wt, err := mem.GetDouble(headerBytes + (i * 8))
		if err != nil {
			return nil, err
		}
		if wt <= 0.0 {
			return nil, fmt.Errorf("%w: non-positive weight in heap: %v", ErrCorruption, wt)
		}
		weights[i] = wt
	}

	itemsRegion, err := mem.Region(itemsOffset, mem.Capacity()-itemsOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruption, err)
	}
	items, err := serde.DeserializeFromBytes(itemsRegion.Bytes(), h+r)
	if err != nil {
		return nil, err
	}

	sketch, err := NewVarOptItemsSketch[T](pre.k, WithResizeFactor(pre.rf))
	if err != nil {
		return nil, err
	}
	sketch.h = h
	sketch.r = r
	sketch.totalWeightR = pre.totalWtR

	if r > 0 {
		sketch.ensureAllocation(pre.k + 1)
		copy(sketch.data[:h], items[:h])
		copy(sketch.weights[:h], weights)
		sketch.weights[h] = -1.0 // the gap slot
		rStart := h + 1
		copy(sketch.data[rStart:rStart+r], items[h:])
		for i := rStart; i < rStart+r; i++ {
			sketch.weights[i] = -1.0
		}
	} else {
		sketch.ensureAllocation(h)
		copy(sketch.data[:h], items)
		copy(sketch.weights[:h], weights)
	}

	return sketch, nil
}

// ensureAllocation grows the sample arrays until at least minSlots fit,
// honoring the geometric growth steps.
func (s *VarOptItemsSketch[T]) ensureAllocation(minSlots int) {
	for s.currItemsAlloc < minSlots {
		before := s.currItemsAlloc
		s.growDataArrays()
		if s.currItemsAlloc == before {
			break // already at the k+1 cap
		}
	}
}

// VarOptItemsSketchEncoder writes serialized sketches to an io.Writer.
type VarOptItemsSketchEncoder[T any] struct {
	w     io.Writer
	serde ItemsSerDe[T]
}

// NewVarOptItemsSketchEncoder creates an encoder with the provided writer and
// serde.
func NewVarOptItemsSketchEncoder[T any](w io.Writer, serde ItemsSerDe[T]) VarOptItemsSketchEncoder[T] {
	return VarOptItemsSketchEncoder[T]{w: w, serde: serde}
}

// Encode writes the serialized sketch to the encoder's writer.
func (e VarOptItemsSketchEncoder[T]) Encode(sketch *VarOptItemsSketch[T]) error {
	if e.w == nil {
		return errors.New("nil writer")
	}
	data, err := sketch.ToSlice(e.serde)
	if err != nil {
		return err
	}
	_, err = e.w.Write(data)
	return err
}

// VarOptItemsSketchDecoder reads serialized sketches from an io.Reader.
type VarOptItemsSketchDecoder[T any] struct {
	r     io.Reader
	serde ItemsSerDe[T]
}

// NewVarOptItemsSketchDecoder creates a decoder with the provided reader and
// serde.
func NewVarOptItemsSketchDecoder[T any](r io.Reader, serde ItemsSerDe[T]) VarOptItemsSketchDecoder[T] {
	return VarOptItemsSketchDecoder[T]{r: r, serde: serde}
}

// Decode reads all bytes from the decoder's reader and deserializes the
// sketch.
func (d VarOptItemsSketchDecoder[T]) Decode() (*VarOptItemsSketch[T], error) {
	if d.r == nil {
		return nil, errors.New("nil reader")
	}
	data, err := io.ReadAll(d.r)
	if err != nil {
		return nil, err
	}
	return NewVarOptItemsSketchFromSlice[T](data, d.serde)
}
