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
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertSketchesEqual compares the serializable state of two sketches:
// configuration, region counts, total R weight, and per-slot data and
// weights.
func assertSketchesEqual[T any](t *testing.T, want, got *VarOptItemsSketch[T]) {
	t.Helper()

	require.Equal(t, want.k, got.k)
	require.Equal(t, want.h, got.h)
	require.Equal(t, want.r, got.r)
	assert.Equal(t, want.rf, got.rf)
	assert.Equal(t, want.totalWeightR, got.totalWeightR)

	for i := 0; i < want.h; i++ {
		assert.Equal(t, want.data[i], got.data[i], "H item at slot %d", i)
		assert.Equal(t, want.weights[i], got.weights[i], "H weight at slot %d", i)
	}
	if want.r > 0 {
		rStart := want.h + 1
		for i := rStart; i < rStart+want.r; i++ {
			assert.Equal(t, want.data[i], got.data[i], "R item at slot %d", i)
			assert.Equal(t, -1.0, got.weights[i], "R weight sentinel at slot %d", i)
		}
	}
}

func TestVarOptSerialization_Empty(t *testing.T) {
	sketch, err := NewVarOptItemsSketch[int64](10, WithResizeFactor(ResizeX2))
	require.NoError(t, err)

	data, err := sketch.ToSlice(Int64SerDe{})
	require.NoError(t, err)
	assert.Equal(t, emptyHeaderBytes, len(data))
	assert.Equal(t, byte(varOptPreLongsEmpty), data[offsetPreLongs])
	assert.Equal(t, byte(1), data[offsetResizeFactor])
	assert.Equal(t, byte(varOptSerVer), data[offsetSerVer])
	assert.Equal(t, byte(13), data[offsetFamilyID])
	assert.Equal(t, byte(varOptFlagEmpty), data[offsetFlags])

	restored, err := NewVarOptItemsSketchFromSlice[int64](data, Int64SerDe{})
	require.NoError(t, err)
	assert.True(t, restored.IsEmpty())
	assert.Equal(t, 10, restored.K())
	assert.Equal(t, ResizeX2, restored.rf)
}

func TestVarOptSerialization_WarmupRoundTrip(t *testing.T) {
	k := 2048
	sketch, err := NewVarOptItemsSketch[int64](k)
	require.NoError(t, err)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, sketch.Update(i, 1.0))
	}
	assert.Equal(t, 10, sketch.NumSamples())

	data, err := sketch.ToSlice(Int64SerDe{})
	require.NoError(t, err)
	assert.Equal(t, byte(varOptPreLongsWarmup), data[offsetPreLongs])

	restored, err := NewVarOptItemsSketchFromSlice[int64](data, Int64SerDe{})
	require.NoError(t, err)
	assertSketchesEqual(t, sketch, restored)
	assert.Equal(t, 10, restored.NumSamples())
}

func TestVarOptSerialization_SamplingRoundTrip(t *testing.T) {
	k := 32
	sketch, err := NewVarOptItemsSketch[int64](k, WithRandomSeed(17))
	require.NoError(t, err)
	for i := int64(0); i < int64(k); i++ {
		require.NoError(t, sketch.Update(i, 1.0))
	}
	require.NoError(t, sketch.Update(100, 100.0))
	require.NoError(t, sketch.Update(101, 101.0))

	data, err := sketch.ToSlice(Int64SerDe{})
	require.NoError(t, err)
	assert.Equal(t, byte(varOptPreLongsFull), data[offsetPreLongs])

	restored, err := NewVarOptItemsSketchFromSlice[int64](data, Int64SerDe{})
	require.NoError(t, err)
	assertSketchesEqual(t, sketch, restored)
	assert.Equal(t, sketch.Samples(), restored.Samples())

	// the restored sketch keeps sampling correctly
	inputSum := outputWeightSum(restored)
	require.NoError(t, restored.Update(200, 5.0))
	inputSum += 5.0
	assert.InEpsilon(t, inputSum, outputWeightSum(restored), 1e-10)
}

func TestVarOptSerialization_StringItems(t *testing.T) {
	sketch, err := NewVarOptItemsSketch[string](8, WithRandomSeed(4))
	require.NoError(t, err)
	for _, s := range []string{"apple", "banana", "cherry", "", "fig", "grape",
		"kiwi", "lemon", "mango", "olive", "peach", "quince"} {
		require.NoError(t, sketch.Update(s, float64(len(s)+1)))
	}

	data, err := sketch.ToSlice(StringSerDe{})
	require.NoError(t, err)

	restored, err := NewVarOptItemsSketchFromSlice[string](data, StringSerDe{})
	require.NoError(t, err)
	assertSketchesEqual(t, sketch, restored)
}

func TestVarOptSerialization_EncoderDecoder(t *testing.T) {
	sketch, err := NewVarOptItemsSketch[int64](16, WithRandomSeed(9))
	require.NoError(t, err)
	for i := int64(0); i < 100; i++ {
		require.NoError(t, sketch.Update(i, float64(i+1)))
	}

	var buf bytes.Buffer
	enc := NewVarOptItemsSketchEncoder[int64](&buf, Int64SerDe{})
	require.NoError(t, enc.Encode(sketch))

	dec := NewVarOptItemsSketchDecoder[int64](&buf, Int64SerDe{})
	restored, err := dec.Decode()
	require.NoError(t, err)
	assertSketchesEqual(t, sketch, restored)

	assert.Error(t, NewVarOptItemsSketchEncoder[int64](nil, Int64SerDe{}).Encode(sketch))
	_, err = NewVarOptItemsSketchDecoder[int64](nil, Int64SerDe{}).Decode()
	assert.Error(t, err)
}

// validImage builds a sampling-mode image with a known region split: two
// heavy items in H and six unit items in R.
func validImage(t *testing.T) []byte {
	t.Helper()
	sketch, err := NewVarOptItemsSketch[int64](8, WithRandomSeed(6))
	require.NoError(t, err)
	for i := int64(0); i < 9; i++ {
		require.NoError(t, sketch.Update(i, 1.0))
	}
	require.NoError(t, sketch.Update(100, 100.0))
	require.NoError(t, sketch.Update(101, 101.0))
	require.Equal(t, 2, sketch.H())
	require.Equal(t, 6, sketch.R())

	data, err := sketch.ToSlice(Int64SerDe{})
	require.NoError(t, err)
	return data
}

func TestVarOptSerialization_CorruptionDetection(t *testing.T) {
	base := validImage(t)

	flip := func(offset int, value byte) []byte {
		out := make([]byte, len(base))
		copy(out, base)
		out[offset] = value
		return out
	}

	t.Run("bad preamble longs", func(t *testing.T) {
		for _, v := range []byte{0, 4, 0xFF} {
			_, err := NewVarOptItemsSketchFromSlice[int64](flip(offsetPreLongs, v), Int64SerDe{})
			assert.ErrorIs(t, err, ErrCorruption, "preLongs=%d", v)
		}
	})

	t.Run("bad resize factor", func(t *testing.T) {
		_, err := NewVarOptItemsSketchFromSlice[int64](flip(offsetResizeFactor, 7), Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("bad serialization version", func(t *testing.T) {
		_, err := NewVarOptItemsSketchFromSlice[int64](flip(offsetSerVer, varOptSerVer+1), Int64SerDe{})
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("bad family id", func(t *testing.T) {
		_, err := NewVarOptItemsSketchFromSlice[int64](flip(offsetFamilyID, 99), Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("empty flag on non-empty image", func(t *testing.T) {
		_, err := NewVarOptItemsSketchFromSlice[int64](flip(offsetFlags, varOptFlagEmpty), Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("empty image without empty flag", func(t *testing.T) {
		sketch, err := NewVarOptItemsSketch[int64](8)
		require.NoError(t, err)
		data, err := sketch.ToSlice(Int64SerDe{})
		require.NoError(t, err)
		data[offsetFlags] = 0

		_, err = NewVarOptItemsSketchFromSlice[int64](data, Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("sampling image with zero r count", func(t *testing.T) {
		_, err := NewVarOptItemsSketchFromSlice[int64](flip(offsetRCount, 0), Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("region counts not summing to k", func(t *testing.T) {
		_, err := NewVarOptItemsSketchFromSlice[int64](flip(offsetHCount, 1), Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("warmup image with items in R", func(t *testing.T) {
		sketch, err := NewVarOptItemsSketch[int64](64)
		require.NoError(t, err)
		for i := int64(0); i < 10; i++ {
			require.NoError(t, sketch.Update(i, 1.0))
		}
		data, err := sketch.ToSlice(Int64SerDe{})
		require.NoError(t, err)
		data[offsetRCount] = 3

		_, err = NewVarOptItemsSketchFromSlice[int64](data, Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("k below the minimum", func(t *testing.T) {
		_, err := NewVarOptItemsSketchFromSlice[int64](flip(offsetK, 1), Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("truncated images", func(t *testing.T) {
		for _, cut := range []int{0, 4, emptyHeaderBytes - 1, fullHeaderBytes - 1, len(base) - 1} {
			_, err := NewVarOptItemsSketchFromSlice[int64](base[:cut], Int64SerDe{})
			assert.ErrorIs(t, err, ErrCorruption, "length %d", cut)
		}
	})

	t.Run("non-positive heap weight", func(t *testing.T) {
		out := make([]byte, len(base))
		copy(out, base)
		// zero the first heap weight
		for i := 0; i < 8; i++ {
			out[fullHeaderBytes+i] = 0
		}
		_, err := NewVarOptItemsSketchFromSlice[int64](out, Int64SerDe{})
		assert.ErrorIs(t, err, ErrCorruption)
	})
}

func TestVarOptSerialization_HeaderFieldValues(t *testing.T) {
	base := validImage(t)
	sketch, err := NewVarOptItemsSketchFromSlice[int64](base, Int64SerDe{})
	require.NoError(t, err)

	assert.Equal(t, byte(varOptPreLongsFull), base[offsetPreLongs])
	assert.Equal(t, byte(3), base[offsetResizeFactor]) // lg of default X8
	k := int(uint32(base[offsetK]) | uint32(base[offsetK+1])<<8 |
		uint32(base[offsetK+2])<<16 | uint32(base[offsetK+3])<<24)
	assert.Equal(t, sketch.K(), k)

	wt := math.Float64frombits(
		uint64(base[offsetTotalWtR]) | uint64(base[offsetTotalWtR+1])<<8 |
			uint64(base[offsetTotalWtR+2])<<16 | uint64(base[offsetTotalWtR+3])<<24 |
			uint64(base[offsetTotalWtR+4])<<32 | uint64(base[offsetTotalWtR+5])<<40 |
			uint64(base[offsetTotalWtR+6])<<48 | uint64(base[offsetTotalWtR+7])<<56)
	assert.Equal(t, sketch.TotalWeightR(), wt)
}
