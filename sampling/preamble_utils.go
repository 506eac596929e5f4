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
	"fmt"

	"github.com/sketchlab/varopt-go/internal"
	"github.com/sketchlab/varopt-go/memory"
)

// Serialized image layout. All multi-byte fields are little endian.
//
//	Byte  0     : preamble longs: 1 = empty, 2 = warmup (no R region), 3 = R region present
//	Byte  1     : log2(resize factor), in [0, 3]
//	Byte  2     : serialization version (1)
//	Byte  3     : family id (13)
//	Byte  4     : flags; bit 0 = EMPTY
//	Bytes 5-7   : reserved
//	Bytes 8-11  : k
//	Bytes 12-15 : h count        (preLongs >= 2)
//	Bytes 16-19 : r count        (preLongs >= 2)
//	Bytes 20-23 : reserved
//	Bytes 24-31 : total weight of R as float64 (preLongs = 3)
//
// The header spans 16, 24, or 32 bytes for preamble longs 1, 2, and 3: every
// image carries k, warmup images add the region counts, and sampling images
// add the R weight. The header is followed by the h heap weights as float64s,
// then the encoded items: the H region in heap slot order, then the R region
// in slot order. The M region is always empty at rest and is never
// serialized.
const (
	varOptPreLongsEmpty  = 1
	varOptPreLongsWarmup = 2
	varOptPreLongsFull   = 3

	varOptSerVer    = 1
	varOptFlagEmpty = 0x01

	offsetPreLongs     = 0
	offsetResizeFactor = 1
	offsetSerVer       = 2
	offsetFamilyID     = 3
	offsetFlags        = 4
	offsetK            = 8
	offsetHCount       = 12
	offsetRCount       = 16
	offsetTotalWtR     = 24

	emptyHeaderBytes  = 16
	warmupHeaderBytes = 24
	fullHeaderBytes   = 32
)

func headerSizeBytes(preLongs int) (int, error) {
	switch preLongs {
	case varOptPreLongsEmpty:
		return emptyHeaderBytes, nil
	case varOptPreLongsWarmup:
		return warmupHeaderBytes, nil
	case varOptPreLongsFull:
		return fullHeaderBytes, nil
	}
	return 0, fmt.Errorf("%w: must have between %d and %d preamble longs, found: %d",
		ErrCorruption, internal.FamilyEnum.VarOptItems.MinPreLongs,
		internal.FamilyEnum.VarOptItems.MaxPreLongs, preLongs)
}

// varOptPreamble is the decoded header of a serialized sketch.
type varOptPreamble struct {
	preLongs int
	rf       ResizeFactor
	flags    byte
	k        int
	hCount   int
	rCount   int
	totalWtR float64
}

func (p *varOptPreamble) isEmpty() bool {
	return p.flags&varOptFlagEmpty != 0
}

func writeVarOptPreamble(mem *memory.Memory, p *varOptPreamble) error {
	if err := mem.PutByte(offsetPreLongs, byte(p.preLongs)); err != nil {
		return err
	}
	if err := mem.PutByte(offsetResizeFactor, byte(p.rf.lg())); err != nil {
		return err
	}
	if err := mem.PutByte(offsetSerVer, varOptSerVer); err != nil {
		return err
	}
	if err := mem.PutByte(offsetFamilyID, byte(internal.FamilyEnum.VarOptItems.Id)); err != nil {
		return err
	}
	if err := mem.PutByte(offsetFlags, p.flags); err != nil {
		return err
	}
	if err := mem.PutInt(offsetK, int32(p.k)); err != nil {
		return err
	}
	if p.preLongs == varOptPreLongsEmpty {
		return nil
	}
	if err := mem.PutInt(offsetHCount, int32(p.hCount)); err != nil {
		return err
	}
	if err := mem.PutInt(offsetRCount, int32(p.rCount)); err != nil {
		return err
	}
	if p.preLongs == varOptPreLongsFull {
		return mem.PutDouble(offsetTotalWtR, p.totalWtR)
	}
	return nil
}

// readVarOptPreamble decodes and validates the header fields present for the
// image's preamble longs. Structural rules that depend on the sketch state
// (such as "3 preLongs but no items in R") are checked by the caller.
func readVarOptPreamble(mem *memory.Memory) (*varOptPreamble, error) {
	if mem.Capacity() < emptyHeaderBytes {
		return nil, fmt.Errorf("%w: image too short: %d bytes", ErrCorruption, mem.Capacity())
	}

	preLongsByte, _ := mem.GetByte(offsetPreLongs)
	rfLg, _ := mem.GetByte(offsetResizeFactor)
	serVer, _ := mem.GetByte(offsetSerVer)
	familyID, _ := mem.GetByte(offsetFamilyID)
	flags, _ := mem.GetByte(offsetFlags)
	k32, _ := mem.GetInt(offsetK)

	p := &varOptPreamble{preLongs: int(preLongsByte), flags: flags, k: int(k32)}

	headerBytes, err := headerSizeBytes(p.preLongs)
	if err != nil {
		return nil, err
	}
	if serVer != varOptSerVer {
		return nil, fmt.Errorf("%w: ser ver must be %d, found: %d",
			ErrUnsupportedVersion, varOptSerVer, serVer)
	}
	if int(familyID) != internal.FamilyEnum.VarOptItems.Id {
		return nil, fmt.Errorf("%w: family id must be %d, found: %d",
			ErrCorruption, internal.FamilyEnum.VarOptItems.Id, familyID)
	}
	rf, ok := resizeFactorFromLg(int(rfLg))
	if !ok {
		return nil, fmt.Errorf("%w: invalid log2(resize factor): %d", ErrCorruption, rfLg)
	}
	p.rf = rf
	if mem.Capacity() < headerBytes {
		return nil, fmt.Errorf("%w: image too short for %d preamble longs: %d bytes",
			ErrCorruption, p.preLongs, mem.Capacity())
	}

	if p.preLongs >= varOptPreLongsWarmup {
		h32, _ := mem.GetInt(offsetHCount)
		r32, _ := mem.GetInt(offsetRCount)
		p.hCount = int(h32)
		p.rCount = int(r32)
	}
	if p.preLongs == varOptPreLongsFull {
		p.totalWtR, _ = mem.GetDouble(offsetTotalWtR)
	}
	return p, nil
}
