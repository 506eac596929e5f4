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
	"iter"
	"math"
	"math/rand"
	"strings"

	"github.com/sketchlab/varopt-go/internal"
)

// VarOptItemsSketch maintains a variance-optimal weighted sample of at most k
// items from a stream of (item, weight) pairs.
//
// Items are kept in one array split into three regions:
//
//	[0, h)      H: items heavier than the current threshold tau, organized as
//	            a min-heap over their weights
//	[h, h+m)    M: a transient middle region, occupied only inside an update
//	[.., k+1)   R: reservoir items sharing the implicit weight totalWeightR/r
//
// In steady state m = 0, h + r = k, and slot h is a vacated gap; the R items
// occupy the slots to its right. Update paths temporarily fill all k+1 slots
// before downsampling restores the steady state.
//
// When all weights are equal this reduces to standard reservoir sampling.
//
// Reference: Cohen, Duffield, Kaplan, Lund, Thorup, "Stream Sampling for
// Variance-Optimal Estimation of Subset Sums", SODA 2009.
//
// A sketch is not safe for concurrent use; callers must provide external
// synchronization if one instance is shared between goroutines.
type VarOptItemsSketch[T any] struct {
	k int // maximum sample size

	h int // number of items in the H (heap) region
	m int // number of items in the middle region, nonzero only mid-update
	r int // number of items in the R (reservoir) region

	totalWeightR float64 // total weight of the R region

	data    []T       // item slots, len == currItemsAlloc
	weights []float64 // weight slots parallel to data; -1.0 in R and vacated slots

	currItemsAlloc int // currently allocated slots
	rf             ResizeFactor
	random         streamRandom

	stats varOptStats
}

// varOptStats counts which update paths and delete-slot cases fire. The
// counters are diagnostic only and are read by in-package tests.
type varOptStats struct {
	numLight        int64
	numHeavyGeneral int64
	numHeavyREq1    int64

	case1Count int64 // m == 0, delete from R
	case2Count int64 // m == 1, M item kept
	case3Count int64 // m == 1, M item deleted
	case4Count int64 // m >= 2, scan chose the virtual R slot
	case5Count int64 // m >= 2, scan chose an M slot
}

const (
	// minLgArrItems sets the smallest initial sampling array: 16 slots, or
	// k+1 slots when that is smaller.
	minLgArrItems = 4

	varOptMinK = 2 // required by a theorem about lightness during merging
	varOptMaxK = (1 << 31) - 2
)

type VarOptOption func(*varOptConfig)

type varOptConfig struct {
	resizeFactor ResizeFactor
	seed         int64
	seeded       bool
}

// WithResizeFactor sets the growth multiple used when the sample arrays fill.
func WithResizeFactor(rf ResizeFactor) VarOptOption {
	return func(c *varOptConfig) {
		c.resizeFactor = rf
	}
}

// WithRandomSeed fixes the sketch's random source for reproducible sampling.
func WithRandomSeed(seed int64) VarOptOption {
	return func(c *varOptConfig) {
		c.seed = seed
		c.seeded = true
	}
}

// NewVarOptItemsSketch creates a sketch holding at most k samples.
// k must be at least 2.
func NewVarOptItemsSketch[T any](k int, opts ...VarOptOption) (*VarOptItemsSketch[T], error) {
	if k < varOptMinK {
		return nil, fmt.Errorf("%w: k must be at least %d, got %d", ErrInvalidArgument, varOptMinK, k)
	}
	if k > varOptMaxK {
		return nil, fmt.Errorf("%w: k must be less than 2^31 - 1, got %d", ErrInvalidArgument, k)
	}

	cfg := varOptConfig{resizeFactor: defaultResizeFactor}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.resizeFactor.valid() {
		return nil, fmt.Errorf("%w: unsupported resize factor: %d", ErrInvalidArgument, int(cfg.resizeFactor))
	}
	if !cfg.seeded {
		cfg.seed = rand.Int63()
	}

	ceilingLgK, err := internal.ExactLog2(internal.CeilPowerOf2(k))
	if err != nil {
		return nil, err
	}
	initialLgSize := startingSubMultiple(ceilingLgK, cfg.resizeFactor.lg(), minLgArrItems)
	alloc := adjustedAllocationSize(k, 1<<initialLgSize)
	if alloc == k {
		alloc++ // room for the gap slot
	}

	return &VarOptItemsSketch[T]{
		k:              k,
		data:           make([]T, alloc),
		weights:        make([]float64, alloc),
		currItemsAlloc: alloc,
		rf:             cfg.resizeFactor,
		random:         newStreamRandom(cfg.seed),
	}, nil
}

// K returns the maximum number of samples the sketch retains.
func (s *VarOptItemsSketch[T]) K() int { return s.k }

// H returns the number of items in the H (heavy) region.
func (s *VarOptItemsSketch[T]) H() int { return s.h }

// R returns the number of items in the R (reservoir) region.
func (s *VarOptItemsSketch[T]) R() int { return s.r }

// TotalWeightR returns the total weight of the R region.
func (s *VarOptItemsSketch[T]) TotalWeightR() float64 { return s.totalWeightR }

// Tau returns the current weight threshold, totalWeightR / r, or 0 during
// warmup. Items at or below tau are light.
func (s *VarOptItemsSketch[T]) Tau() float64 {
	if s.r == 0 {
		return 0.0
	}
	return s.totalWeightR / float64(s.r)
}

// NumSamples returns the number of items currently retained.
func (s *VarOptItemsSketch[T]) NumSamples() int {
	return internal.Min(s.k, s.h+s.r)
}

// IsEmpty returns true if the sketch holds no items.
func (s *VarOptItemsSketch[T]) IsEmpty() bool {
	return s.h == 0 && s.r == 0
}

// Reset clears the sketch to its initial empty state while preserving k and
// the configured resize factor.
func (s *VarOptItemsSketch[T]) Reset() {
	s.h = 0
	s.m = 0
	s.r = 0
	s.totalWeightR = 0.0
	s.stats = varOptStats{}
	clear(s.data)
	clear(s.weights)
}

/* The word "pseudo" below refers to the comparisons being made against the
   OLD value of tau; true lightness or heaviness during a sampling event
   depends on the NEW value of tau, which has yet to be determined. */

// Update offers an item with a strictly positive weight to the sample.
// On error the sketch state is unchanged.
func (s *VarOptItemsSketch[T]) Update(item T, weight float64) error {
	if weight <= 0.0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: item weights must be strictly positive and finite: %v",
			ErrInvalidWeight, weight)
	}

	if s.r == 0 {
		s.updateWarmupPhase(item, weight)
		return nil
	}

	avgWtR := s.totalWeightR / float64(s.r)
	switch {
	case weight <= avgWtR:
		return s.updatePseudoLight(item, weight)
	case s.r == 1:
		return s.updatePseudoHeavyREq1(item, weight)
	default:
		return s.updatePseudoHeavyGeneral(item, weight)
	}
}

// UpdateOptional offers an item that may be absent. A nil item is ignored
// without a state change, but the weight is validated either way.
func (s *VarOptItemsSketch[T]) UpdateOptional(item *T, weight float64) error {
	if weight <= 0.0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: item weights must be strictly positive and finite: %v",
			ErrInvalidWeight, weight)
	}
	if item == nil {
		return nil
	}
	return s.Update(*item, weight)
}

func (s *VarOptItemsSketch[T]) updateWarmupPhase(item T, weight float64) {
	// store items as they come in, until full
	if s.h >= s.currItemsAlloc {
		s.growDataArrays()
	}
	s.push(item, weight) // H stays a valid min-heap between updates

	// leave warmup once the buffer overfills
	if s.h > s.k {
		s.heapify()
		s.transitionFromWarmup()
	}
}

func (s *VarOptItemsSketch[T]) transitionFromWarmup() {
	// Move the 2 lightest items from H to M, then reinterpret the lighter of
	// the two as a one-item R region.
	s.popMinToMRegion()
	s.popMinToMRegion()
	s.m--
	s.r++

	// h == k-1, m == 1, r == 1

	// Grab the R item's weight, then overwrite its slot to make stale reads
	// obvious.
	s.totalWeightR = s.weights[s.k]
	s.weights[s.k] = -1.0

	// Any 2 items can be downsampled to 1, so the two lightest items are a
	// valid initial candidate set.
	s.growCandidateSet(s.weights[s.k-1]+s.totalWeightR, 2)
}

/* In the pseudo-light case the new item's weight is at most old tau, so it
   would sit to the right of the R items in a reverse-sorted list. It is
   always light enough to join this round's downsampling. */
func (s *VarOptItemsSketch[T]) updatePseudoLight(item T, weight float64) error {
	s.stats.numLight++

	mSlot := s.h // the gap slot becomes the M region
	s.data[mSlot] = item
	s.weights[mSlot] = weight
	s.m++

	return s.growCandidateSet(s.totalWeightR+weight, s.r+1)
}

/* In the pseudo-heavy case the new item outweighs old tau and may or may not
   be light under the new tau. With the R=1 case split off, the code stays
   simple by pushing the new item into H whether it belongs there or not; it
   may come right back out during candidate growth. Pseudo-heavy items cannot
   predominate in long streams unless maxWt/minWt grows exponentially in N. */
func (s *VarOptItemsSketch[T]) updatePseudoHeavyGeneral(item T, weight float64) error {
	s.stats.numHeavyGeneral++

	s.push(item, weight)
	return s.growCandidateSet(s.totalWeightR, s.r)
}

/* Same analysis as the general pseudo-heavy case, except that with r == 1 a
   heap item must be grabbed into M to give candidate growth a valid starting
   point of two candidates. */
func (s *VarOptItemsSketch[T]) updatePseudoHeavyREq1(item T, weight float64) error {
	s.stats.numHeavyREq1++

	s.push(item, weight)
	s.popMinToMRegion() // pop the lightest back into M

	mSlot := s.k - 1 // array is k+1 slots with 1 in R, so the slot before is M
	return s.growCandidateSet(s.weights[mSlot]+s.totalWeightR, 2)
}

// push adds an item to the H region heap via the gap slot.
func (s *VarOptItemsSketch[T]) push(item T, weight float64) {
	s.data[s.h] = item
	s.weights[s.h] = weight
	s.h++

	s.siftUp(s.h - 1)
}

// popMinToMRegion moves the heap minimum into the first M slot.
func (s *VarOptItemsSketch[T]) popMinToMRegion() {
	if s.h == 0 {
		return
	}

	if s.h == 1 {
		// just update the bookkeeping
		s.m++
		s.h--
	} else {
		tgt := s.h - 1 // last heap slot, swapped with the root
		s.swap(0, tgt)
		s.m++
		s.h--
		s.siftDown(0)
	}
}

/* On entry the new item sits in either H or M, the array is completely full,
   and the candidates are right-justified: either the R set alone or the R set
   plus exactly one M item, at least 2 in total. Candidate growth pulls
   sufficiently light items from H into M for as long as strict lightness
   holds, then hands off to downsampling. */
func (s *VarOptItemsSketch[T]) growCandidateSet(wtCands float64, numCands int) error {
	for s.h > 0 {
		nextWt := s.weights[0]
		nextTotWt := wtCands + nextWt

		// Strict lightness of the next prospect, with the denominator
		// multiplied through: ideally nextWt * (nextNumCands - 1) < nextTotWt,
		// and nextNumCands - 1 == numCands. Ties are excluded so behavior at
		// equal weights stays deterministic.
		if nextWt*float64(numCands) < nextTotWt {
			wtCands = nextTotWt
			numCands++
			s.popMinToMRegion()
		} else {
			break
		}
	}

	return s.downsampleCandidateSet(wtCands, numCands)
}

// downsampleCandidateSet deletes one candidate and rebuilds the region counts,
// leaving the vacated gap at slot h.
func (s *VarOptItemsSketch[T]) downsampleCandidateSet(wtCands float64, numCands int) error {
	// need the delete slot before overwriting anything
	deleteSlot, err := s.chooseDeleteSlot(wtCands, numCands)
	if err != nil {
		return err
	}
	leftmostCandSlot := s.h

	// overwrite weights of items moving from M into R, to make bugs obvious
	stopIdx := leftmostCandSlot + s.m
	for j := leftmostCandSlot; j < stopIdx; j++ {
		s.weights[j] = -1.0
	}

	// The next two lines work even when deleteSlot == leftmostCandSlot.
	s.data[deleteSlot] = s.data[leftmostCandSlot]
	var zero T
	s.data[leftmostCandSlot] = zero

	s.m = 0
	s.r = numCands - 1
	s.totalWeightR = wtCands
	return nil
}

func (s *VarOptItemsSketch[T]) chooseDeleteSlot(wtCand float64, numCand int) (int, error) {
	if s.r == 0 {
		return 0, fmt.Errorf("chooseDeleteSlot called while in warmup (r == 0)")
	}

	switch {
	case s.m == 0:
		// this happens when a really heavy item arrives
		s.stats.case1Count++
		return s.pickRandomSlotInR(), nil
	case s.m == 1:
		// Keep the M item or delete it in favor of a random R item.
		// p(keep) = (numCand - 1) * wtM / wtCand
		wtMCand := s.weights[s.h] // the M item's slot is h
		if wtCand*s.random.nextDoubleExcludeZero() < float64(numCand-1)*wtMCand {
			s.stats.case2Count++
			return s.pickRandomSlotInR(), nil
		}
		s.stats.case3Count++
		return s.h, nil
	default:
		deleteSlot := s.chooseWeightedDeleteSlot(wtCand, numCand)
		firstRSlot := s.h + s.m
		if deleteSlot == firstRSlot {
			s.stats.case4Count++
			return s.pickRandomSlotInR(), nil
		}
		s.stats.case5Count++
		return deleteSlot, nil
	}
}

// chooseWeightedDeleteSlot scans the M region, deleting item i with
// probability 1 - (numCand-1) * weight[i] / wtCand. Returning the first R
// slot signals that the deletion should come from R instead.
func (s *VarOptItemsSketch[T]) chooseWeightedDeleteSlot(wtCand float64, numCand int) int {
	offset := s.h
	finalM := (offset + s.m) - 1
	numToKeep := numCand - 1

	leftSubtotal := 0.0
	rightSubtotal := -1.0 * wtCand * s.random.nextDoubleExcludeZero()

	for i := offset; i <= finalM; i++ {
		leftSubtotal += float64(numToKeep) * s.weights[i]
		rightSubtotal += wtCand

		if leftSubtotal < rightSubtotal {
			return i
		}
	}

	return finalM + 1
}

func (s *VarOptItemsSketch[T]) pickRandomSlotInR() int {
	offset := s.h + s.m
	if s.r == 1 {
		return offset
	}
	return offset + s.random.nextInt(s.r)
}

// heapify converts the H region into a valid min-heap.
func (s *VarOptItemsSketch[T]) heapify() {
	if s.h < 2 {
		return
	}

	lastSlot := s.h - 1
	lastNonLeaf := ((lastSlot + 1) / 2) - 1

	for j := lastNonLeaf; j >= 0; j-- {
		s.siftDown(j)
	}
}

func (s *VarOptItemsSketch[T]) siftDown(slotIn int) {
	lastSlot := s.h - 1
	slot := slotIn
	child := 2*slotIn + 1 // might be invalid, checked below

	for child <= lastSlot {
		child2 := child + 1
		if child2 <= lastSlot && s.weights[child2] < s.weights[child] {
			child = child2
		}

		if s.weights[slot] <= s.weights[child] {
			break
		}

		s.swap(slot, child)
		slot = child
		child = 2*slot + 1
	}
}

func (s *VarOptItemsSketch[T]) siftUp(slotIn int) {
	slot := slotIn
	p := ((slot + 1) / 2) - 1 // parent, valid while slot >= 1

	for slot > 0 && s.weights[slot] < s.weights[p] {
		s.swap(slot, p)
		slot = p
		p = ((slot + 1) / 2) - 1
	}
}

func (s *VarOptItemsSketch[T]) swap(i, j int) {
	s.data[i], s.data[j] = s.data[j], s.data[i]
	s.weights[i], s.weights[j] = s.weights[j], s.weights[i]
}

// growDataArrays enlarges the sample arrays by the resize factor, capped at
// k+1 slots.
func (s *VarOptItemsSketch[T]) growDataArrays() {
	newSize := adjustedAllocationSize(s.k, s.currItemsAlloc<<s.rf.lg())
	if newSize == s.k {
		newSize++ // room for the gap slot
	}
	if newSize <= s.currItemsAlloc {
		return
	}

	newData := make([]T, newSize)
	copy(newData, s.data)
	s.data = newData

	newWeights := make([]float64, newSize)
	copy(newWeights, s.weights)
	s.weights = newWeights

	s.currItemsAlloc = newSize
}

// Sample is an item together with its adjusted weight.
type Sample[T any] struct {
	Item   T
	Weight float64
}

// Samples returns a snapshot of the current sample set, or nil if the sketch
// is empty. H items carry their original weights; R items each carry
// totalWeightR / r.
func (s *VarOptItemsSketch[T]) Samples() []Sample[T] {
	if s.h == 0 && s.r == 0 {
		return nil
	}

	out := make([]Sample[T], 0, s.NumSamples())
	for sample := range s.All() {
		out = append(out, sample)
	}
	return out
}

// All returns an iterator over the current sample set: the H region in heap
// slot order followed by the R region in slot order.
func (s *VarOptItemsSketch[T]) All() iter.Seq[Sample[T]] {
	return func(yield func(Sample[T]) bool) {
		for i := 0; i < s.h; i++ {
			if !yield(Sample[T]{Item: s.data[i], Weight: s.weights[i]}) {
				return
			}
		}
		if s.r > 0 {
			tau := s.totalWeightR / float64(s.r)
			rStart := s.h + 1 // skip the gap slot
			for i := 0; i < s.r; i++ {
				if !yield(Sample[T]{Item: s.data[rStart+i], Weight: tau}) {
					return
				}
			}
		}
	}
}

// EstimateSubsetSum estimates the total weight of the stream items matching
// the predicate, with bounds at roughly two standard deviations. The answer is
// exact while the sketch is in warmup.
func (s *VarOptItemsSketch[T]) EstimateSubsetSum(predicate func(T) bool) (SampleSubsetSummary, error) {
	if s.h == 0 && s.r == 0 {
		return SampleSubsetSummary{}, nil
	}

	totalWtH := 0.0
	hTrueWeight := 0.0
	for i := 0; i < s.h; i++ {
		wt := s.weights[i]
		totalWtH += wt
		if predicate(s.data[i]) {
			hTrueWeight += wt
		}
	}

	if s.r == 0 {
		// no reservoir, so the sketch is exact
		return SampleSubsetSummary{
			LowerBound:        hTrueWeight,
			Estimate:          hTrueWeight,
			UpperBound:        hTrueWeight,
			TotalSketchWeight: totalWtH,
		}, nil
	}

	rTrueCount := 0
	rStart := s.h + 1
	for i := 0; i < s.r; i++ {
		if predicate(s.data[rStart+i]) {
			rTrueCount++
		}
	}

	// The sketch does not track the stream length, so the effective sampling
	// rate is unknown and no rate-based tightening is applied to the bounds.
	lbFraction, err := pseudoHypergeometricLowerBoundOnP(uint64(s.r), uint64(rTrueCount), 0.0)
	if err != nil {
		return SampleSubsetSummary{}, err
	}
	ubFraction, err := pseudoHypergeometricUpperBoundOnP(uint64(s.r), uint64(rTrueCount), 0.0)
	if err != nil {
		return SampleSubsetSummary{}, err
	}
	estFraction := float64(rTrueCount) / float64(s.r)

	return SampleSubsetSummary{
		LowerBound:        hTrueWeight + s.totalWeightR*lbFraction,
		Estimate:          hTrueWeight + s.totalWeightR*estFraction,
		UpperBound:        hTrueWeight + s.totalWeightR*ubFraction,
		TotalSketchWeight: totalWtH + s.totalWeightR,
	}, nil
}

// String returns a human-readable summary of the sketch, without data.
func (s *VarOptItemsSketch[T]) String() string {
	var sb strings.Builder
	sb.WriteString("\n### VarOptItemsSketch SUMMARY:\n")
	fmt.Fprintf(&sb, "   k            : %d\n", s.k)
	fmt.Fprintf(&sb, "   h            : %d\n", s.h)
	fmt.Fprintf(&sb, "   r            : %d\n", s.r)
	fmt.Fprintf(&sb, "   weight_r     : %f\n", s.totalWeightR)
	fmt.Fprintf(&sb, "   Current size : %d\n", s.currItemsAlloc)
	fmt.Fprintf(&sb, "   Resize factor: %s\n", s.rf)
	sb.WriteString("### END SKETCH SUMMARY\n")
	return sb.String()
}
