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

package binomialproportionsbounds

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidInputs(t *testing.T) {
	_, err := ApproximateLowerBoundOnP(5, 6, 2.0)
	assert.Error(t, err)
	_, err = ApproximateUpperBoundOnP(5, 6, 2.0)
	assert.Error(t, err)
}

func TestDegenerateCases(t *testing.T) {
	lb, err := ApproximateLowerBoundOnP(0, 0, 2.0)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, lb)

	ub, err := ApproximateUpperBoundOnP(0, 0, 2.0)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, ub)

	lb, err = ApproximateLowerBoundOnP(100, 0, 2.0)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, lb)

	ub, err = ApproximateUpperBoundOnP(100, 100, 2.0)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, ub)
}

func TestBoundsBracketPHat(t *testing.T) {
	for _, tc := range []struct {
		n, k uint64
	}{
		{100, 1}, {100, 10}, {100, 50}, {100, 99}, {100, 100},
		{10000, 137}, {10000, 5000},
	} {
		pHat := float64(tc.k) / float64(tc.n)

		lb, err := ApproximateLowerBoundOnP(tc.n, tc.k, 2.0)
		assert.NoError(t, err)
		ub, err := ApproximateUpperBoundOnP(tc.n, tc.k, 2.0)
		assert.NoError(t, err)

		assert.GreaterOrEqual(t, lb, 0.0, "n=%d k=%d", tc.n, tc.k)
		assert.LessOrEqual(t, ub, 1.0, "n=%d k=%d", tc.n, tc.k)
		assert.LessOrEqual(t, lb, pHat, "n=%d k=%d", tc.n, tc.k)
		assert.GreaterOrEqual(t, ub, pHat, "n=%d k=%d", tc.n, tc.k)
	}
}

func TestIntervalNarrowsWithN(t *testing.T) {
	narrow := func(n, k uint64) float64 {
		lb, err := ApproximateLowerBoundOnP(n, k, 2.0)
		assert.NoError(t, err)
		ub, err := ApproximateUpperBoundOnP(n, k, 2.0)
		assert.NoError(t, err)
		return ub - lb
	}

	assert.Greater(t, narrow(100, 50), narrow(10000, 5000))
}

func TestErf(t *testing.T) {
	assert.InDelta(t, 0.0, Erf(0.0), 1e-7)
	assert.InDelta(t, 0.8427008, Erf(1.0), 1e-6)
	assert.InDelta(t, -0.8427008, Erf(-1.0), 1e-6)
	assert.InDelta(t, 0.9953223, Erf(2.0), 1e-6)
}

func TestNormalCDF(t *testing.T) {
	assert.InDelta(t, 0.5, NormalCDF(0.0), 1e-7)
	assert.InDelta(t, 0.8413447, NormalCDF(1.0), 1e-6)
	assert.InDelta(t, 1.0-0.8413447, NormalCDF(-1.0), 1e-6)
	assert.InDelta(t, 0.9772499, NormalCDF(2.0), 1e-6)
	assert.InDelta(t, 1.0, NormalCDF(math.Inf(1)), 1e-12)
}
