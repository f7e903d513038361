// Copyright 2021 The Chromium Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats implements the two-sample significance test used to decide
// whether two sets of measurements come from different distributions.
package stats

import (
	"github.com/aclements/go-moremath/stats"
)

// Verdict is the outcome of comparing two sample sets.
type Verdict int

const (
	// Unknown means the comparison could not establish a significant
	// difference (including degenerate inputs, e.g. an empty sample set).
	Unknown Verdict = iota
	// Different means the two sample sets are statistically distinguishable
	// at the configured significance level.
	Different
)

func (v Verdict) String() string {
	if v == Different {
		return "different"
	}
	return "unknown"
}

// SignificanceLevel is the p-value threshold below which two sample sets
// are considered Different. Chosen small, combined with treating
// insignificant results as Unknown (never Same) until the caller's sample
// budget is exhausted, to minimize false positives under repeated testing
// of growing sample sets.
const SignificanceLevel = 0.001

// Compare runs a two-sided Mann-Whitney U test (normal approximation with
// continuity correction for n,m >= 8; exact distribution below that) on a
// and b. It returns Unknown if either sample set is empty or the test is
// degenerate (e.g. all-identical values on both sides), and Different if
// the resulting p-value is below SignificanceLevel. It never returns a
// "same" verdict -- that determination belongs to a higher layer once a
// sample budget has been exhausted.
func Compare(a, b []float64) Verdict {
	if len(a) == 0 || len(b) == 0 {
		return Unknown
	}

	result, err := stats.MannWhitneyUTest(a, b, stats.LocationDiffers)
	if err != nil {
		// A degenerate input (e.g. ties exhausting all rank information)
		// cannot support a significance claim.
		return Unknown
	}
	if result.P < SignificanceLevel {
		return Different
	}
	return Unknown
}
