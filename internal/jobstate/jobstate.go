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

// Package jobstate holds the bisection policy for a single Job: the ordered
// Change list, the Attempts backing each Change, and the Explore/Compare
// operations that grow the Change list toward a single-commit culprit.
package jobstate

import (
	"context"

	"infra/pinpointbisect/internal/change"
	"infra/pinpointbisect/internal/quest"
	"infra/pinpointbisect/internal/services"
	"infra/pinpointbisect/internal/stats"
)

// RepeatCount is the number of Attempts allocated to every Change added to
// a JobState.
const RepeatCount = 15

// Comparison is the outcome of comparing two adjacent Changes.
type Comparison int

const (
	// ComparisonUnknown means neither different nor same could be
	// established yet; more Attempts may resolve it.
	ComparisonUnknown Comparison = iota
	// ComparisonPending means at least one side still has incomplete
	// Attempts.
	ComparisonPending
	// ComparisonDifferent means the two sides are statistically
	// distinguishable, either by exception rate or by result values.
	ComparisonDifferent
	// ComparisonSame means both sides have accumulated RepeatCount Attempts
	// and every signal compared equal.
	ComparisonSame
)

func (c Comparison) String() string {
	switch c {
	case ComparisonPending:
		return "pending"
	case ComparisonDifferent:
		return "different"
	case ComparisonSame:
		return "same"
	default:
		return "unknown"
	}
}

// JobState holds the immutable ordered Quest list, the mutable ordered
// Change list, and the Attempts backing each Change. Bisection inserts new
// Changes only at interior positions; the Quest list itself never grows
// once a JobState is constructed, so every Attempt it creates safely shares
// the same slice.
type JobState struct {
	quests  []quest.Quest
	changes []change.Change
	// attempts maps a Change's string identity to its Attempts, in the
	// order add_change allocated them.
	attempts map[string][]*quest.Attempt

	revisions services.RevisionService
}

// New constructs an empty JobState over the given immutable Quest list.
func New(quests []quest.Quest, revisions services.RevisionService) *JobState {
	return &JobState{
		quests:    quests,
		attempts:  map[string][]*quest.Attempt{},
		revisions: revisions,
	}
}

// Changes returns the current Change list, oldest-inserted-first modulo
// interior insertions.
func (s *JobState) Changes() []change.Change {
	return s.changes
}

// AttemptsFor returns the Attempts allocated for chg, or nil if chg was
// never added.
func (s *JobState) AttemptsFor(chg change.Change) []*quest.Attempt {
	return s.attempts[chg.String()]
}

// AddChange inserts chg at index (append if index is nil) and allocates
// RepeatCount fresh Attempts for it, each referencing the shared Quest
// list.
func (s *JobState) AddChange(chg change.Change, index *int) {
	attempts := make([]*quest.Attempt, RepeatCount)
	for i := range attempts {
		attempts[i] = quest.NewAttempt(s.quests, chg)
	}
	s.attempts[chg.String()] = attempts

	if index == nil {
		s.changes = append(s.changes, chg)
		return
	}
	s.changes = append(s.changes, change.Change{})
	copy(s.changes[*index+1:], s.changes[*index:])
	s.changes[*index] = chg
}

// ScheduleWork polls every non-completed Attempt of every Change exactly
// once and reports whether any work remains.
func (s *JobState) ScheduleWork(ctx context.Context) (bool, error) {
	workLeft := false
	for _, chg := range s.changes {
		for _, a := range s.attempts[chg.String()] {
			if a.Completed() {
				continue
			}
			if err := a.ScheduleWork(ctx); err != nil {
				return false, err
			}
			if !a.Completed() {
				workLeft = true
			}
		}
	}
	return workLeft, nil
}

// Explore iterates adjacent-pair differences in reverse index order (so
// that inserting a midpoint at an interior index never shifts a pair still
// to be visited) and, for every `different` pair, inserts their midpoint.
// Pairs whose midpoint is not computable (NonLinearError) are skipped
// without failing the Job.
func (s *JobState) Explore(ctx context.Context) error {
	for i := len(s.changes) - 1; i >= 1; i-- {
		cmp := s.Compare(s.changes[i-1], s.changes[i])
		if cmp != ComparisonDifferent {
			continue
		}
		mid, err := change.Midpoint(ctx, s.revisions, s.changes[i-1], s.changes[i])
		if err != nil {
			if change.IsNonLinear(err) {
				continue
			}
			return err
		}
		s.AddChange(mid, &i)
	}
	return nil
}

// Compare determines the relationship between two Changes already present
// in the JobState. The order of checks matters: exception-rate divergence
// is checked before result values, so a build or test that fails on one
// side and not the other is never masked by otherwise-matching samples.
func (s *JobState) Compare(a, b change.Change) Comparison {
	attemptsA := s.attempts[a.String()]
	attemptsB := s.attempts[b.String()]

	for _, at := range attemptsA {
		if !at.Completed() {
			return ComparisonPending
		}
	}
	for _, at := range attemptsB {
		if !at.Completed() {
			return ComparisonPending
		}
	}

	if exceptionRatesDiffer(attemptsA, attemptsB) {
		return ComparisonDifferent
	}

	for i := range s.quests {
		valuesA := resultValuesAt(attemptsA, i)
		valuesB := resultValuesAt(attemptsB, i)
		if stats.Compare(valuesA, valuesB) == stats.Different {
			return ComparisonDifferent
		}
	}

	if len(attemptsA) >= RepeatCount && len(attemptsB) >= RepeatCount {
		return ComparisonSame
	}
	return ComparisonUnknown
}

// exceptionRatesDiffer compares the two sides' exception-presence vectors
// (1.0 for a failed Attempt, 0.0 for a successful one) with the same
// significance test used for result values.
func exceptionRatesDiffer(a, b []*quest.Attempt) bool {
	return stats.Compare(exceptionVector(a), exceptionVector(b)) == stats.Different
}

func exceptionVector(attempts []*quest.Attempt) []float64 {
	out := make([]float64, len(attempts))
	for i, a := range attempts {
		if a.Exception() != "" {
			out[i] = 1
		}
	}
	return out
}

// resultValuesAt concatenates the result-value vectors every Attempt
// produced for Quest index i.
func resultValuesAt(attempts []*quest.Attempt, i int) []float64 {
	var out []float64
	for _, a := range attempts {
		out = append(out, a.ResultValuesByQuest()[i]...)
	}
	return out
}

// Difference pairs an index with the Change it points to, per Differences.
type Difference struct {
	Index  int
	Change change.Change
}

// Differences yields (i, change[i]) for every adjacent `different` pair.
func (s *JobState) Differences() []Difference {
	var out []Difference
	for i := 1; i < len(s.changes); i++ {
		if s.Compare(s.changes[i-1], s.changes[i]) == ComparisonDifferent {
			out = append(out, Difference{Index: i, Change: s.changes[i]})
		}
	}
	return out
}

// Dict is the stable JSON projection of a JobState, used by the versioned
// Job encoding (see internal/job).
type Dict struct {
	Changes []change.Dict `json:"changes"`
}

// AsDict renders the current Change list as its stable JSON projection.
// Quests and Attempts are intentionally excluded: they're reconstructed by
// re-running ScheduleWork/Explore from the persisted Changes plus the
// Job's original request, not by serializing in-flight Execution state.
func (s *JobState) AsDict() Dict {
	d := Dict{Changes: make([]change.Dict, len(s.changes))}
	for i, c := range s.changes {
		d.Changes[i] = c.AsDict()
	}
	return d
}
