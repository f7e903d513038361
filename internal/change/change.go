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

// Package change models the identity and ordering of source revisions that
// the bisection engine builds and measures: Commits, optional Gerrit
// Patches, and Changes (ordered tuples of Commits plus an optional Patch).
package change

import (
	"context"
	"fmt"
	"strings"

	"go.chromium.org/luci/common/errors"

	"infra/pinpointbisect/internal/services"
)

// NonLinearTag marks errors returned when a midpoint or commit range cannot
// be computed because the two endpoints are not connected by a linear,
// first-parent history.
var NonLinearTag = errors.BoolTag{Key: errors.NewTagKey("non-linear")}

// IsNonLinear reports whether err was tagged as a non-linear-history
// failure.
func IsNonLinear(err error) bool {
	return NonLinearTag.In(err)
}

// Commit identifies a single revision in a single repository. Two Commits
// are equal iff both fields match; RepositoryURL is resolved metadata, not
// part of identity.
type Commit struct {
	Repository    string
	RepositoryURL string
	GitHash       string
}

// NewCommit resolves repository to a canonical URL via svc and returns the
// Commit. It fails if the repository is unknown.
func NewCommit(ctx context.Context, svc services.RevisionService, repository, gitHash string) (Commit, error) {
	url, err := svc.RepositoryURL(ctx, repository)
	if err != nil {
		return Commit{}, errors.Annotate(err, "resolving repository %q", repository).Err()
	}
	return Commit{Repository: repository, RepositoryURL: url, GitHash: gitHash}, nil
}

// Equal compares two Commits by repository and hash.
func (c Commit) Equal(o Commit) bool {
	return c.Repository == o.Repository && c.GitHash == o.GitHash
}

func (c Commit) String() string {
	return fmt.Sprintf("%s@%s", c.Repository, c.GitHash)
}

// Range returns the commits strictly after a (exclusive) up to and
// including b (inclusive), ordered oldest-first along the first-parent
// history of their shared repository. It fails, tagged NonLinearTag, if a
// and b are in different repositories or a is not an ancestor of b.
func Range(ctx context.Context, svc services.RevisionService, a, b Commit) ([]Commit, error) {
	if a.Repository != b.Repository {
		return nil, NonLinearTag.Apply(errors.Reason(
			"commits %s and %s are in different repositories", a, b).Err())
	}
	hashes, err := svc.CommitRange(ctx, a.RepositoryURL, a.GitHash, b.GitHash)
	if err != nil {
		return nil, NonLinearTag.Apply(errors.Annotate(err, "computing commit range %s..%s", a, b).Err())
	}
	out := make([]Commit, len(hashes))
	for i, h := range hashes {
		out[i] = Commit{Repository: a.Repository, RepositoryURL: a.RepositoryURL, GitHash: h}
	}
	return out, nil
}

// Patch pins a pending Gerrit change on top of a Commit. Immutable.
type Patch struct {
	Server   string `json:"server"` // review-server-url
	Change   int64  `json:"change"`
	Revision string `json:"revision"`
}

func (p *Patch) String() string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%s/c/%d/%s", p.Server, p.Change, p.Revision)
}

// Equal compares two (possibly nil) Patches.
func (p *Patch) Equal(o *Patch) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Server == o.Server && p.Change == o.Change && p.Revision == o.Revision
}

// Change is a fully specified source state: an ordered tuple of Commits
// (commits[0] is the base repository; later entries pin dependency
// repositories) plus an optional Patch.
type Change struct {
	Commits []Commit
	Patch   *Patch
}

// New validates and constructs a Change. commits must have at least one
// entry.
func New(commits []Commit, patch *Patch) (Change, error) {
	if len(commits) == 0 {
		return Change{}, errors.Reason("a Change requires at least one Commit").Err()
	}
	return Change{Commits: append([]Commit(nil), commits...), Patch: patch}, nil
}

// BaseCommit is commits[0], the repository FindIsolate reports as
// parent_got_revision when dispatching a build.
func (c Change) BaseCommit() Commit {
	return c.Commits[0]
}

// LastCommit is commits[len-1], the commit that bisection walks.
func (c Change) LastCommit() Commit {
	return c.Commits[len(c.Commits)-1]
}

// DependencyCommits is every commit but the last: the commits held fixed
// while LastCommit is what bisection varies. Used by Midpoint and
// dependenciesEqual to compare the fixed part of two Changes.
func (c Change) DependencyCommits() []Commit {
	return c.Commits[:len(c.Commits)-1]
}

// OverrideCommits is every commit but the first: the dependency repositories
// a build dispatch pins via deps_revision_overrides, with BaseCommit (which
// is reported separately, as parent_got_revision) excluded.
func (c Change) OverrideCommits() []Commit {
	return c.Commits[1:]
}

// Equal compares two Changes by their full commit tuple and Patch.
func (c Change) Equal(o Change) bool {
	if len(c.Commits) != len(o.Commits) {
		return false
	}
	for i := range c.Commits {
		if !c.Commits[i].Equal(o.Commits[i]) {
			return false
		}
	}
	return c.Patch.Equal(o.Patch)
}

// String renders a Change as a stable single-line identifier, used to
// substitute the --results-label placeholder when dispatching test runs and
// to key the isolate cache.
func (c Change) String() string {
	var parts []string
	for _, commit := range c.Commits {
		parts = append(parts, commit.String())
	}
	s := strings.Join(parts, "+")
	if c.Patch != nil {
		s += " with " + c.Patch.String()
	}
	return s
}

// dependenciesEqual reports whether two Changes carry the same dependency
// commit tuple (everything but LastCommit).
func dependenciesEqual(a, b Change) bool {
	da, db := a.DependencyCommits(), b.DependencyCommits()
	if len(da) != len(db) {
		return false
	}
	for i := range da {
		if !da[i].Equal(db[i]) {
			return false
		}
	}
	return true
}

// Midpoint returns a new Change representing the commit halfway between
// a.LastCommit() and b.LastCommit() on first-parent history, carrying
// forward b's other dependency commits and dropping any Patch. It fails,
// tagged NonLinearTag, when:
//   - a carries a Patch (pre-patch and patched builds are incomparable);
//   - a.LastCommit() == b.LastCommit() but their dependency tuples differ;
//   - the range has length <= 1 (a and b are already adjacent).
//
// When the range has even length, the lower-indexed (older) of the two
// central commits is returned, making bisection deterministic.
func Midpoint(ctx context.Context, svc services.RevisionService, a, b Change) (Change, error) {
	if a.Patch != nil {
		return Change{}, NonLinearTag.Apply(errors.Reason(
			"change %v carries a patch; cannot compute a midpoint", a).Err())
	}
	if a.LastCommit().Equal(b.LastCommit()) && !dependenciesEqual(a, b) {
		return Change{}, NonLinearTag.Apply(errors.Reason(
			"changes %v and %v share a last commit but differ in dependency commits", a, b).Err())
	}

	rng, err := Range(ctx, svc, a.LastCommit(), b.LastCommit())
	if err != nil {
		return Change{}, err
	}
	if len(rng) <= 1 {
		return Change{}, NonLinearTag.Apply(errors.Reason(
			"changes %v and %v are already adjacent", a, b).Err())
	}

	// between excludes b.LastCommit() (rng's final element): the commits
	// strictly between a and b on both ends.
	between := rng[:len(rng)-1]
	idx := (len(between) - 1) / 2
	mid := between[idx]

	commits := append([]Commit(nil), b.DependencyCommits()...)
	commits = append(commits, mid)
	return Change{Commits: commits}, nil
}

// Dict is the stable JSON projection of a Change for external consumers.
type Dict struct {
	Commits []CommitDict `json:"commits"`
	Patch   *PatchDict   `json:"patch,omitempty"`
}

// CommitDict is the JSON projection of a Commit. RepositoryURL is included
// (despite being resolved metadata, not identity) so that a Job decoded
// after a process restart doesn't need a RevisionService round trip before
// its next tick can key CommitRange/build-dispatch lookups correctly.
type CommitDict struct {
	Repository    string `json:"repository"`
	RepositoryURL string `json:"repository_url"`
	GitHash       string `json:"git_hash"`
}

// PatchDict is the JSON projection of a Patch.
type PatchDict struct {
	Server   string `json:"server"`
	Change   int64  `json:"change"`
	Revision string `json:"revision"`
}

// AsDict renders the Change as its stable JSON projection.
func (c Change) AsDict() Dict {
	d := Dict{Commits: make([]CommitDict, len(c.Commits))}
	for i, commit := range c.Commits {
		d.Commits[i] = CommitDict{Repository: commit.Repository, RepositoryURL: commit.RepositoryURL, GitHash: commit.GitHash}
	}
	if c.Patch != nil {
		d.Patch = &PatchDict{Server: c.Patch.Server, Change: c.Patch.Change, Revision: c.Patch.Revision}
	}
	return d
}
