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

// Package services declares the contracts for the external collaborators the
// bisection engine drives: source-control revision inspection, build
// dispatch, isolated-artifact storage, task execution, and issue-tracker
// commenting. Only the contracts are specified here; production
// implementations live behind these interfaces so the core engine can be
// exercised against in-memory fakes.
package services

import (
	"context"
	"time"
)

// CommitInfo describes the subset of revision metadata the engine needs to
// label a culprit commit in a bug comment.
type CommitInfo struct {
	Subject     string
	AuthorEmail string
	Time        time.Time
}

// RevisionService inspects a source-control repository.
type RevisionService interface {
	// RepositoryURL resolves a short repository id (e.g. "chromium") to its
	// canonical URL.
	RepositoryURL(ctx context.Context, repository string) (string, error)

	// CommitRange returns the git hashes strictly after a (exclusive) up to
	// and including b (inclusive), ordered oldest-first along the first-parent
	// history of repositoryURL. It returns change.NonLinearError-compatible
	// errors when a is not an ancestor of b.
	CommitRange(ctx context.Context, repositoryURL, a, b string) ([]string, error)

	// CommitInfo fetches metadata for a single commit.
	CommitInfo(ctx context.Context, repositoryURL, hash string) (CommitInfo, error)
}

// PatchInfo describes the subset of a pending code-review change's metadata
// the engine needs to label a patched Change in a bug comment.
type PatchInfo struct {
	Subject string
	Owner   string // owner's email
}

// PatchService resolves metadata about a pending code-review patch (see
// change.Patch). It is consulted only when formatting human-readable output
// for a Change that carries a Patch; bisection itself never depends on it.
type PatchService interface {
	PatchInfo(ctx context.Context, server string, change int64, revision string) (PatchInfo, error)
}

// BuildStatus is the terminal/non-terminal state of a dispatched build.
type BuildStatus struct {
	State          string // e.g. "SCHEDULED", "STARTED", "COMPLETED"
	Result         string // e.g. "SUCCESS", "FAILURE", "CANCELED"; set only when State == "COMPLETED"
	FailureReason  string
	CancelReason   string
	URL            string
}

// Terminal reports whether the status will never change again.
func (s BuildStatus) Terminal() bool {
	return s.State == "COMPLETED"
}

// Success reports whether a terminal build produced usable artifacts.
func (s BuildStatus) Success() bool {
	return s.Terminal() && s.Result == "SUCCESS"
}

// BuildRequest is the payload used to dispatch a build.
type BuildRequest struct {
	Bucket               string
	BuilderName          string
	Clobber              bool
	ParentGotRevision     string
	DepsRevisionOverrides map[string]string // repository URL -> git hash
	PatchStorage          string
	PatchServer           string
	PatchChange           int64
	PatchRevision         string
}

// BuildService dispatches and polls builds on behalf of FindIsolate.
type BuildService interface {
	Put(ctx context.Context, req BuildRequest) (buildID string, err error)
	Status(ctx context.Context, buildID string) (BuildStatus, error)
}

// ArtifactStore is a content-addressed store of isolated build/test outputs.
type ArtifactStore interface {
	// Retrieve returns the raw bytes of a named file within the bundle
	// identified by isolateHash. Implementations may resolve one level of
	// indirection (a manifest mapping file name to a nested hash).
	Retrieve(ctx context.Context, isolateHash, filename string) ([]byte, error)
}

// TaskResult is the outcome of a dispatched test-execution task.
type TaskResult struct {
	State      string // "PENDING", "RUNNING", "COMPLETED", or a terminal infra failure state
	BotID      string
	Failure    bool
	ExitCode   int
	OutputHash string // isolate hash of the task's output bundle
}

// TaskDispatchRequest carries the parameters for a single test-execution
// task.
type TaskDispatchRequest struct {
	Name               string
	Dimensions         []Dimension
	IsolateHash        string
	ExtraArgs          []string
	ExpirationSecs     int
	ExecutionTimeoutSecs int
	IOTimeoutSecs      int
}

// Dimension is a single bot-selection constraint, e.g. {Key: "pool", Value:
// "chrome-perf-pinpoint"} or {Key: "id", Value: "<bot id>"}.
type Dimension struct {
	Key   string
	Value string
}

// TaskService dispatches and polls test-execution tasks.
type TaskService interface {
	New(ctx context.Context, req TaskDispatchRequest) (taskID string, err error)
	Result(ctx context.Context, taskID string) (TaskResult, error)
}

// IssueTracker posts comments to a bug-tracking system.
type IssueTracker interface {
	AddComment(ctx context.Context, bugID int64, text string, sendEmail bool) error
}

// IsolateCacheKey identifies a cached build artifact.
type IsolateCacheKey struct {
	Builder string
	Change  string // change.Change.String(), used as the cache's change identity
	Target  string
}

// IsolateCache is the process-wide, content-addressed cache of (builder,
// change, target) -> (isolate server, isolate hash). Put is put-if-absent:
// the first writer for a key wins.
type IsolateCache interface {
	Get(ctx context.Context, key IsolateCacheKey) (server, hash string, ok bool, err error)
	Put(ctx context.Context, key IsolateCacheKey, server, hash string) error
}

// BuildDedupIndex tracks in-flight builds per (builder, change, target) so
// that parallel Attempts on the same Change coalesce onto a single build
// dispatch. PutIfAbsent returns ok=false (without overwriting) if an entry
// already exists for the key.
type BuildDedupIndex interface {
	Get(ctx context.Context, key IsolateCacheKey) (buildID string, ok bool, err error)
	PutIfAbsent(ctx context.Context, key IsolateCacheKey, buildID string) (ok bool, err error)
}
