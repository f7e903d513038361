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

// Package job implements the Job entity: the persisted record of a single
// bisection run, its request, its lifecycle (Start/Run/Complete/Fail), and
// the versioned encoding of its embedded JobState.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/gae/service/datastore"

	"infra/pinpointbisect/internal/change"
	"infra/pinpointbisect/internal/jobstate"
	"infra/pinpointbisect/internal/quest"
	"infra/pinpointbisect/internal/services"
)

// Status is the externally visible lifecycle state of a Job, derived from
// its persisted fields rather than stored directly.
type Status int

const (
	StatusRunning Status = iota
	StatusFailed
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusFailed:
		return "Failed"
	default:
		return "Completed"
	}
}

// ComparisonMode distinguishes why a Job is bisecting: a functional
// (pass/fail) regression versus a performance (continuous metric)
// regression. It is accepted from the creation request and threaded through
// to the bug comment, but -- matching the request -- does not currently
// alter Compare's statistical test, which already treats both uniformly via
// Mann-Whitney on result_values.
type ComparisonMode string

const (
	ComparisonFunctional  ComparisonMode = "functional"
	ComparisonPerformance ComparisonMode = "performance"
)

// Request is the validated job-creation request from §6 of the bisection
// engine's external interface.
type Request struct {
	Target         string            `json:"target"`
	Configuration  string            `json:"configuration,omitempty"`
	Repository     string            `json:"repository,omitempty"`
	StartGitHash   string            `json:"start_git_hash,omitempty"`
	EndGitHash     string            `json:"end_git_hash,omitempty"`
	Changes        []change.Dict     `json:"changes,omitempty"` // optional override of start/end
	Patch          *change.Patch     `json:"patch,omitempty"`
	AutoExplore    bool              `json:"auto_explore,omitempty"`
	BugID          int64             `json:"bug_id,omitempty"`
	ComparisonMode ComparisonMode    `json:"comparison_mode,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	User           string            `json:"user,omitempty"`
}

// Validate checks the Request for the minimum viable job-creation shape.
// Malformed requests never reach job creation, matching §6's "structured
// bad-request error, job not created" contract.
func (r *Request) Validate() error {
	if r.Target == "" {
		return errors.Reason("target is required").Err()
	}
	if len(r.Changes) == 0 {
		if r.Repository == "" || r.StartGitHash == "" || r.EndGitHash == "" {
			return errors.Reason("repository, start_git_hash, and end_git_hash are required when changes is not given").Err()
		}
	}
	switch r.ComparisonMode {
	case "", ComparisonFunctional, ComparisonPerformance:
	default:
		return errors.Reason("comparison_mode %q is not one of functional, performance", r.ComparisonMode).Err()
	}
	return nil
}

// Job is the persisted record of one bisection run. JobState is held
// in-memory via State once hydrated; Encoded carries its durable,
// versioned projection (see Encode/Decode).
type Job struct {
	ID int64 `gae:"$id"`

	// UndeclaredFields catches any datastore properties this schema doesn't
	// explicitly name, so a forward-incompatible field addition never
	// silently drops data on a round trip through an older binary.
	UndeclaredFields datastore.PropertyMap `gae:",extra"`

	Created         time.Time `gae:"created,noindex"`
	Updated         time.Time `gae:"updated,noindex"`
	RunningTaskName string    `gae:"running_task_name,noindex"`
	ExceptionTrace  string    `gae:"exception_trace,noindex"`

	ArgumentsJSON string `gae:"arguments,noindex"` // the original Request, JSON-encoded
	AutoExplore   bool   `gae:"auto_explore"`
	BugID         int64  `gae:"bug_id"`

	// StateVersion and StateJSON are JobState's versioned encoding (see
	// Encode/Decode), replacing the original pickled blob. StateVersion lets
	// a future schema change decode an older row without data loss.
	StateVersion int    `gae:"state_version,noindex"`
	StateJSON    string `gae:"state_json,noindex"`

	// State is JobState hydrated in memory for this process's lifetime. It
	// is not itself a datastore property; Run persists it via StateJSON
	// before returning.
	State *jobstate.JobState `gae:"-"`

	request    Request
	revisions  services.RevisionService
	issues     services.IssueTracker
	patches    services.PatchService
	quests     []quest.Quest
}

// SetPatchService attaches a services.PatchService this Job's bug comments
// will consult to describe a culprit Change that carries a Patch. Optional:
// a nil (the default) simply omits the patch detail.
func (j *Job) SetPatchService(p services.PatchService) {
	j.patches = p
}

// currentStateVersion is bumped whenever the Dict shape in
// internal/jobstate changes in a way that isn't purely additive.
const currentStateVersion = 1

// New constructs a fresh Job from a validated Request, the concrete Quest
// pipeline it will run, and its collaborators.
func New(id int64, req Request, quests []quest.Quest, revisions services.RevisionService, issues services.IssueTracker) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	argsJSON, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Annotate(err, "encoding job arguments").Err()
	}
	return &Job{
		ID:            id,
		ArgumentsJSON: string(argsJSON),
		AutoExplore:   req.AutoExplore,
		BugID:         req.BugID,
		State:         jobstate.New(quests, revisions),
		request:       req,
		revisions:     revisions,
		issues:        issues,
		quests:        quests,
	}, nil
}

// Status derives the Job's externally visible lifecycle state.
func (j *Job) Status() Status {
	if j.RunningTaskName != "" {
		return StatusRunning
	}
	if j.ExceptionTrace != "" {
		return StatusFailed
	}
	return StatusCompleted
}

// Start enqueues the first tick. taskName is the caller-chosen fresh task
// identity (a UUID, per §4.9's deduplication contract); enqueue is expected
// to dedupe by that name within a cooldown window.
func (j *Job) Start(ctx context.Context, enqueue func(ctx context.Context, taskName, payload string) error, taskName string) error {
	if err := enqueue(ctx, taskName, fmt.Sprintf("%d", j.ID)); err != nil {
		return errors.Annotate(err, "enqueueing initial tick for job %d", j.ID).Err()
	}
	j.RunningTaskName = taskName
	if j.BugID != 0 {
		if err := j.issues.AddComment(ctx, j.BugID, fmt.Sprintf("Started bisection job %d.", j.ID), false); err != nil {
			return errors.Annotate(err, "posting start comment").Err()
		}
	}
	j.Updated = timeNow(ctx)
	return nil
}

// Run executes exactly one tick: clears the prior task bookkeeping,
// explores if auto_explore is set, schedules one round of work, then
// re-enqueues (storing the new task name) or completes. Any error from
// steps 2-4 is recorded via Fail and re-raised so the caller's task-queue
// handler reports failure and the delivery is retried.
func (j *Job) Run(ctx context.Context, enqueue func(ctx context.Context, taskName, payload string) error, nextTaskName string) error {
	j.RunningTaskName = ""
	j.ExceptionTrace = ""

	if err := j.tick(ctx, enqueue, nextTaskName); err != nil {
		j.Fail(ctx, err)
		j.Updated = timeNow(ctx)
		return err
	}
	j.Updated = timeNow(ctx)
	return nil
}

func (j *Job) tick(ctx context.Context, enqueue func(ctx context.Context, taskName, payload string) error, nextTaskName string) error {
	if j.AutoExplore {
		if err := j.State.Explore(ctx); err != nil {
			return errors.Annotate(err, "exploring job %d", j.ID).Err()
		}
	}
	workLeft, err := j.State.ScheduleWork(ctx)
	if err != nil {
		return errors.Annotate(err, "scheduling work for job %d", j.ID).Err()
	}

	if workLeft {
		if err := enqueue(ctx, nextTaskName, fmt.Sprintf("%d", j.ID)); err != nil {
			return errors.Annotate(err, "re-enqueueing job %d", j.ID).Err()
		}
		j.RunningTaskName = nextTaskName
		return nil
	}
	return j.Complete(ctx)
}

// Fail records err's trace as the Job's top-level exception and posts an
// "error" bug comment. It does not itself re-raise; Run does that.
func (j *Job) Fail(ctx context.Context, err error) {
	j.ExceptionTrace = err.Error()
	if j.BugID != 0 && j.issues != nil {
		j.issues.AddComment(ctx, j.BugID, fmt.Sprintf("Bisection job %d failed: %s", j.ID, err.Error()), false)
	}
}

// Complete gathers the final culprit Changes and posts a bug comment
// listing each with commit metadata.
func (j *Job) Complete(ctx context.Context) error {
	diffs := j.State.Differences()
	if j.BugID != 0 && j.issues != nil {
		text, err := j.formatCompletionComment(ctx, diffs)
		if err != nil {
			return err
		}
		if err := j.issues.AddComment(ctx, j.BugID, text, true); err != nil {
			return errors.Annotate(err, "posting completion comment").Err()
		}
	}
	return nil
}

func (j *Job) formatCompletionComment(ctx context.Context, diffs []jobstate.Difference) (string, error) {
	if len(diffs) == 0 {
		return fmt.Sprintf("Bisection job %d completed; no culprit found.", j.ID), nil
	}
	text := fmt.Sprintf("Bisection job %d found %d culprit(s):\n", j.ID, len(diffs))
	for _, d := range diffs {
		text += formatChangeForBug(ctx, j.revisions, j.patches, d.Change) + "\n"
	}
	return text, nil
}

// formatChangeForBug renders one culprit Change as a bug-comment line:
// commit subject, author, timestamp, and link, resolved via the revision
// service, plus the patch's subject and owner when the Change carries one.
// Missing metadata degrades to the bare commit identifier rather than
// failing the whole comment.
func formatChangeForBug(ctx context.Context, revisions services.RevisionService, patches services.PatchService, chg change.Change) string {
	commit := chg.LastCommit()
	info, err := revisions.CommitInfo(ctx, commit.RepositoryURL, commit.GitHash)
	if err != nil {
		return fmt.Sprintf("  %s", chg.String())
	}
	line := fmt.Sprintf("  %s by %s at %s\n  %s/+/%s", info.Subject, info.AuthorEmail,
		info.Time.Format(time.RFC3339), commit.RepositoryURL, commit.GitHash)
	if chg.Patch != nil && patches != nil {
		if p, err := patches.PatchInfo(ctx, chg.Patch.Server, chg.Patch.Change, chg.Patch.Revision); err == nil {
			line += fmt.Sprintf("\n  with patch %q by %s", p.Subject, p.Owner)
		}
	}
	return line
}

// Encode renders StateVersion/StateJSON from the live State, ready to
// persist. Call before writing the Job back to storage.
func (j *Job) Encode() error {
	d := j.State.AsDict()
	raw, err := json.Marshal(d)
	if err != nil {
		return errors.Annotate(err, "encoding job state").Err()
	}
	j.StateVersion = currentStateVersion
	j.StateJSON = string(raw)
	return nil
}

// Decode reconstructs a JobState from StateVersion/StateJSON plus the
// current process's Quest pipeline and RevisionService. It is the
// replacement for unpickling the opaque blob: StateVersion lets future,
// purely-additive schema changes decode an older row; a change that is not
// purely additive bumps currentStateVersion and this switch grows a case
// for the old shape.
func (j *Job) Decode(quests []quest.Quest, revisions services.RevisionService) error {
	if j.StateJSON == "" {
		j.State = jobstate.New(quests, revisions)
		return nil
	}
	switch j.StateVersion {
	case currentStateVersion, 0:
		var d jobstate.Dict
		if err := json.Unmarshal([]byte(j.StateJSON), &d); err != nil {
			return errors.Annotate(err, "decoding job state").Err()
		}
		state := jobstate.New(quests, revisions)
		for _, cd := range d.Changes {
			commits := make([]change.Commit, len(cd.Commits))
			for i, c := range cd.Commits {
				commits[i] = change.Commit{Repository: c.Repository, RepositoryURL: c.RepositoryURL, GitHash: c.GitHash}
			}
			var patch *change.Patch
			if cd.Patch != nil {
				patch = &change.Patch{Server: cd.Patch.Server, Change: cd.Patch.Change, Revision: cd.Patch.Revision}
			}
			chg, err := change.New(commits, patch)
			if err != nil {
				return errors.Annotate(err, "decoding change").Err()
			}
			state.AddChange(chg, nil)
		}
		j.State = state
		return nil
	default:
		return errors.Reason("unsupported job state version %d", j.StateVersion).Err()
	}
}

// timeNow is a seam so tests can control the Updated timestamp
// deterministically; production callers pass context.Background() and get
// wall-clock time.
func timeNow(ctx context.Context) time.Time {
	if t, ok := ctx.Value(timeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

type timeKey struct{}

// WithTime returns a context carrying a fixed time for timeNow to observe,
// used by tests that need deterministic Updated timestamps.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey{}, t)
}
