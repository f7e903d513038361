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

// Command pinpointd serves the bisection engine's two external surfaces:
// job creation (POST /api/new) and the task-queue tick handler (POST
// /api/run/:job_id), per §6 of the engine's external interface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	gax "github.com/googleapis/gax-go/v2"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	ds "go.chromium.org/luci/gae/service/datastore"
	"go.chromium.org/luci/server"
	"go.chromium.org/luci/server/gaeemulation"
	"go.chromium.org/luci/server/module"
	"go.chromium.org/luci/server/router"

	taskspb "google.golang.org/genproto/googleapis/cloud/tasks/v2"

	"infra/pinpointbisect/internal/change"
	"infra/pinpointbisect/internal/job"
	"infra/pinpointbisect/internal/jobstate"
	"infra/pinpointbisect/internal/quest"
	"infra/pinpointbisect/internal/quest/findisolate"
	"infra/pinpointbisect/internal/quest/readvalue"
	"infra/pinpointbisect/internal/quest/runtest"
	"infra/pinpointbisect/internal/scheduler"
	"infra/pinpointbisect/internal/services"
	"infra/pinpointbisect/internal/services/fake"
	"infra/pinpointbisect/internal/services/gerrit"
)

// nextJobID is a process-local id source. A real deployment would rely on
// the persistence layer's own id allocation (e.g. a Datastore-assigned
// incomplete key); this is a placeholder, documented in DESIGN.md, since
// the persistence store's contract -- "a single-entity key-value store" --
// is explicitly out of scope for this engine (§1).
var nextJobID struct {
	mu sync.Mutex
	n  int64
}

func allocateJobID() int64 {
	nextJobID.mu.Lock()
	defer nextJobID.mu.Unlock()
	nextJobID.n++
	return nextJobID.n
}

// collaborators bundles the engine's out-of-process dependencies. The
// Remote services section of the engine's scope (§1) specifies only their
// contracts; production wiring of real Buildbucket/Swarming/Gerrit/issue-
// tracker clients behind these interfaces is left to the deploying service,
// matching how the quest packages were built and tested against
// internal/services/fake throughout this repository.
type collaborators struct {
	revisions *fake.Revisions
	builds    *fake.Builds
	artifacts *fake.Artifacts
	tasks     *fake.Tasks
	issues    *fake.IssueTracker
	cache     *fake.IsolateCache
	dedup     *fake.BuildDedupIndex
}

func newCollaborators() *collaborators {
	return &collaborators{
		revisions: fake.NewRevisions(),
		builds:    fake.NewBuilds(),
		artifacts: fake.NewArtifacts(),
		tasks:     fake.NewTasks(),
		issues:    &fake.IssueTracker{},
		cache:     fake.NewIsolateCache(),
		dedup:     fake.NewBuildDedupIndex(),
	}
}

// questsForRequest builds the default three-stage pipeline --
// FindIsolate -> RunTest -> ReadValue(chart-json) -- for a job request.
// Builder and benchmark chart/trace selection is driven by the request's
// tags, a deliberately minimal stand-in for the configuration-preset system
// the engine's Non-goals explicitly excludes.
func questsForRequest(req job.Request, c *collaborators) ([]quest.Quest, error) {
	builder := req.Tags["builder"]
	if builder == "" {
		builder = "Performance Builder"
	}
	chart := req.Tags["chart"]
	if chart == "" {
		chart = req.Target
	}

	fi, err := findisolate.New(builder, req.Target, c.builds, c.cache, c.dedup)
	if err != nil {
		return nil, errors.Annotate(err, "building find-isolate quest").Err()
	}
	rt := runtest.New(nil, []string{"--results-label", "PLACEHOLDER"}, c.tasks)
	rv := readvalue.NewChartJSON(chart, req.Tags["tir_label"], req.Tags["trace"], c.artifacts)
	return []quest.Quest{fi, rt, rv}, nil
}

// changesFromRequest resolves a job request's start/end commit pair (or its
// explicit changes override) into the two Changes Explore will bisect
// between.
func changesFromRequest(ctx context.Context, req job.Request, revisions services.RevisionService) (change.Change, change.Change, error) {
	if len(req.Changes) >= 2 {
		a, err := changeFromDict(ctx, revisions, req.Changes[0])
		if err != nil {
			return change.Change{}, change.Change{}, err
		}
		b, err := changeFromDict(ctx, revisions, req.Changes[len(req.Changes)-1])
		if err != nil {
			return change.Change{}, change.Change{}, err
		}
		return a, b, nil
	}

	startCommit, err := change.NewCommit(ctx, revisions, req.Repository, req.StartGitHash)
	if err != nil {
		return change.Change{}, change.Change{}, errors.Annotate(err, "resolving start_git_hash").Err()
	}
	endCommit, err := change.NewCommit(ctx, revisions, req.Repository, req.EndGitHash)
	if err != nil {
		return change.Change{}, change.Change{}, errors.Annotate(err, "resolving end_git_hash").Err()
	}
	a, err := change.New([]change.Commit{startCommit}, nil)
	if err != nil {
		return change.Change{}, change.Change{}, err
	}
	b, err := change.New([]change.Commit{endCommit}, req.Patch)
	if err != nil {
		return change.Change{}, change.Change{}, err
	}
	return a, b, nil
}

func changeFromDict(ctx context.Context, revisions services.RevisionService, d change.Dict) (change.Change, error) {
	commits := make([]change.Commit, len(d.Commits))
	for i, c := range d.Commits {
		commit, err := change.NewCommit(ctx, revisions, c.Repository, c.GitHash)
		if err != nil {
			return change.Change{}, err
		}
		commits[i] = commit
	}
	var patch *change.Patch
	if d.Patch != nil {
		patch = &change.Patch{Server: d.Patch.Server, Change: d.Patch.Change, Revision: d.Patch.Revision}
	}
	return change.New(commits, patch)
}

func main() {
	modules := []module.Module{
		gaeemulation.NewModuleFromFlags(),
	}
	queuePath := flag.String("task-queue", "projects/pinpointbisect/locations/us-central1/queues/default", "Cloud Tasks queue resource name")

	server.Main(nil, modules, func(srv *server.Server) error {
		collab := newCollaborators()
		collab.revisions.URLs["chromium"] = "https://chromium.googlesource.com/chromium/src"

		// Cloud Tasks client creation is deferred to a per-call closure,
		// matching the audit-commits scheduler, rather than held open for
		// the server's lifetime.
		createTask := func(ctx context.Context, req *taskspb.CreateTaskRequest, opts ...gax.CallOption) (*taskspb.Task, error) {
			client, err := cloudtasks.NewClient(ctx)
			if err != nil {
				logging.WithError(err).Errorf(ctx, "creating cloud tasks client")
				return nil, err
			}
			defer client.Close()
			return client.CreateTask(ctx, req, opts...)
		}
		sched := scheduler.NewWithCreateTask(createTask, *queuePath, func(jobID int64) string {
			return "/api/run/" + strconv.FormatInt(jobID, 10)
		})

		basemw := router.NewMiddlewareChain()
		srv.Routes.POST("/api/new", basemw, logAndSetHTTPErr(func(c *router.Context) error {
			return handleNew(c, collab, sched, *queuePath)
		}))
		srv.Routes.POST("/api/run/:job_id", basemw, logAndSetHTTPErr(func(c *router.Context) error {
			return handleRun(c, collab, sched, *queuePath)
		}))
		srv.Routes.GET("/api/job/:job_id", basemw, logAndSetHTTPErr(func(c *router.Context) error {
			return handleStatus(c)
		}))

		return nil
	})
}

type newJobResponse struct {
	JobID  string `json:"job_id"`
	JobURL string `json:"job_url"`
}

func handleNew(c *router.Context, collab *collaborators, sched *scheduler.Scheduler, queuePath string) error {
	ctx := c.Context
	var req job.Request
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		http.Error(c.Writer, "malformed request body", http.StatusBadRequest)
		return nil
	}
	if err := req.Validate(); err != nil {
		http.Error(c.Writer, err.Error(), http.StatusBadRequest)
		return nil
	}

	quests, err := questsForRequest(req, collab)
	if err != nil {
		return err
	}
	id := allocateJobID()
	j, err := job.New(id, req, quests, collab.revisions, collab.issues)
	if err != nil {
		http.Error(c.Writer, err.Error(), http.StatusBadRequest)
		return nil
	}
	j.SetPatchService(gerrit.Service{})

	a, b, err := changesFromRequest(ctx, req, collab.revisions)
	if err != nil {
		http.Error(c.Writer, err.Error(), http.StatusBadRequest)
		return nil
	}
	j.State.AddChange(a, nil)
	j.State.AddChange(b, nil)

	if err := j.Encode(); err != nil {
		return err
	}
	if err := ds.Put(ctx, jobEntity(j)); err != nil {
		return errors.Annotate(err, "persisting new job").Err()
	}

	taskName := scheduler.NewTaskName(queuePath, id)
	if err := j.Start(ctx, func(ctx context.Context, name, payload string) error {
		_, err := sched.Enqueue(ctx, name, id)
		return err
	}, taskName); err != nil {
		return err
	}
	if err := j.Encode(); err != nil {
		return err
	}
	if err := ds.Put(ctx, jobEntity(j)); err != nil {
		return errors.Annotate(err, "persisting started job").Err()
	}

	resp := newJobResponse{JobID: strconv.FormatInt(id, 10), JobURL: "/job/" + strconv.FormatInt(id, 10)}
	return json.NewEncoder(c.Writer).Encode(resp)
}

func handleRun(c *router.Context, collab *collaborators, sched *scheduler.Scheduler, queuePath string) error {
	ctx := c.Context
	id, err := strconv.ParseInt(c.Params.ByName("job_id"), 10, 64)
	if err != nil {
		http.Error(c.Writer, "malformed job id", http.StatusBadRequest)
		return nil
	}

	j := &job.Job{ID: id}
	if err := ds.Get(ctx, jobEntity(j)); err != nil {
		http.Error(c.Writer, "unknown job", http.StatusNotFound)
		return nil
	}
	var req job.Request
	if err := json.Unmarshal([]byte(j.ArgumentsJSON), &req); err != nil {
		return errors.Annotate(err, "decoding arguments for job %d", id).Err()
	}
	quests, err := questsForRequest(req, collab)
	if err != nil {
		return err
	}
	if err := j.Decode(quests, collab.revisions); err != nil {
		return err
	}
	j.SetPatchService(gerrit.Service{})

	taskName := scheduler.NewTaskName(queuePath, id)
	err = j.Run(ctx, func(ctx context.Context, name, payload string) error {
		_, err := sched.Enqueue(ctx, name, id)
		return err
	}, taskName)

	if encErr := j.Encode(); encErr != nil {
		return encErr
	}
	if putErr := ds.Put(ctx, jobEntity(j)); putErr != nil {
		logging.WithError(putErr).Errorf(ctx, "persisting job %d after tick", id)
	}
	return err
}

// jobEntity is a thin local alias so ds.Get/ds.Put see *job.Job directly;
// it exists only for readability at call sites.
func jobEntity(j *job.Job) *job.Job { return j }

// statusResponse is a read-only projection of a Job's persisted fields,
// supplementing §6's create/run contract with the status query pinpointctl
// needs; it intentionally avoids job.Decode (which would reallocate fresh,
// not-yet-run Attempts for every persisted Change) since a status read must
// never mutate what a later tick will do.
type statusResponse struct {
	JobID          string   `json:"job_id"`
	Status         string   `json:"status"`
	BugID          int64    `json:"bug_id,omitempty"`
	ExceptionTrace string   `json:"exception_trace,omitempty"`
	Updated        string   `json:"updated"`
	Changes        []string `json:"changes"`
}

func handleStatus(c *router.Context) error {
	ctx := c.Context
	id, err := strconv.ParseInt(c.Params.ByName("job_id"), 10, 64)
	if err != nil {
		http.Error(c.Writer, "malformed job id", http.StatusBadRequest)
		return nil
	}
	j := &job.Job{ID: id}
	if err := ds.Get(ctx, jobEntity(j)); err != nil {
		http.Error(c.Writer, "unknown job", http.StatusNotFound)
		return nil
	}

	var changes []string
	if j.StateJSON != "" {
		var d jobstate.Dict
		if err := json.Unmarshal([]byte(j.StateJSON), &d); err != nil {
			return errors.Annotate(err, "decoding job state for status").Err()
		}
		for _, cd := range d.Changes {
			parts := make([]string, len(cd.Commits))
			for i, commit := range cd.Commits {
				parts[i] = commit.Repository + "@" + commit.GitHash
			}
			changes = append(changes, strings.Join(parts, "+"))
		}
	}

	resp := statusResponse{
		JobID:          strconv.FormatInt(j.ID, 10),
		Status:         j.Status().String(),
		BugID:          j.BugID,
		ExceptionTrace: j.ExceptionTrace,
		Updated:        j.Updated.Format(time.RFC3339),
		Changes:        changes,
	}
	return json.NewEncoder(c.Writer).Encode(resp)
}

func logAndSetHTTPErr(f func(c *router.Context) error) func(*router.Context) {
	return func(c *router.Context) {
		if err := f(c); err != nil {
			logging.Errorf(c.Context, err.Error())
			http.Error(c.Writer, "Internal server error", http.StatusInternalServerError)
		}
	}
}
