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

// Package findisolate implements the FindIsolate quest: find a cached build
// artifact for (builder, change, target), or dispatch a build and wait for
// it, deduplicating parallel Attempts on the same Change.
package findisolate

import (
	"context"
	"fmt"

	"go.chromium.org/luci/common/errors"

	"infra/pinpointbisect/internal/change"
	"infra/pinpointbisect/internal/quest"
	"infra/pinpointbisect/internal/services"
)

// BUCKET is the default build bucket FindIsolate dispatches to.
const BUCKET = "luci.chromium.try"

// FindIsolate is the Quest that resolves (builder, change, target) to an
// isolate bundle, building it if necessary.
type FindIsolate struct {
	Builder string
	Target  string

	Builds       services.BuildService
	IsolateCache services.IsolateCache
	BuildDedup   services.BuildDedupIndex
}

// New constructs a FindIsolate quest. builder and target are both required.
func New(builder, target string, builds services.BuildService, cache services.IsolateCache, dedup services.BuildDedupIndex) (*FindIsolate, error) {
	if builder == "" || target == "" {
		return nil, errors.Reason("FindIsolate requires both a builder and a target").Err()
	}
	return &FindIsolate{Builder: builder, Target: target, Builds: builds, IsolateCache: cache, BuildDedup: dedup}, nil
}

// FromDict parses (builder, target) from a loosely-typed argument map, as
// produced by a job-creation request. It returns (nil, nil) if neither
// field is present (the stage does not apply to this target), and a
// descriptive error if exactly one is present (the stage applies but is
// misconfigured).
func FromDict(args map[string]string, builds services.BuildService, cache services.IsolateCache, dedup services.BuildDedupIndex) (*FindIsolate, error) {
	builder, target := args["builder"], args["target"]
	if builder == "" && target == "" {
		return nil, nil
	}
	return New(builder, target, builds, cache, dedup)
}

// Equal reports structural equality.
func (q *FindIsolate) Equal(other quest.Quest) bool {
	o, ok := other.(*FindIsolate)
	return ok && o.Builder == q.Builder && o.Target == q.Target
}

func (q *FindIsolate) String() string { return "Build" }

// Start constructs an Execution bound to chg. priorArgs is unused: FindIsolate
// is always the first Quest in the pipeline.
func (q *FindIsolate) Start(chg change.Change, priorArgs map[string]string) (quest.Execution, error) {
	return &execution{quest: q, change: chg}, nil
}

type execution struct {
	quest.Base

	quest  *FindIsolate
	change change.Change

	buildID  string
	buildURL string
}

func (e *execution) cacheKey() services.IsolateCacheKey {
	return services.IsolateCacheKey{Builder: e.quest.Builder, Change: e.change.String(), Target: e.quest.Target}
}

func (e *execution) View() []quest.DetailItem {
	items := []quest.DetailItem{{Key: "builder", Value: e.quest.Builder}}
	if e.buildID != "" {
		items = append(items, quest.DetailItem{Key: "build", Value: e.buildID, URL: e.buildURL})
	}
	if e.Completed() && !e.Failed() {
		hash := e.ResultArguments()["isolate_hash"]
		items = append(items, quest.DetailItem{
			Key:   "isolate",
			Value: hash,
			URL:   e.ResultArguments()["isolate_server"] + "/browse?digest=" + hash,
		})
	}
	return items
}

func (e *execution) Poll(ctx context.Context) error {
	return e.Step(func() error {
		if e.buildID == "" {
			return e.pollNoBuildYet(ctx)
		}
		return e.pollBuildInFlight(ctx)
	})
}

// pollNoBuildYet implements steps 1-3 of the FindIsolate algorithm: cache
// lookup, pending-build dedup, then dispatch.
func (e *execution) pollNoBuildYet(ctx context.Context) error {
	key := e.cacheKey()

	if server, hash, ok, err := e.quest.IsolateCache.Get(ctx, key); err != nil {
		return err
	} else if ok {
		e.Complete(nil, map[string]string{"isolate_server": server, "isolate_hash": hash})
		return nil
	}

	if buildID, ok, err := e.quest.BuildDedup.Get(ctx, key); err != nil {
		return err
	} else if ok {
		e.buildID = buildID
		return nil
	}

	req := services.BuildRequest{
		Bucket:            BUCKET,
		BuilderName:       e.quest.Builder,
		Clobber:           true,
		ParentGotRevision: e.change.BaseCommit().GitHash,
	}
	if overrides := e.change.OverrideCommits(); len(overrides) > 0 {
		req.DepsRevisionOverrides = map[string]string{}
		for _, d := range overrides {
			req.DepsRevisionOverrides[d.RepositoryURL] = d.GitHash
		}
	}
	if p := e.change.Patch; p != nil {
		req.PatchStorage = "gerrit"
		req.PatchServer = p.Server
		req.PatchChange = p.Change
		req.PatchRevision = p.Revision
	}

	buildID, err := e.quest.Builds.Put(ctx, req)
	if err != nil {
		return fmt.Errorf("BuildError: failed to dispatch build: %v", err)
	}
	if ok, err := e.quest.BuildDedup.PutIfAbsent(ctx, key, buildID); err != nil {
		return err
	} else if !ok {
		// Another Execution raced us and dispatched first; follow its build.
		if existing, ok, err := e.quest.BuildDedup.Get(ctx, key); err != nil {
			return err
		} else if ok {
			buildID = existing
		}
	}
	e.buildID = buildID
	return nil
}

// pollBuildInFlight implements steps 4-6: poll the dispatched build to
// completion, then resolve the isolate it produced.
func (e *execution) pollBuildInFlight(ctx context.Context) error {
	status, err := e.quest.Builds.Status(ctx, e.buildID)
	if err != nil {
		return err
	}
	e.buildURL = status.URL

	if !status.Terminal() {
		return nil
	}
	if !status.Success() {
		reason := status.FailureReason
		if reason == "" {
			reason = status.CancelReason
		}
		return fmt.Errorf("BuildError: build %s finished with result %q: %s", e.buildID, status.Result, reason)
	}

	key := e.cacheKey()
	server, hash, ok, err := e.quest.IsolateCache.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("IsolateNotFoundError: builder %q did not upload an isolate for %s/%s", e.quest.Builder, e.change, e.quest.Target)
	}
	e.Complete(nil, map[string]string{"isolate_server": server, "isolate_hash": hash})
	return nil
}
