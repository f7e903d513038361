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

// Package fake provides in-memory fakes of the services package's
// interfaces, suitable for unit tests. It follows the same shape as
// fakecloudtasks and pinpoint/fakelegacy: a struct holding canned
// responses/errors plus a mutex-protected store.
package fake

import (
	"context"
	"fmt"
	"sync"

	"go.chromium.org/luci/common/errors"

	"infra/pinpointbisect/internal/services"
)

// Revisions is a fake services.RevisionService backed by an in-memory
// first-parent history per repository.
type Revisions struct {
	mu sync.Mutex

	// URLs maps a short repository id to its canonical URL.
	URLs map[string]string

	// Histories maps a repository URL to its commit history, oldest first.
	// CommitRange and ancestry checks are computed from this slice.
	Histories map[string][]string

	// Infos maps "repositoryURL@hash" to the CommitInfo to return.
	Infos map[string]services.CommitInfo
}

// NewRevisions returns an empty Revisions fake.
func NewRevisions() *Revisions {
	return &Revisions{
		URLs:      map[string]string{},
		Histories: map[string][]string{},
		Infos:     map[string]services.CommitInfo{},
	}
}

func (r *Revisions) RepositoryURL(ctx context.Context, repository string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	url, ok := r.URLs[repository]
	if !ok {
		return "", errors.Reason("unknown repository %q", repository).Err()
	}
	return url, nil
}

func (r *Revisions) CommitRange(ctx context.Context, repositoryURL, a, b string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.Histories[repositoryURL]
	aIdx, bIdx := -1, -1
	for i, h := range history {
		if h == a {
			aIdx = i
		}
		if h == b {
			bIdx = i
		}
	}
	if aIdx == -1 || bIdx == -1 || aIdx > bIdx {
		return nil, errors.Reason("%s is not an ancestor of %s in %s", a, b, repositoryURL).Err()
	}
	return append([]string(nil), history[aIdx+1:bIdx+1]...), nil
}

func (r *Revisions) CommitInfo(ctx context.Context, repositoryURL, hash string) (services.CommitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.Infos[fmt.Sprintf("%s@%s", repositoryURL, hash)]
	if !ok {
		return services.CommitInfo{}, errors.Reason("no commit info for %s@%s", repositoryURL, hash).Err()
	}
	return info, nil
}

// Builds is a fake services.BuildService. Put/Status are scripted by tests
// via the NextBuildID/Statuses fields.
type Builds struct {
	mu sync.Mutex

	// NextBuildID is returned (and incremented) by every call to Put.
	NextBuildID int
	// PutErr, if set, is returned by Put instead of dispatching.
	PutErr error
	// Requests records every dispatched BuildRequest, keyed by the returned
	// build id.
	Requests map[string]services.BuildRequest
	// Statuses maps a build id to the status Status() should return. Missing
	// entries default to {State: "SCHEDULED"}.
	Statuses map[string]services.BuildStatus
}

// NewBuilds returns an empty Builds fake.
func NewBuilds() *Builds {
	return &Builds{
		Requests: map[string]services.BuildRequest{},
		Statuses: map[string]services.BuildStatus{},
	}
}

func (b *Builds) Put(ctx context.Context, req services.BuildRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PutErr != nil {
		return "", b.PutErr
	}
	b.NextBuildID++
	id := fmt.Sprintf("build-%d", b.NextBuildID)
	b.Requests[id] = req
	return id, nil
}

func (b *Builds) Status(ctx context.Context, buildID string) (services.BuildStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.Statuses[buildID]; ok {
		return s, nil
	}
	return services.BuildStatus{State: "SCHEDULED"}, nil
}

// Artifacts is a fake services.ArtifactStore backed by an in-memory map of
// isolateHash/filename -> contents.
type Artifacts struct {
	mu    sync.Mutex
	Files map[string]map[string][]byte
}

// NewArtifacts returns an empty Artifacts fake.
func NewArtifacts() *Artifacts {
	return &Artifacts{Files: map[string]map[string][]byte{}}
}

// Put registers contents for isolateHash/filename.
func (a *Artifacts) Put(isolateHash, filename string, contents []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Files[isolateHash] == nil {
		a.Files[isolateHash] = map[string][]byte{}
	}
	a.Files[isolateHash][filename] = contents
}

func (a *Artifacts) Retrieve(ctx context.Context, isolateHash, filename string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bundle, ok := a.Files[isolateHash]
	if !ok {
		return nil, errors.Reason("no isolate bundle %s", isolateHash).Err()
	}
	contents, ok := bundle[filename]
	if !ok {
		return nil, errors.Reason("the test didn't produce %s", filename).Err()
	}
	return contents, nil
}

// Tasks is a fake services.TaskService.
type Tasks struct {
	mu sync.Mutex

	NextTaskID int
	Requests   map[string]services.TaskDispatchRequest
	Results    map[string]services.TaskResult
}

// NewTasks returns an empty Tasks fake.
func NewTasks() *Tasks {
	return &Tasks{
		Requests: map[string]services.TaskDispatchRequest{},
		Results:  map[string]services.TaskResult{},
	}
}

func (t *Tasks) New(ctx context.Context, req services.TaskDispatchRequest) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.NextTaskID++
	id := fmt.Sprintf("task-%d", t.NextTaskID)
	t.Requests[id] = req
	return id, nil
}

func (t *Tasks) Result(ctx context.Context, taskID string) (services.TaskResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.Results[taskID]; ok {
		return r, nil
	}
	return services.TaskResult{State: "PENDING"}, nil
}

// IssueTracker is a fake services.IssueTracker that simply records comments.
type IssueTracker struct {
	mu       sync.Mutex
	Comments []Comment
}

// Comment records one AddComment call.
type Comment struct {
	BugID     int64
	Text      string
	SendEmail bool
}

func (t *IssueTracker) AddComment(ctx context.Context, bugID int64, text string, sendEmail bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Comments = append(t.Comments, Comment{BugID: bugID, Text: text, SendEmail: sendEmail})
	return nil
}

// Patches is a fake services.PatchService, keyed by "server/change/revision".
type Patches struct {
	mu    sync.Mutex
	Infos map[string]services.PatchInfo
}

// NewPatches returns an empty Patches fake.
func NewPatches() *Patches {
	return &Patches{Infos: map[string]services.PatchInfo{}}
}

func (p *Patches) PatchInfo(ctx context.Context, server string, change int64, revision string) (services.PatchInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.Infos[fmt.Sprintf("%s/%d/%s", server, change, revision)]
	if !ok {
		return services.PatchInfo{}, errors.Reason("no patch info for %s/%d/%s", server, change, revision).Err()
	}
	return info, nil
}

// IsolateCache is a fake services.IsolateCache.
type IsolateCache struct {
	mu      sync.Mutex
	entries map[services.IsolateCacheKey][2]string
}

// NewIsolateCache returns an empty IsolateCache fake.
func NewIsolateCache() *IsolateCache {
	return &IsolateCache{entries: map[services.IsolateCacheKey][2]string{}}
}

func (c *IsolateCache) Get(ctx context.Context, key services.IsolateCacheKey) (string, string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return "", "", false, nil
	}
	return v[0], v[1], true, nil
}

func (c *IsolateCache) Put(ctx context.Context, key services.IsolateCacheKey, server, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return nil // first writer wins
	}
	c.entries[key] = [2]string{server, hash}
	return nil
}

// BuildDedupIndex is a fake services.BuildDedupIndex.
type BuildDedupIndex struct {
	mu      sync.Mutex
	entries map[services.IsolateCacheKey]string
}

// NewBuildDedupIndex returns an empty BuildDedupIndex fake.
func NewBuildDedupIndex() *BuildDedupIndex {
	return &BuildDedupIndex{entries: map[services.IsolateCacheKey]string{}}
}

func (d *BuildDedupIndex) Get(ctx context.Context, key services.IsolateCacheKey) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.entries[key]
	return id, ok, nil
}

func (d *BuildDedupIndex) PutIfAbsent(ctx context.Context, key services.IsolateCacheKey, buildID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[key]; ok {
		return false, nil
	}
	d.entries[key] = buildID
	return true, nil
}
