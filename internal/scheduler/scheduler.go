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

// Package scheduler drives a Job's tick loop via Cloud Tasks: it enqueues a
// named, countdown-delayed task per tick, relying on Cloud Tasks' own
// duplicate-name rejection (within a cooldown window) rather than a
// distributed lock to guarantee at most one tick in flight per job.
package scheduler

import (
	"context"
	"fmt"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/google/uuid"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	taskspb "google.golang.org/genproto/googleapis/cloud/tasks/v2"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// tickCountdown is the delay between a tick finishing and its replacement
// task becoming eligible to run, giving storage a moment to settle before
// the next read.
const tickCountdown = 10 * time.Second

// CreateTaskFunc matches cloudtasks.Client.CreateTask's signature, letting
// production code wire a real client while tests inject a stub -- the same
// seam the audit-commits scheduler uses.
type CreateTaskFunc func(ctx context.Context, req *taskspb.CreateTaskRequest, opts ...gax.CallOption) (*taskspb.Task, error)

// Scheduler enqueues and re-enqueues per-Job tick tasks.
type Scheduler struct {
	createTask CreateTaskFunc
	queuePath  string // e.g. "projects/<project>/locations/<region>/queues/<queue>"
	relativeURI func(jobID int64) string
}

// New constructs a Scheduler backed by a live Cloud Tasks client. queuePath
// is the fully qualified queue resource name; relativeURI renders the
// task-queue handler path for a given job id (the §6 `/api/run/<job_id>`
// contract).
func New(client *cloudtasks.Client, queuePath string, relativeURI func(jobID int64) string) *Scheduler {
	return NewWithCreateTask(client.CreateTask, queuePath, relativeURI)
}

// NewWithCreateTask builds a Scheduler around an arbitrary CreateTaskFunc.
// Tests use it to inject a stub without standing up a gRPC server; callers
// that want to manage their own Cloud Tasks client lifetime (e.g. creating
// one per call rather than holding it open for the server's lifetime) use it
// directly too.
func NewWithCreateTask(createTask CreateTaskFunc, queuePath string, relativeURI func(jobID int64) string) *Scheduler {
	return &Scheduler{createTask: createTask, queuePath: queuePath, relativeURI: relativeURI}
}

// NewTaskName returns a fresh, globally unique task name for jobID. Passing
// a fresh UUID per enqueue (rather than a name derived from job id and tick
// count) means Cloud Tasks' own dedup window guards against a double
// enqueue racing within the same tick, while still letting every distinct
// tick proceed.
func NewTaskName(queuePath string, jobID int64) string {
	return fmt.Sprintf("%s/tasks/job-%d-%s", queuePath, jobID, uuid.NewString())
}

// Enqueue schedules one tick of jobID to run after tickCountdown, named
// taskName (see NewTaskName). It returns the resulting task name on success,
// mirroring the signature Job.Start/Run expect.
func (s *Scheduler) Enqueue(ctx context.Context, taskName string, jobID int64) (string, error) {
	req := &taskspb.CreateTaskRequest{
		Parent: s.queuePath,
		Task: &taskspb.Task{
			Name:         taskName,
			ScheduleTime: timestamppb.New(time.Now().Add(tickCountdown)),
			MessageType: &taskspb.Task_AppEngineHttpRequest{
				AppEngineHttpRequest: &taskspb.AppEngineHttpRequest{
					HttpMethod:  taskspb.HttpMethod_POST,
					RelativeUri: s.relativeURI(jobID),
				},
			},
		},
	}
	task, err := s.createTask(ctx, req)
	if err != nil {
		logging.WithError(err).Errorf(ctx, "enqueueing tick for job %d", jobID)
		return "", errors.Annotate(err, "enqueueing tick for job %d", jobID).Err()
	}
	return task.GetName(), nil
}
