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

package scheduler

import (
	"context"
	"fmt"
	"testing"

	gax "github.com/googleapis/gax-go/v2"
	. "github.com/smartystreets/goconvey/convey"

	taskspb "google.golang.org/genproto/googleapis/cloud/tasks/v2"
)

func TestEnqueueNamesAndRoutesTheTask(t *testing.T) {
	ctx := context.Background()
	Convey("Enqueue names the task, targets the per-job handler path, and reports the queue's name back", t, func() {
		var seen *taskspb.CreateTaskRequest
		stub := func(ctx context.Context, req *taskspb.CreateTaskRequest, opts ...gax.CallOption) (*taskspb.Task, error) {
			seen = req
			return &taskspb.Task{Name: req.Task.Name}, nil
		}
		s := NewWithCreateTask(stub, "projects/p/locations/us-central1/queues/q",
			func(jobID int64) string { return fmt.Sprintf("/api/run/%d", jobID) })

		name, err := s.Enqueue(ctx, "projects/p/locations/us-central1/queues/q/tasks/job-42-abc", 42)
		So(err, ShouldBeNil)
		So(name, ShouldEqual, "projects/p/locations/us-central1/queues/q/tasks/job-42-abc")
		So(seen.Task.GetAppEngineHttpRequest().GetRelativeUri(), ShouldEqual, "/api/run/42")
		So(seen.Task.ScheduleTime, ShouldNotBeNil)
	})
}

func TestEnqueuePropagatesDedupRejection(t *testing.T) {
	ctx := context.Background()
	Convey("a duplicate task name error surfaces to the caller", t, func() {
		stub := func(ctx context.Context, req *taskspb.CreateTaskRequest, opts ...gax.CallOption) (*taskspb.Task, error) {
			return nil, fmt.Errorf("ALREADY_EXISTS")
		}
		s := NewWithCreateTask(stub, "projects/p/locations/us-central1/queues/q",
			func(jobID int64) string { return fmt.Sprintf("/api/run/%d", jobID) })
		_, err := s.Enqueue(ctx, "dup-name", 1)
		So(err, ShouldNotBeNil)
	})
}

func TestNewTaskNameIsUniquePerCall(t *testing.T) {
	Convey("two calls for the same job never collide", t, func() {
		a := NewTaskName("projects/p/locations/us-central1/queues/q", 7)
		b := NewTaskName("projects/p/locations/us-central1/queues/q", 7)
		So(a, ShouldNotEqual, b)
	})
}
