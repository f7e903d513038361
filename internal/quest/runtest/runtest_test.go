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

package runtest

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"infra/pinpointbisect/internal/change"
	"infra/pinpointbisect/internal/services"
	"infra/pinpointbisect/internal/services/fake"
)

func mustChange(t *testing.T, hash string) change.Change {
	t.Helper()
	c, err := change.New([]change.Commit{{Repository: "chromium", RepositoryURL: "https://chromium.googlesource.com/chromium/src", GitHash: hash}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDeviceAffinity(t *testing.T) {
	ctx := context.Background()
	Convey("the i-th Execution on every Change shares a bot", t, func() {
		tasks := fake.NewTasks()
		q := New([]services.Dimension{{Key: "os", Value: "Mac"}}, nil, tasks)

		change1 := mustChange(t, "c1")
		change2 := mustChange(t, "c2")

		ex1, err := q.Start(change1, map[string]string{"isolate_hash": "isolate1"})
		So(err, ShouldBeNil)
		So(ex1.Poll(ctx), ShouldBeNil)

		var taskID string
		for id, req := range tasks.Requests {
			taskID = id
			So(req.Dimensions, ShouldResemble, []services.Dimension{{Key: "pool", Value: pool}, {Key: "os", Value: "Mac"}})
		}

		tasks.Results[taskID] = services.TaskResult{State: "COMPLETED", BotID: "bot id", OutputHash: "out1"}
		So(ex1.Poll(ctx), ShouldBeNil)
		So(ex1.Completed(), ShouldBeTrue)

		ex2, err := q.Start(change2, map[string]string{"isolate_hash": "isolate2"})
		So(err, ShouldBeNil)
		So(ex2.Poll(ctx), ShouldBeNil)

		var req2 services.TaskDispatchRequest
		for id, req := range tasks.Requests {
			if id != taskID {
				req2 = req
			}
		}
		So(req2.Dimensions, ShouldResemble, []services.Dimension{{Key: "pool", Value: pool}, {Key: "id", Value: "bot id"}})

		// A third Execution on change2, at index 1, has no canonical yet and
		// falls back to the generic dimensions, becoming the new canonical at
		// that index.
		ex3, err := q.Start(change2, map[string]string{"isolate_hash": "isolate3"})
		So(err, ShouldBeNil)
		So(ex3.Poll(ctx), ShouldBeNil)
		var req3 services.TaskDispatchRequest
		for id, req := range tasks.Requests {
			if id != taskID && req.IsolateHash == "isolate3" {
				req3 = req
			}
		}
		So(req3.Dimensions, ShouldResemble, []services.Dimension{{Key: "pool", Value: pool}, {Key: "os", Value: "Mac"}})
	})
}

func TestFailFastWhenCanonicalHasNoBot(t *testing.T) {
	ctx := context.Background()
	Convey("a dependent Execution fails fast if the canonical never got a bot", t, func() {
		tasks := fake.NewTasks()
		q := New([]services.Dimension{{Key: "os", Value: "Mac"}}, nil, tasks)
		chg1 := mustChange(t, "c1")
		chg2 := mustChange(t, "c2")

		ex1, _ := q.Start(chg1, map[string]string{"isolate_hash": "isolate1"})
		So(ex1.Poll(ctx), ShouldBeNil)
		var taskID string
		for id := range tasks.Requests {
			taskID = id
		}
		tasks.Results[taskID] = services.TaskResult{State: "EXPIRED"}
		So(ex1.Poll(ctx), ShouldBeNil)
		So(ex1.Completed(), ShouldBeTrue)
		So(ex1.Failed(), ShouldBeTrue)

		ex2, _ := q.Start(chg2, map[string]string{"isolate_hash": "isolate2"})
		So(ex2.Poll(ctx), ShouldBeNil)
		So(ex2.Completed(), ShouldBeTrue)
		So(ex2.Failed(), ShouldBeTrue)
		So(ex2.Exception(), ShouldContainSubstring, "RunTestError")
	})
}

func TestResultsLabelSubstitution(t *testing.T) {
	ctx := context.Background()
	Convey("the --results-label placeholder is replaced with the Change string", t, func() {
		tasks := fake.NewTasks()
		q := New(nil, []string{"--results-label", "PLACEHOLDER"}, tasks)
		chg := mustChange(t, "c1")

		ex, _ := q.Start(chg, map[string]string{"isolate_hash": "isolate1"})
		So(ex.Poll(ctx), ShouldBeNil)

		for _, req := range tasks.Requests {
			So(req.ExtraArgs, ShouldResemble, []string{"--results-label", chg.String()})
		}
	})

	Convey("extraArgs is unchanged when the placeholder is absent", t, func() {
		tasks := fake.NewTasks()
		q := New(nil, []string{"--foo", "bar"}, tasks)
		chg := mustChange(t, "c1")

		ex, _ := q.Start(chg, map[string]string{"isolate_hash": "isolate1"})
		So(ex.Poll(ctx), ShouldBeNil)

		for _, req := range tasks.Requests {
			So(req.ExtraArgs, ShouldResemble, []string{"--foo", "bar"})
		}
	})
}

func TestSwarmingTaskErrors(t *testing.T) {
	ctx := context.Background()
	Convey("a completed+failure task fails with SwarmingTestError", t, func() {
		tasks := fake.NewTasks()
		q := New(nil, nil, tasks)
		chg := mustChange(t, "c1")
		ex, _ := q.Start(chg, map[string]string{"isolate_hash": "isolate1"})
		ex.Poll(ctx)
		var taskID string
		for id := range tasks.Requests {
			taskID = id
		}
		tasks.Results[taskID] = services.TaskResult{State: "COMPLETED", Failure: true, ExitCode: 1}
		So(ex.Poll(ctx), ShouldBeNil)
		So(ex.Failed(), ShouldBeTrue)
		So(ex.Exception(), ShouldContainSubstring, "SwarmingTestError")
	})

	Convey("any other terminal state fails with SwarmingTaskError", t, func() {
		tasks := fake.NewTasks()
		q := New(nil, nil, tasks)
		chg := mustChange(t, "c1")
		ex, _ := q.Start(chg, map[string]string{"isolate_hash": "isolate1"})
		ex.Poll(ctx)
		var taskID string
		for id := range tasks.Requests {
			taskID = id
		}
		tasks.Results[taskID] = services.TaskResult{State: "TIMED_OUT"}
		So(ex.Poll(ctx), ShouldBeNil)
		So(ex.Failed(), ShouldBeTrue)
		So(ex.Exception(), ShouldContainSubstring, "SwarmingTaskError")
	})
}
