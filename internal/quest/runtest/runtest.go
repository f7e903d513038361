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

// Package runtest implements the RunTest quest: dispatch a test-execution
// task consuming an isolate hash, enforcing the device-affinity invariant
// that pins the i-th Execution on every Change to the same physical bot.
package runtest

import (
	"context"
	"fmt"

	"infra/pinpointbisect/internal/change"
	"infra/pinpointbisect/internal/quest"
	"infra/pinpointbisect/internal/services"
)

const pool = "chrome-perf-pinpoint"

const (
	expirationSecs       = 36000 // 10 hours.
	executionTimeoutSecs = 7200  // 2 hours.
	ioTimeoutSecs        = 3600
)

// RunTest is the Quest that dispatches a test-execution task. It keeps,
// per Change, a counter of Executions started so far, and across Changes an
// ordered list of canonical Executions -- the first Execution created at
// each index position -- so that the i-th Execution on every Change runs on
// the same bot.
type RunTest struct {
	Dimensions []services.Dimension
	ExtraArgs  []string

	Tasks services.TaskService

	executionCounts    map[string]int
	canonicalExecutions []*execution
}

// New constructs a RunTest quest.
func New(dimensions []services.Dimension, extraArgs []string, tasks services.TaskService) *RunTest {
	return &RunTest{
		Dimensions:      dimensions,
		ExtraArgs:       extraArgs,
		Tasks:           tasks,
		executionCounts: map[string]int{},
	}
}

// Equal reports structural equality. The canonical-execution bookkeeping is
// deliberately excluded: two otherwise-identical RunTest quests are equal
// regardless of how much device-affinity state they've accumulated.
func (q *RunTest) Equal(other quest.Quest) bool {
	o, ok := other.(*RunTest)
	if !ok || len(o.Dimensions) != len(q.Dimensions) || len(o.ExtraArgs) != len(q.ExtraArgs) {
		return false
	}
	for i := range q.Dimensions {
		if q.Dimensions[i] != o.Dimensions[i] {
			return false
		}
	}
	for i := range q.ExtraArgs {
		if q.ExtraArgs[i] != o.ExtraArgs[i] {
			return false
		}
	}
	return true
}

func (q *RunTest) String() string { return "Test" }

// Start constructs an Execution bound to chg, consuming isolate_hash from
// priorArgs. The i-th Execution created on any Change is wired to the i-th
// canonical Execution for device affinity, and --results-label's placeholder
// value in ExtraArgs is substituted with chg's string form.
func (q *RunTest) Start(chg change.Change, priorArgs map[string]string) (quest.Execution, error) {
	index := q.executionCounts[chg.String()]
	q.executionCounts[chg.String()]++

	extraArgs := substituteResultsLabel(q.ExtraArgs, chg.String())

	ex := &execution{
		quest:       q,
		isolateHash: priorArgs["isolate_hash"],
		extraArgs:   extraArgs,
	}
	if index < len(q.canonicalExecutions) {
		ex.canonical = q.canonicalExecutions[index]
	} else {
		q.canonicalExecutions = append(q.canonicalExecutions, ex)
	}
	return ex, nil
}

// substituteResultsLabel replaces the literal placeholder value following
// --results-label in extraArgs with label, so downstream consumers (e.g.
// results2) can distinguish runs. If the flag is absent, extraArgs is
// returned unchanged.
func substituteResultsLabel(extraArgs []string, label string) []string {
	out := append([]string(nil), extraArgs...)
	for i, arg := range out {
		if arg == "--results-label" && i+1 < len(out) {
			out[i+1] = label
			break
		}
	}
	return out
}

type execution struct {
	quest.Base

	quest       *RunTest
	isolateHash string
	extraArgs   []string
	canonical   *execution // nil if this Execution is itself canonical

	taskID string
	botID  string
}

// BotID is the bot this Execution's task landed on, once known. Consulted
// by dependent Executions each poll -- not stashed at Start time -- so it
// always reflects the canonical Execution's current state.
func (e *execution) BotID() string { return e.botID }

func (e *execution) View() []quest.DetailItem {
	return []quest.DetailItem{
		{Key: "bot_id", Value: e.botID},
		{Key: "task_id", Value: e.taskID},
	}
}

func (e *execution) Poll(ctx context.Context) error {
	return e.Step(func() error {
		if e.taskID == "" {
			return e.startTask(ctx)
		}
		return e.pollTask(ctx)
	})
}

func (e *execution) startTask(ctx context.Context) error {
	if e.canonical != nil && e.canonical.BotID() == "" {
		if e.canonical.Failed() {
			// The canonical Execution never got a bot id before failing. Every
			// subsequent Execution at this index would almost certainly hit the
			// same outcome, so fail fast instead of retrying.
			return fmt.Errorf("RunTestError: no bots available to run the test")
		}
		// The canonical Execution is still waiting for a bot id: cooperatively
		// wait rather than dispatching our own task.
		return nil
	}

	dimensions := []services.Dimension{{Key: "pool", Value: pool}}
	if e.canonical != nil {
		dimensions = append(dimensions, services.Dimension{Key: "id", Value: e.canonical.BotID()})
	} else {
		dimensions = append(dimensions, e.quest.Dimensions...)
	}

	taskID, err := e.quest.Tasks.New(ctx, services.TaskDispatchRequest{
		Name:                 "Pinpoint job",
		Dimensions:           dimensions,
		IsolateHash:          e.isolateHash,
		ExtraArgs:            e.extraArgs,
		ExpirationSecs:       expirationSecs,
		ExecutionTimeoutSecs: executionTimeoutSecs,
		IOTimeoutSecs:        ioTimeoutSecs,
	})
	if err != nil {
		return err
	}
	e.taskID = taskID
	return nil
}

func (e *execution) pollTask(ctx context.Context) error {
	result, err := e.quest.Tasks.Result(ctx, e.taskID)
	if err != nil {
		return err
	}
	if result.BotID != "" {
		e.botID = result.BotID
	}

	switch result.State {
	case "PENDING", "RUNNING":
		return nil
	case "COMPLETED":
		if result.Failure {
			return fmt.Errorf("SwarmingTestError: task %s failed: the test exited with code %d", e.taskID, result.ExitCode)
		}
		e.Complete(nil, map[string]string{"isolate_hash": result.OutputHash})
		return nil
	default:
		return fmt.Errorf("SwarmingTaskError: task %s failed with state %q", e.taskID, result.State)
	}
}
