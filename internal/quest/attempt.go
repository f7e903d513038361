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

package quest

import (
	"context"

	"infra/pinpointbisect/internal/change"
)

// Attempt is one full pipeline run -- one Execution per Quest -- for a
// single Change. Executions are created lazily, one at a time, as prior
// stages succeed.
type Attempt struct {
	quests     []Quest
	change     change.Change
	executions []Execution
}

// NewAttempt creates an Attempt against the shared, immutable quest list.
// Adding a Quest after construction is impossible: Attempts only ever
// reference quests, they never own or copy it.
func NewAttempt(quests []Quest, chg change.Change) *Attempt {
	return &Attempt{quests: quests, change: chg}
}

// Executions returns the Executions created so far, oldest first.
func (a *Attempt) Executions() []Execution {
	return a.executions
}

// Completed reports whether this Attempt will never do more work: the last
// created Execution is complete, and it either failed or was the final
// Quest's Execution.
func (a *Attempt) Completed() bool {
	if len(a.executions) == 0 {
		return false
	}
	last := a.executions[len(a.executions)-1]
	return last.Completed() && (last.Failed() || len(a.executions) == len(a.quests))
}

// Exception is the failed Execution's trace, or "" if the Attempt has not
// failed (whether or not it has completed).
func (a *Attempt) Exception() string {
	for _, ex := range a.executions {
		if ex.Completed() && ex.Failed() {
			return ex.Exception()
		}
	}
	return ""
}

// ResultValuesByQuest returns, for each Quest index that has produced a
// completed successful Execution, that Execution's result vector. Indices
// for Quests that never ran (because an earlier stage failed, or this
// Attempt hasn't gotten there yet) are simply absent.
func (a *Attempt) ResultValuesByQuest() map[int][]float64 {
	out := map[int][]float64{}
	for i, ex := range a.executions {
		if ex.Completed() && !ex.Failed() {
			out[i] = ex.ResultValues()
		}
	}
	return out
}

// ScheduleWork advances this Attempt by exactly one step: if no Execution
// has been created yet, it starts the first Quest. Otherwise it polls the
// last Execution; if that poll just completed it successfully and another
// Quest remains, the next Execution is created (but not polled) by calling
// quests[i+1].Start with the prior stage's ResultArguments. On failure, or
// once the final Quest's Execution has completed, there's nothing further
// to do.
func (a *Attempt) ScheduleWork(ctx context.Context) error {
	if len(a.executions) == 0 {
		ex, err := a.quests[0].Start(a.change, nil)
		if err != nil {
			return err
		}
		a.executions = append(a.executions, ex)
		return nil
	}

	last := a.executions[len(a.executions)-1]
	if !last.Completed() {
		return last.Poll(ctx)
	}
	if last.Failed() || len(a.executions) == len(a.quests) {
		return nil
	}

	next, err := a.quests[len(a.executions)].Start(a.change, last.ResultArguments())
	if err != nil {
		return err
	}
	a.executions = append(a.executions, next)
	return nil
}
