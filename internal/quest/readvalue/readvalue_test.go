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

package readvalue

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"infra/pinpointbisect/internal/change"
	"infra/pinpointbisect/internal/services/fake"
)

func mustChange(t *testing.T) change.Change {
	t.Helper()
	c, err := change.New([]change.Commit{{Repository: "chromium", RepositoryURL: "https://x", GitHash: "c1"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestChartJSONScalarAndList(t *testing.T) {
	ctx := context.Background()
	Convey("scalar and list_of_scalar_values chart types", t, func() {
		artifacts := fake.NewArtifacts()
		artifacts.Put("isolate1", chartJSONFilename, []byte(`{
			"charts": {
				"my_chart": {"summary": {"type": "scalar", "value": 42}},
				"label@@other_chart": {"frob": {"type": "list_of_scalar_values", "values": [1, 2, 3]}}
			}
		}`))

		q := NewChartJSON("my_chart", "", "", artifacts)
		ex, err := q.Start(mustChange(t), map[string]string{"isolate_hash": "isolate1"})
		So(err, ShouldBeNil)
		So(ex.Poll(ctx), ShouldBeNil)
		So(ex.Completed(), ShouldBeTrue)
		So(ex.Failed(), ShouldBeFalse)
		So(ex.ResultValues(), ShouldResemble, []float64{42})

		q2 := NewChartJSON("other_chart", "label", "frob", artifacts)
		ex2, _ := q2.Start(mustChange(t), map[string]string{"isolate_hash": "isolate1"})
		So(ex2.Poll(ctx), ShouldBeNil)
		So(ex2.ResultValues(), ShouldResemble, []float64{1, 2, 3})
	})
}

func TestChartJSONMissingChart(t *testing.T) {
	ctx := context.Background()
	Convey("a missing chart fails with ReadValueError", t, func() {
		artifacts := fake.NewArtifacts()
		artifacts.Put("isolate1", chartJSONFilename, []byte(`{"charts": {}}`))
		q := NewChartJSON("nope", "", "", artifacts)
		ex, _ := q.Start(mustChange(t), map[string]string{"isolate_hash": "isolate1"})
		So(ex.Poll(ctx), ShouldBeNil)
		So(ex.Failed(), ShouldBeTrue)
		So(ex.Exception(), ShouldContainSubstring, "ReadValueError")
	})
}

func TestHistogramExpansionAndCap(t *testing.T) {
	ctx := context.Background()
	Convey("histogram buckets expand into midpoint-repeated samples", t, func() {
		artifacts := fake.NewArtifacts()
		artifacts.Put("isolate1", chartJSONFilename, []byte(`{
			"charts": {
				"h": {"summary": {"type": "histogram", "buckets": [
					{"low": 0, "high": 2, "count": 2},
					{"low": 10, "count": 1}
				]}}
			}
		}`))
		q := NewChartJSON("h", "", "", artifacts)
		ex, _ := q.Start(mustChange(t), map[string]string{"isolate_hash": "isolate1"})
		So(ex.Poll(ctx), ShouldBeNil)
		So(ex.ResultValues(), ShouldResemble, []float64{1, 1, 10})
	})

	Convey("a total over the cap scales bucket counts down proportionally", t, func() {
		buckets := expandHistogram([]histBucket{
			{Low: 0, Count: 15000},
		})
		So(len(buckets), ShouldEqual, 10000)
	})
}

func TestGraphJSON(t *testing.T) {
	ctx := context.Background()
	Convey("graph-json reads a single float cell", t, func() {
		artifacts := fake.NewArtifacts()
		artifacts.Put("isolate1", chartJSONFilename, []byte(`{
			"my_chart": {"traces": {"my_trace": [3.5, 9]}}
		}`))
		q := NewGraphJSON("my_chart", "my_trace", artifacts)
		ex, _ := q.Start(mustChange(t), map[string]string{"isolate_hash": "isolate1"})
		So(ex.Poll(ctx), ShouldBeNil)
		So(ex.Completed(), ShouldBeTrue)
		So(ex.ResultValues(), ShouldResemble, []float64{3.5})
	})
}
