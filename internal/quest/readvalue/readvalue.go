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

// Package readvalue implements the two ReadValue quest variants: a
// chart-json reader (histograms, scalars, and list-of-scalar-values) and a
// graph-json reader (a single float cell), both retrieving a named output
// file from the artifact store.
package readvalue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"infra/pinpointbisect/internal/change"
	"infra/pinpointbisect/internal/quest"
	"infra/pinpointbisect/internal/services"
)

// chartJSONFilename is the output file every chart-json and graph-json
// reader retrieves from the test's isolate bundle.
const chartJSONFilename = "chartjson-output.json"

// maxHistogramSamples caps the number of samples a histogram expansion may
// emit; bucket counts are scaled down proportionally (integer division)
// when the total would exceed it.
const maxHistogramSamples = 10000

// ChartJSON is the Quest that reads a named chart/trace cell out of a
// Telemetry chartjson results file.
type ChartJSON struct {
	Chart    string
	TIRLabel string
	Trace    string

	Artifacts services.ArtifactStore
}

// NewChartJSON constructs a ChartJSON quest. chart is required.
func NewChartJSON(chart, tirLabel, trace string, artifacts services.ArtifactStore) *ChartJSON {
	return &ChartJSON{Chart: chart, TIRLabel: tirLabel, Trace: trace, Artifacts: artifacts}
}

func (q *ChartJSON) Equal(other quest.Quest) bool {
	o, ok := other.(*ChartJSON)
	return ok && o.Chart == q.Chart && o.TIRLabel == q.TIRLabel && o.Trace == q.Trace
}

func (q *ChartJSON) String() string { return "Values" }

func (q *ChartJSON) Start(chg change.Change, priorArgs map[string]string) (quest.Execution, error) {
	return &chartJSONExecution{quest: q, isolateHash: priorArgs["isolate_hash"]}, nil
}

type chartJSONExecution struct {
	quest.Base

	quest       *ChartJSON
	isolateHash string
	traceURLs   []traceURL
}

type traceURL struct {
	Name string
	URL  string
}

func (e *chartJSONExecution) View() []quest.DetailItem {
	items := make([]quest.DetailItem, len(e.traceURLs))
	for i, t := range e.traceURLs {
		items[i] = quest.DetailItem{Key: "trace", Value: t.Name, URL: t.URL}
	}
	return items
}

// chartJSONFile is the subset of a Telemetry chartjson results file this
// reader understands.
type chartJSONFile struct {
	Charts map[string]map[string]chartEntry `json:"charts"`
}

type chartEntry struct {
	Type    string        `json:"type"`
	Values  []float64     `json:"values"`
	Value   float64       `json:"value"`
	Buckets []histBucket  `json:"buckets"`
	PageID  int           `json:"page_id"`
	CloudURL string       `json:"cloud_url"`
}

type histBucket struct {
	Low   float64 `json:"low"`
	High  *float64 `json:"high"`
	Count int      `json:"count"`
}

func (e *chartJSONExecution) Poll(ctx context.Context) error {
	return e.Step(func() error {
		raw, err := e.quest.Artifacts.Retrieve(ctx, e.isolateHash, chartJSONFilename)
		if err != nil {
			return fmt.Errorf("ReadValueError: %v", err)
		}
		var file chartJSONFile
		if err := json.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("ReadValueError: malformed %s: %v", chartJSONFilename, err)
		}

		if trace, ok := file.Charts["trace"]; ok {
			var urls []struct {
				name  string
				entry chartEntry
			}
			for name, entry := range trace {
				urls = append(urls, struct {
					name  string
					entry chartEntry
				}{name, entry})
			}
			sort.Slice(urls, func(i, j int) bool { return urls[i].entry.PageID < urls[j].entry.PageID })
			for _, u := range urls {
				e.traceURLs = append(e.traceURLs, traceURL{Name: u.name, URL: u.entry.CloudURL})
			}
		}

		chartName := e.quest.Chart
		if e.quest.TIRLabel != "" {
			chartName = e.quest.TIRLabel + "@@" + e.quest.Chart
		}
		chart, ok := file.Charts[chartName]
		if !ok {
			return fmt.Errorf("ReadValueError: the chart %q is not in the results", chartName)
		}
		traceName := e.quest.Trace
		if traceName == "" {
			traceName = "summary"
		}
		entry, ok := chart[traceName]
		if !ok {
			return fmt.Errorf("ReadValueError: the trace %q is not in the results", traceName)
		}

		values, err := valuesFromEntry(entry)
		if err != nil {
			return err
		}
		e.Complete(values, nil)
		return nil
	})
}

func valuesFromEntry(entry chartEntry) ([]float64, error) {
	switch entry.Type {
	case "list_of_scalar_values":
		return entry.Values, nil
	case "scalar":
		return []float64{entry.Value}, nil
	case "histogram":
		return expandHistogram(entry.Buckets), nil
	default:
		return nil, fmt.Errorf("ReadValueError: unsupported chart entry type %q", entry.Type)
	}
}

// expandHistogram expands each bucket into count copies of its midpoint
// (low+high)/2, where high defaults to low. The total emitted is capped at
// maxHistogramSamples, scaling bucket counts down proportionally (integer
// division) when the raw total would exceed it.
func expandHistogram(buckets []histBucket) []float64 {
	total := 0
	for _, b := range buckets {
		total += b.Count
	}

	var out []float64
	for _, b := range buckets {
		high := b.Low
		if b.High != nil {
			high = *b.High
		}
		mid := (b.Low + high) / 2

		count := b.Count
		if total > maxHistogramSamples {
			count = maxHistogramSamples * b.Count / total
		}
		for i := 0; i < count; i++ {
			out = append(out, mid)
		}
	}
	return out
}

// GraphJSON is the Quest that reads a single float cell out of a
// Telemetry/gtest graphjson results file.
type GraphJSON struct {
	Chart string
	Trace string

	Artifacts services.ArtifactStore
}

// NewGraphJSON constructs a GraphJSON quest. Both chart and trace are
// required.
func NewGraphJSON(chart, trace string, artifacts services.ArtifactStore) *GraphJSON {
	return &GraphJSON{Chart: chart, Trace: trace, Artifacts: artifacts}
}

func (q *GraphJSON) Equal(other quest.Quest) bool {
	o, ok := other.(*GraphJSON)
	return ok && o.Chart == q.Chart && o.Trace == q.Trace
}

func (q *GraphJSON) String() string { return "Values" }

func (q *GraphJSON) Start(chg change.Change, priorArgs map[string]string) (quest.Execution, error) {
	return &graphJSONExecution{quest: q, isolateHash: priorArgs["isolate_hash"]}, nil
}

type graphJSONExecution struct {
	quest.Base

	quest       *GraphJSON
	isolateHash string
}

func (e *graphJSONExecution) View() []quest.DetailItem { return nil }

func (e *graphJSONExecution) Poll(ctx context.Context) error {
	return e.Step(func() error {
		raw, err := e.quest.Artifacts.Retrieve(ctx, e.isolateHash, chartJSONFilename)
		if err != nil {
			return fmt.Errorf("ReadValueError: %v", err)
		}
		var file map[string]struct {
			Traces map[string][]float64 `json:"traces"`
		}
		if err := json.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("ReadValueError: malformed %s: %v", chartJSONFilename, err)
		}

		chart, ok := file[e.quest.Chart]
		if !ok {
			return fmt.Errorf("ReadValueError: the chart %q is not in the results", e.quest.Chart)
		}
		trace, ok := chart.Traces[e.quest.Trace]
		if !ok || len(trace) == 0 {
			return fmt.Errorf("ReadValueError: the trace %q is not in the results", e.quest.Trace)
		}
		e.Complete([]float64{trace[0]}, nil)
		return nil
	})
}
