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

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"infra/pinpointbisect/internal/job"
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new bisection job",
	RunE:  runNew,
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().String("target", "", "Build target / benchmark suite (required)")
	newCmd.Flags().String("configuration", "", "Named builder configuration")
	newCmd.Flags().String("repository", "chromium", "Repository name")
	newCmd.Flags().String("start", "", "Known-good git hash")
	newCmd.Flags().String("end", "", "Known-bad git hash")
	newCmd.Flags().Bool("auto-explore", true, "Automatically bisect to a single commit")
	newCmd.Flags().Int64("bug", 0, "Bug id to post progress comments to")
	newCmd.Flags().String("comparison-mode", "", "functional or performance")
	newCmd.Flags().StringSlice("tag", nil, "Extra tag as key=value (repeatable)")
	newCmd.Flags().String("user", "", "Requesting user's email")
}

func runNew(cmd *cobra.Command, args []string) error {
	target, _ := cmd.Flags().GetString("target")
	if target == "" {
		return fmt.Errorf("--target is required")
	}
	configuration, _ := cmd.Flags().GetString("configuration")
	repository, _ := cmd.Flags().GetString("repository")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	autoExplore, _ := cmd.Flags().GetBool("auto-explore")
	bugID, _ := cmd.Flags().GetInt64("bug")
	comparisonMode, _ := cmd.Flags().GetString("comparison-mode")
	tagFlags, _ := cmd.Flags().GetStringSlice("tag")
	user, _ := cmd.Flags().GetString("user")

	tags := map[string]string{}
	for _, t := range tagFlags {
		k, v, ok := strings.Cut(t, "=")
		if !ok {
			return fmt.Errorf("malformed --tag %q, expected key=value", t)
		}
		tags[k] = v
	}

	req := job.Request{
		Target:         target,
		Configuration:  configuration,
		Repository:     repository,
		StartGitHash:   start,
		EndGitHash:     end,
		AutoExplore:    autoExplore,
		BugID:          bugID,
		ComparisonMode: job.ComparisonMode(comparisonMode),
		Tags:           tags,
		User:           user,
	}

	server, _ := cmd.Flags().GetString("server")
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	resp, err := httpClient.Post(server+"/api/new", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("calling %s: %w", server, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pinpointd returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var created struct {
		JobID  string `json:"job_id"`
		JobURL string `json:"job_url"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created job %s\n%s%s\n", created.JobID, server, created.JobURL)
	return nil
}
