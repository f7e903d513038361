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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Print a bisection job's current status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type jobStatus struct {
	JobID          string   `json:"job_id"`
	Status         string   `json:"status"`
	BugID          int64    `json:"bug_id,omitempty"`
	ExceptionTrace string   `json:"exception_trace,omitempty"`
	Updated        string   `json:"updated"`
	Changes        []string `json:"changes"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	resp, err := httpClient.Get(server + "/api/job/" + args[0])
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

	var s jobStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Job %s: %s\n", s.JobID, s.Status)
	if updated, err := time.Parse(time.RFC3339, s.Updated); err == nil {
		fmt.Fprintf(w, "Updated %s\n", humanize.Time(updated))
	}
	if s.BugID != 0 {
		fmt.Fprintf(w, "Bug: %d\n", s.BugID)
	}
	if s.ExceptionTrace != "" {
		fmt.Fprintf(w, "Error: %s\n", s.ExceptionTrace)
	}
	if len(s.Changes) > 0 {
		fmt.Fprintf(w, "Changes (%d):\n", len(s.Changes))
		for _, c := range s.Changes {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}
	return nil
}
