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
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:     "pinpointctl",
	Short:   "Create and inspect performance bisection jobs",
	Version: version,
}

// httpClient is shared by subcommands; 30s is generous for a control-plane
// call that never waits on a bisection tick itself.
var httpClient = &http.Client{Timeout: 30 * time.Second}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Base URL of the pinpointd server")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
