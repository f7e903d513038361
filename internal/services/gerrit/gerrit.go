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

// Package gerrit resolves pending-patch metadata from a live Gerrit instance,
// implementing services.PatchService on top of go-gerrit.
package gerrit

import (
	"context"
	"strconv"

	gogerrit "github.com/andygrunwald/go-gerrit"
	"go.chromium.org/luci/common/errors"

	"infra/pinpointbisect/internal/services"
)

// Service resolves services.PatchInfo by querying a Gerrit host's REST API
// once per call. It holds no long-lived client: go-gerrit clients are cheap
// to construct and a Patch's server varies per request.
type Service struct{}

// PatchInfo fetches a change's subject and owner email from server.
func (Service) PatchInfo(ctx context.Context, server string, change int64, revision string) (services.PatchInfo, error) {
	client, err := gogerrit.NewClient(server, nil)
	if err != nil {
		return services.PatchInfo{}, errors.Annotate(err, "creating gerrit client for %s", server).Err()
	}
	info, _, err := client.Changes.GetChange(strconv.FormatInt(change, 10), nil)
	if err != nil {
		return services.PatchInfo{}, errors.Annotate(err, "fetching gerrit change %d from %s", change, server).Err()
	}
	return services.PatchInfo{Subject: info.Subject, Owner: info.Owner.Email}, nil
}
