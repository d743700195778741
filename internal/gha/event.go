/*
Copyright 2025 PreviewOps, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gha is the GitHub Actions boundary of the review app controller:
// it reads the triggering event payload and writes step outputs, step
// summaries and PR comments.
package gha

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/google/go-github/v71/github"
	"github.com/gravitational/trace"
)

const (
	// EventPathEnv points at the JSON payload of the event that
	// triggered the workflow run.
	EventPathEnv = "GITHUB_EVENT_PATH"
	// RepositoryEnv holds the "owner/repo" slug of the repository the
	// workflow runs in. Used when the payload has no repository block.
	RepositoryEnv = "GITHUB_REPOSITORY"
	// OutputEnv is the name of the environment variable for
	// output parameters in GitHub Actions.
	OutputEnv = "GITHUB_OUTPUT"
	// StepSummaryEnv points at the markdown file rendered on the
	// workflow run page.
	StepSummaryEnv = "GITHUB_STEP_SUMMARY"
)

// ErrMissingPRNumber is returned when the triggering event payload carries
// no pull request number. The action only operates on pull request events.
var ErrMissingPRNumber = errors.New("event payload has no pull request number")

// Action is the pull request lifecycle action that triggered the run.
type Action string

const (
	// ActionOpened covers events that mean a PR needs a review app it may
	// not have yet: opened, reopened and ready_for_review.
	ActionOpened Action = "opened"
	// ActionSynchronize means new commits were pushed to the PR branch.
	ActionSynchronize Action = "synchronize"
	// ActionClosed means the PR was closed or merged.
	ActionClosed Action = "closed"
	// ActionOther is any other pull request action (labeled, edited, ...).
	ActionOther Action = "other"
)

// Event is the slice of the pull request event payload this action consumes.
type Event struct {
	Action Action
	Number int
	Owner  string
	Repo   string
}

// ParseEvent reads and decodes the event payload at path.
//
// Only the action, the PR number and the repository slug are consumed.
// Repository information falls back to GITHUB_REPOSITORY so that minimal
// payloads, such as ones crafted for workflow_dispatch testing, still work.
func ParseEvent(path string) (*Event, error) {
	if path == "" {
		return nil, trace.BadParameter("%s is not set", EventPathEnv)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, trace.Wrap(err, "opening event payload")
	}
	defer f.Close()

	var payload github.PullRequestEvent
	if err := json.NewDecoder(f).Decode(&payload); err != nil {
		return nil, trace.Wrap(err, "decoding event payload")
	}

	number := payload.GetNumber()
	if number == 0 {
		number = payload.GetPullRequest().GetNumber()
	}
	if number <= 0 {
		return nil, trace.Wrap(ErrMissingPRNumber)
	}

	ev := &Event{
		Action: normalizeAction(payload.GetAction()),
		Number: number,
		Owner:  payload.GetRepo().GetOwner().GetLogin(),
		Repo:   payload.GetRepo().GetName(),
	}

	if ev.Owner == "" || ev.Repo == "" {
		if owner, repo, ok := strings.Cut(os.Getenv(RepositoryEnv), "/"); ok {
			ev.Owner, ev.Repo = owner, repo
		}
	}

	return ev, nil
}

func normalizeAction(action string) Action {
	switch action {
	case "opened", "reopened", "ready_for_review":
		return ActionOpened
	case "synchronize":
		return ActionSynchronize
	case "closed":
		return ActionClosed
	default:
		return ActionOther
	}
}
