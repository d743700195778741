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

package gha

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cli/go-gh/v2/pkg/auth"
	"github.com/google/go-github/v71/github"
	"golang.org/x/oauth2"
)

// ClientTimeout specifies a time limit for requests made by the Client.
const ClientTimeout = 30 * time.Second

var (
	// ErrCommentNotFound is returned when no comment matches the marker.
	ErrCommentNotFound = errors.New("comment not found")
	// ErrTokenNotFound is returned when no GitHub token is configured.
	ErrTokenNotFound = errors.New("could not find a GitHub token configured on system")
)

// Client is a minimal GitHub API client for maintaining the review app
// status comment on the pull request.
type Client struct {
	issues issuesService
}

type issuesService interface {
	ListComments(ctx context.Context, owner, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error)
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	EditComment(ctx context.Context, owner, repo string, commentID int64, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
}

// NewClient returns a Client authenticated with the given token. When token
// is empty the gh credential chain is consulted (GITHUB_TOKEN env var, gh
// config file, gh system keyring).
func NewClient(ctx context.Context, token string) (*Client, error) {
	if token == "" {
		token, _ = auth.TokenForHost("github.com")
	}
	if token == "" {
		return nil, ErrTokenNotFound
	}

	clt := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	clt.Timeout = ClientTimeout

	return &Client{issues: github.NewClient(clt).Issues}, nil
}

// IssueIdentifier represents an issue or PR on GitHub.
type IssueIdentifier struct {
	Owner  string
	Repo   string
	Number int
}

// UpsertComment updates the existing comment whose body contains marker, or
// creates a new one when none exists. One marker means one comment per PR,
// however many times the review app is redeployed.
func (c *Client) UpsertComment(ctx context.Context, issue IssueIdentifier, marker, body string) error {
	existing, err := c.findCommentByBody(ctx, issue, marker)
	if err != nil {
		if errors.Is(err, ErrCommentNotFound) {
			_, _, err := c.issues.CreateComment(ctx, issue.Owner, issue.Repo, issue.Number, &github.IssueComment{
				Body: &body,
			})
			return err
		}
		return err
	}

	_, _, err = c.issues.EditComment(ctx, issue.Owner, issue.Repo, existing.GetID(), &github.IssueComment{
		Body: &body,
	})
	return err
}

func (c *Client) findCommentByBody(ctx context.Context, issue IssueIdentifier, marker string) (*github.IssueComment, error) {
	comments, _, err := c.issues.ListComments(ctx, issue.Owner, issue.Repo, issue.Number, nil)
	if err != nil {
		return nil, err
	}

	for _, comment := range comments {
		if strings.Contains(comment.GetBody(), marker) {
			return comment, nil
		}
	}

	return nil, ErrCommentNotFound
}
