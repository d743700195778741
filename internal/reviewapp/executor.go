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

package reviewapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gravitational/trace"

	"github.com/previewops/fly-review-apps/internal/flyctl"
)

// FlyClient is the slice of the deployment CLI the executor needs.
type FlyClient interface {
	// Status queries the deployed state of the app.
	Status(ctx context.Context, app string) (*flyctl.AppStatus, error)

	// Launch registers the app with the platform without deploying.
	Launch(ctx context.Context, req flyctl.LaunchRequest) error

	// Deploy deploys the app.
	Deploy(ctx context.Context, req flyctl.DeployRequest) error

	// Destroy removes the app and its resources.
	Destroy(ctx context.Context, app string) error

	// ImportSecrets stages KEY=VALUE pairs as app secrets.
	ImportSecrets(ctx context.Context, app string, pairs []string) error

	// AttachPostgres attaches a postgres cluster to the app.
	AttachPostgres(ctx context.Context, app, db string) error
}

// Outcome is the terminal state of one invocation.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeDestroyed Outcome = "destroyed"
	OutcomeNoOp      Outcome = "no-op"
)

// Result is what the invocation reports back to the workflow.
type Result struct {
	Outcome  Outcome
	Name     string
	Hostname string
	URL      string
	ID       string
	Message  string
}

// Executor carries out a decision against the deployment platform.
type Executor struct {
	fly    FlyClient
	logger *slog.Logger
}

// NewExecutor creates an executor backed by fly.
func NewExecutor(fly FlyClient, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{fly: fly, logger: logger}
}

// Execute performs the external operations implied by decision.
//
// Provisioning, deploy and the closing status query are fatal on failure.
// Destroy, secrets import and postgres attach are best-effort: they
// represent already-satisfied end states or non-critical side effects, and
// webhook events are delivered at least once.
func (e *Executor) Execute(ctx context.Context, decision Decision, req *Request) (*Result, error) {
	switch decision {
	case DecisionDestroy:
		return e.destroy(ctx, req), nil
	case DecisionCreate:
		return e.create(ctx, req)
	case DecisionUpdate:
		return e.update(ctx, req)
	default:
		return &Result{
			Outcome: OutcomeNoOp,
			Name:    req.App.Name,
			Message: fmt.Sprintf("No review app action for %q", req.App.Name),
		}, nil
	}
}

func (e *Executor) destroy(ctx context.Context, req *Request) *Result {
	// Absence of the app is the desired end state, not an error.
	e.bestEffort("destroy", func() error {
		return e.fly.Destroy(ctx, req.App.Name)
	})

	return &Result{
		Outcome: OutcomeDestroyed,
		Name:    req.App.Name,
		Message: fmt.Sprintf("Review app %q destroyed", req.App.Name),
	}
}

func (e *Executor) create(ctx context.Context, req *Request) (*Result, error) {
	e.logger.Info("provisioning review app", "app", req.App.Name, "region", req.App.Region, "org", req.App.Org)

	// flyctl launch rewrites the build-args section of the config file,
	// so the deploy below must run against a restored copy.
	err := withConfigPreserved(req.ConfigPath, func() error {
		return e.fly.Launch(ctx, flyctl.LaunchRequest{
			App:        req.App.Name,
			Region:     req.App.Region,
			Org:        req.App.Org,
			ConfigPath: req.ConfigFile,
			Image:      req.Image,
			Dockerfile: req.Dockerfile,
			BuildArgs:  req.BuildArgs,
			HA:         req.HA,
			VM:         req.VM,
		})
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if len(req.Secrets) > 0 {
		e.bestEffort("secrets import", func() error {
			return e.fly.ImportSecrets(ctx, req.App.Name, req.Secrets)
		})
	}
	if req.Postgres != "" {
		e.bestEffort("postgres attach", func() error {
			return e.fly.AttachPostgres(ctx, req.App.Name, req.Postgres)
		})
	}

	result, err := e.deployAndReport(ctx, req)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result.Outcome = OutcomeCreated
	result.Message = fmt.Sprintf("Review app %q created", req.App.Name)
	return result, nil
}

func (e *Executor) update(ctx context.Context, req *Request) (*Result, error) {
	e.logger.Info("redeploying review app", "app", req.App.Name)

	result, err := e.deployAndReport(ctx, req)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result.Outcome = OutcomeUpdated
	result.Message = fmt.Sprintf("Review app %q updated", req.App.Name)
	return result, nil
}

func (e *Executor) deployAndReport(ctx context.Context, req *Request) (*Result, error) {
	err := e.fly.Deploy(ctx, flyctl.DeployRequest{
		App:          req.App.Name,
		Region:       req.App.Region,
		ConfigPath:   req.ConfigFile,
		Image:        req.Image,
		Dockerfile:   req.Dockerfile,
		BuildArgs:    req.BuildArgs,
		BuildSecrets: req.BuildSecrets,
		HA:           req.HA,
		VM:           req.VM,
		Detach:       req.Detach,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	status, err := e.fly.Status(ctx, req.App.Name)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result := &Result{
		Name:     req.App.Name,
		Hostname: status.Hostname,
		ID:       status.ID,
	}
	if status.Hostname != "" {
		result.URL = "https://" + status.Hostname
	}
	return result, nil
}

func (e *Executor) bestEffort(operation string, fn func() error) {
	if err := fn(); err != nil {
		e.logger.Warn("best-effort operation failed", "operation", operation, "error", err)
	}
}

// withConfigPreserved snapshots the config file, runs fn, and restores the
// original bytes. A file fn creates where none existed is left in place.
func withConfigPreserved(path string, fn func() error) error {
	original, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return trace.Wrap(err, "snapshotting config file")
	}
	existed := err == nil

	mode := os.FileMode(0644)
	if existed {
		if info, err := os.Stat(path); err == nil {
			mode = info.Mode().Perm()
		}
	}

	runErr := fn()

	if existed {
		if err := os.WriteFile(path, original, mode); err != nil {
			return trace.NewAggregate(runErr, trace.Wrap(err, "restoring config file"))
		}
	}

	return trace.Wrap(runErr)
}
