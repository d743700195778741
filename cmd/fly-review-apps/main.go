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

// Command fly-review-apps manages an ephemeral Fly.io review app for the
// pull request that triggered the workflow run: created on open, redeployed
// on sync, destroyed on close.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/previewops/fly-review-apps/internal/flyctl"
	"github.com/previewops/fly-review-apps/internal/gha"
	"github.com/previewops/fly-review-apps/internal/reviewapp"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))

type config struct {
	inputs reviewapp.Inputs

	comment     bool
	githubToken string
	flyctlBin   string
}

// parseCLI binds every action input to a flag with an INPUT_* env var, the
// form GitHub Actions delivers `with:` values in, so the binary behaves the
// same under a workflow and in a local shell.
func parseCLI() *config {
	c := &config{}

	kingpin.Flag("name", "Explicit app name, overrides the generated one").
		Envar("INPUT_NAME").StringVar(&c.inputs.Name)
	kingpin.Flag("region", "Deployment region").
		Envar("INPUT_REGION").StringVar(&c.inputs.Region)
	kingpin.Flag("org", "Organization owning the app").
		Envar("INPUT_ORG").StringVar(&c.inputs.Org)
	kingpin.Flag("image", "Prebuilt image reference to deploy").
		Envar("INPUT_IMAGE").StringVar(&c.inputs.Image)
	kingpin.Flag("dockerfile", "Dockerfile to build instead of an image").
		Envar("INPUT_DOCKERFILE").StringVar(&c.inputs.Dockerfile)
	kingpin.Flag("build-args", "Newline or space separated KEY=VALUE build arguments").
		Envar("INPUT_BUILD_ARGS").StringVar(&c.inputs.BuildArgs)
	kingpin.Flag("build-secrets", "Newline or space separated KEY=VALUE build secrets").
		Envar("INPUT_BUILD_SECRETS").StringVar(&c.inputs.BuildSecrets)
	kingpin.Flag("secrets", "Newline or space separated KEY=VALUE app secrets").
		Envar("INPUT_SECRETS").StringVar(&c.inputs.Secrets)
	kingpin.Flag("ha", "High availability: true, false, or a preformatted --ha= flag").
		Envar("INPUT_HA").StringVar(&c.inputs.HA)
	kingpin.Flag("wait", "Wait for the deploy to complete instead of detaching").
		Envar("INPUT_WAIT").BoolVar(&c.inputs.Wait)
	kingpin.Flag("vm-size", "Machine size label").
		Envar("INPUT_VM_SIZE").StringVar(&c.inputs.VMSize)
	kingpin.Flag("vm-cpukind", "Machine CPU kind (shared, performance)").
		Envar("INPUT_VM_CPUKIND").StringVar(&c.inputs.VMCPUKind)
	kingpin.Flag("vm-cpus", "Machine CPU count").
		Envar("INPUT_VM_CPUS").IntVar(&c.inputs.VMCPUs)
	kingpin.Flag("vm-memory", "Machine memory (MB)").
		Envar("INPUT_VM_MEMORY").StringVar(&c.inputs.VMMemory)
	kingpin.Flag("postgres", "Postgres cluster app to attach").
		Envar("INPUT_POSTGRES").StringVar(&c.inputs.Postgres)
	kingpin.Flag("config", "Deployment config file, relative to --path").
		Envar("INPUT_CONFIG").StringVar(&c.inputs.Config)
	kingpin.Flag("path", "Working directory for deployment operations").
		Envar("INPUT_PATH").StringVar(&c.inputs.Path)

	kingpin.Flag("comment", "Maintain a PR comment with the review app URL").
		Envar("INPUT_COMMENT").Default("false").BoolVar(&c.comment)
	kingpin.Flag("github-token", "Token for the PR comment; falls back to the gh credential chain").
		Envar("INPUT_GITHUB_TOKEN").StringVar(&c.githubToken)
	kingpin.Flag("flyctl-bin", "flyctl binary to invoke").
		Envar("INPUT_FLYCTL_BIN").Default(flyctl.DefaultBin).StringVar(&c.flyctlBin)

	kingpin.Parse()

	c.inputs.DefaultRegion = os.Getenv("FLY_REGION")
	c.inputs.DefaultOrg = os.Getenv("FLY_ORG")

	return c
}

func main() {
	cfg := parseCLI()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config) error {
	event, err := gha.ParseEvent(os.Getenv(gha.EventPathEnv))
	if err != nil {
		return trace.Wrap(err)
	}
	logger.Info("handling pull request event",
		"action", event.Action, "pr", event.Number, "owner", event.Owner, "repo", event.Repo)

	req, err := reviewapp.Resolve(cfg.inputs, event)
	if err != nil {
		return trace.Wrap(err)
	}
	if req.ConfigAppName != "" && req.ConfigAppName != req.App.Name {
		logger.Warn("config file declares a different app name; the resolved name takes precedence",
			"config_app", req.ConfigAppName, "app", req.App.Name)
	}

	fly := flyctl.NewClient(
		flyctl.WithBin(cfg.flyctlBin),
		flyctl.WithDir(req.Dir),
		flyctl.WithLogger(logger),
	)

	exists := true
	if _, err := fly.Status(ctx, req.App.Name); err != nil {
		if !errors.Is(err, flyctl.ErrAppNotFound) {
			return trace.Wrap(err)
		}
		exists = false
	}

	decision := reviewapp.Decide(event.Action, exists)
	logger.Info("lifecycle decision", "decision", decision, "app", req.App.Name, "exists", exists)

	result, err := reviewapp.NewExecutor(fly, logger).Execute(ctx, decision, req)
	if err != nil {
		return trace.Wrap(err)
	}
	logger.Info("review app run complete", "outcome", result.Outcome, "app", result.Name, "url", result.URL)

	report(ctx, cfg, event, decision, result)
	return nil
}

// report publishes the result to the workflow: step outputs, the step
// summary, and optionally a PR comment. All of it is best-effort; a
// successfully converged app is not failed over reporting.
func report(ctx context.Context, cfg *config, event *gha.Event, decision reviewapp.Decision, result *reviewapp.Result) {
	if path := os.Getenv(gha.OutputEnv); path != "" {
		out := gha.Outputs{
			Name:     result.Name,
			Hostname: result.Hostname,
			URL:      result.URL,
			ID:       result.ID,
			Message:  result.Message,
		}
		if err := out.Write(path); err != nil {
			logger.Warn("failed to write step outputs", "error", err)
		}
	}

	if decision == reviewapp.DecisionNoOp {
		return
	}

	if path := os.Getenv(gha.StepSummaryEnv); path != "" {
		if err := gha.WriteStepSummary(path, result.Markdown()); err != nil {
			logger.Warn("failed to write step summary", "error", err)
		}
	}

	if !cfg.comment {
		return
	}
	gh, err := gha.NewClient(ctx, cfg.githubToken)
	if err != nil {
		logger.Warn("skipping PR comment", "error", err)
		return
	}
	issue := gha.IssueIdentifier{Owner: event.Owner, Repo: event.Repo, Number: event.Number}
	if err := gh.UpsertComment(ctx, issue, reviewapp.CommentMarker, result.Markdown()); err != nil {
		logger.Warn("failed to post PR comment", "error", err)
	}
}

func logLevel() slog.Level {
	// RUNNER_DEBUG is set when a workflow runs with debug logging enabled.
	if os.Getenv("RUNNER_DEBUG") == "1" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
