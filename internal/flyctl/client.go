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

// Package flyctl wraps the flyctl CLI behind typed operations. Argument
// lists are assembled as slices, never concatenated strings.
package flyctl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// DefaultBin is the flyctl binary resolved from PATH.
const DefaultBin = "flyctl"

// ErrAppNotFound is returned by Status when the app is not registered with
// the platform.
var ErrAppNotFound = errors.New("app not found")

// AppStatus is the subset of `flyctl status --json` this action consumes.
type AppStatus struct {
	Name     string `json:"Name"`
	Hostname string `json:"Hostname"`
	ID       string `json:"ID"`
}

// VMConfig selects machine sizing for deploys. Size and the explicit
// CPUKind/CPUs/Memory triple are mutually exclusive.
type VMConfig struct {
	Size    string
	CPUKind string
	CPUs    int
	Memory  string
}

func (vm VMConfig) flags() []string {
	var args []string
	if vm.Size != "" {
		args = append(args, "--vm-size", vm.Size)
		return args
	}
	if vm.CPUKind != "" {
		args = append(args, "--vm-cpu-kind", vm.CPUKind)
	}
	if vm.CPUs > 0 {
		args = append(args, "--vm-cpus", strconv.Itoa(vm.CPUs))
	}
	if vm.Memory != "" {
		args = append(args, "--vm-memory", vm.Memory)
	}
	return args
}

// LaunchRequest provisions a new app without deploying it.
type LaunchRequest struct {
	App        string
	Region     string
	Org        string
	ConfigPath string
	Image      string
	Dockerfile string
	BuildArgs  []string
	HA         bool
	VM         VMConfig
}

// DeployRequest deploys an existing app.
type DeployRequest struct {
	App          string
	Region       string
	ConfigPath   string
	Image        string
	Dockerfile   string
	BuildArgs    []string
	BuildSecrets []string
	HA           bool
	VM           VMConfig
	Detach       bool
}

// Client invokes flyctl as a subprocess.
type Client struct {
	bin    string
	dir    string
	runner Runner
	logger *slog.Logger
}

// ClientOption provides optional configuration to the client.
type ClientOption func(c *Client)

// WithBin overrides the flyctl binary path.
func WithBin(bin string) ClientOption {
	return func(c *Client) {
		if bin != "" {
			c.bin = bin
		}
	}
}

// WithDir sets the working directory for all invocations.
func WithDir(dir string) ClientOption {
	return func(c *Client) {
		c.dir = dir
	}
}

// WithRunner substitutes the command runner. Useful for testing.
func WithRunner(runner Runner) ClientOption {
	return func(c *Client) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a flyctl client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		bin:    DefaultBin,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runner == nil {
		c.runner = NewExecRunner(c.logger)
	}
	return c
}

// Status queries the deployed state of app. Returns ErrAppNotFound when the
// platform has no app registered under that name.
func (c *Client) Status(ctx context.Context, app string) (*AppStatus, error) {
	out, err := c.run(ctx, nil, "status", "--app", app, "--json")
	if err != nil {
		if isNotFound(err) {
			return nil, trace.Wrap(ErrAppNotFound, "app %q", app)
		}
		return nil, trace.Wrap(err)
	}

	var status AppStatus
	if err := json.Unmarshal(out, &status); err != nil {
		return nil, trace.Wrap(err, "parsing status output")
	}
	return &status, nil
}

// Launch registers the app with the platform without deploying it.
//
// flyctl launch rewrites the build arguments section of the config file as
// a side effect; callers are expected to snapshot and restore the file
// around this call.
func (c *Client) Launch(ctx context.Context, req LaunchRequest) error {
	args := []string{
		"launch",
		"--no-deploy",
		"--copy-config",
		"--name", req.App,
		"--region", req.Region,
		"--org", req.Org,
	}
	args = appendConfigFlag(args, req.ConfigPath)
	args = appendBuildFlags(args, req.Image, req.Dockerfile, req.BuildArgs, nil)
	args = append(args, haFlag(req.HA))
	args = append(args, req.VM.flags()...)

	_, err := c.run(ctx, nil, args...)
	return trace.Wrap(err)
}

// Deploy deploys the app.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) error {
	args := []string{
		"deploy",
		"--app", req.App,
		"--regions", req.Region,
	}
	args = appendConfigFlag(args, req.ConfigPath)
	args = appendBuildFlags(args, req.Image, req.Dockerfile, req.BuildArgs, req.BuildSecrets)
	args = append(args, haFlag(req.HA))
	args = append(args, req.VM.flags()...)
	if req.Detach {
		args = append(args, "--detach")
	}

	_, err := c.run(ctx, nil, args...)
	return trace.Wrap(err)
}

// Destroy removes the app and all of its resources.
func (c *Client) Destroy(ctx context.Context, app string) error {
	_, err := c.run(ctx, nil, "apps", "destroy", app, "--yes")
	return trace.Wrap(err)
}

// ImportSecrets stages the KEY=VALUE pairs as app secrets. Values are fed
// over stdin so they never appear in process listings.
func (c *Client) ImportSecrets(ctx context.Context, app string, pairs []string) error {
	if len(pairs) == 0 {
		return nil
	}
	stdin := strings.NewReader(strings.Join(pairs, "\n") + "\n")
	_, err := c.run(ctx, stdin, "secrets", "import", "--app", app)
	return trace.Wrap(err)
}

// AttachPostgres attaches the postgres cluster db to the app, injecting a
// DATABASE_URL secret.
func (c *Client) AttachPostgres(ctx context.Context, app, db string) error {
	_, err := c.run(ctx, nil, "postgres", "attach", db, "--app", app, "--yes")
	return trace.Wrap(err)
}

func (c *Client) run(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	return c.runner.Run(ctx, Command{
		Name:  c.bin,
		Args:  args,
		Dir:   c.dir,
		Stdin: stdin,
	})
}

func appendConfigFlag(args []string, configPath string) []string {
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

func appendBuildFlags(args []string, image, dockerfile string, buildArgs, buildSecrets []string) []string {
	switch {
	case image != "":
		args = append(args, "--image", image)
	case dockerfile != "":
		args = append(args, "--dockerfile", dockerfile)
	}
	for _, arg := range buildArgs {
		args = append(args, "--build-arg", arg)
	}
	for _, secret := range buildSecrets {
		args = append(args, "--build-secret", secret)
	}
	return args
}

func haFlag(enabled bool) string {
	return "--ha=" + strconv.FormatBool(enabled)
}

func isNotFound(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Stderr), "could not find app")
}
