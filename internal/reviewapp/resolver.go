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

// Package reviewapp implements the review app lifecycle: resolving the app
// identity and deploy parameters from action inputs, deciding what a
// triggering event means for the app, and carrying that decision out
// against the deployment platform.
package reviewapp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml/v2"

	"github.com/previewops/fly-review-apps/internal/flyctl"
	"github.com/previewops/fly-review-apps/internal/gha"
)

const (
	// DefaultConfigFile is the platform deployment config file name.
	DefaultConfigFile = "fly.toml"

	fallbackRegion = "iad"
	fallbackOrg    = "personal"
)

// ErrUnsafeAppName is returned when the resolved app name does not contain
// the pull request number. Without the number in the name, a close event on
// one PR could destroy another PR's app.
var ErrUnsafeAppName = errors.New("resolved app name does not contain the pull request number")

// Inputs are the raw action inputs plus the process environment defaults,
// captured once so that resolution is an explicit ordered fallback rather
// than ambient lookups.
type Inputs struct {
	// Name overrides the generated app name.
	Name string
	// Region and Org override the platform defaults.
	Region string
	Org    string
	// DefaultRegion and DefaultOrg come from FLY_REGION / FLY_ORG.
	DefaultRegion string
	DefaultOrg    string
	// Image and Dockerfile select the build path. Image wins when both
	// are set, matching flyctl's own precedence.
	Image      string
	Dockerfile string
	// BuildArgs, BuildSecrets and Secrets are newline-or-space separated
	// KEY=VALUE sequences.
	BuildArgs    string
	BuildSecrets string
	Secrets      string
	// HA is a raw bool ("true"/"false") or a pre-formatted "--ha=..."
	// flag string. Empty means disabled.
	HA string
	// Wait toggles synchronous deploys.
	Wait bool
	// VM sizing: either a size label or the explicit triple.
	VMSize    string
	VMCPUKind string
	VMCPUs    int
	VMMemory  string
	// Postgres names a database app to attach.
	Postgres string
	// Config is the deployment config file, relative to Path.
	Config string
	// Path is the working directory for all platform operations.
	Path string
}

// App identifies the review app on the platform.
type App struct {
	Name   string
	Region string
	Org    string
}

// Request is the resolved, immutable parameter set for one invocation.
type Request struct {
	App App

	// Dir is the working directory for flyctl invocations.
	Dir string
	// ConfigFile is the config path as passed to flyctl, relative to Dir.
	ConfigFile string
	// ConfigPath is the same file as seen from this process.
	ConfigPath string
	// ConfigAppName is the app name declared in the config file, if the
	// file exists and declares one. Informational.
	ConfigAppName string

	Image        string
	Dockerfile   string
	BuildArgs    []string
	BuildSecrets []string
	Secrets      []string
	HA           bool
	Detach       bool
	VM           flyctl.VMConfig
	Postgres     string
}

// Resolve derives the app identity and deploy request from the action
// inputs and the triggering event. It fails before any external operation
// when the event has no PR number or the name fails the safety check.
func Resolve(in Inputs, ev *gha.Event) (*Request, error) {
	if ev == nil || ev.Number <= 0 {
		return nil, trace.Wrap(gha.ErrMissingPRNumber)
	}

	name := in.Name
	if name == "" {
		name = fmt.Sprintf("pr-%d-%s-%s", ev.Number, ev.Owner, ev.Repo)
	}
	name = normalizeName(name)

	// The PR number in the name is the only thing scoping destructive
	// operations to this PR. Refuse to continue without it.
	if !strings.Contains(name, strconv.Itoa(ev.Number)) {
		return nil, trace.Wrap(ErrUnsafeAppName, "app %q, pr %d", name, ev.Number)
	}

	ha, err := parseHA(in.HA)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	vm, err := resolveVM(in)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	buildArgs, err := parsePairs("build-args", in.BuildArgs)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	buildSecrets, err := parsePairs("build-secrets", in.BuildSecrets)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	secrets, err := parsePairs("secrets", in.Secrets)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	configFile := in.Config
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	configPath := configFile
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(in.Path, configFile)
	}

	return &Request{
		App: App{
			Name:   name,
			Region: firstNonEmpty(in.Region, in.DefaultRegion, fallbackRegion),
			Org:    firstNonEmpty(in.Org, in.DefaultOrg, fallbackOrg),
		},
		Dir:           in.Path,
		ConfigFile:    configFile,
		ConfigPath:    configPath,
		ConfigAppName: configAppName(configPath),
		Image:         in.Image,
		Dockerfile:    in.Dockerfile,
		BuildArgs:     buildArgs,
		BuildSecrets:  buildSecrets,
		Secrets:       secrets,
		HA:            ha,
		Detach:        !in.Wait,
		VM:            vm,
		Postgres:      in.Postgres,
	}, nil
}

// normalizeName lowercases the name and maps underscores to hyphens, which
// the platform naming scheme forbids.
func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

func parseHA(raw string) (bool, error) {
	switch raw = strings.TrimSpace(raw); raw {
	case "":
		return false, nil
	default:
		value := strings.TrimPrefix(raw, "--ha=")
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return false, trace.BadParameter("invalid ha value %q", raw)
		}
		return enabled, nil
	}
}

func resolveVM(in Inputs) (flyctl.VMConfig, error) {
	explicit := in.VMCPUKind != "" || in.VMCPUs > 0 || in.VMMemory != ""
	if in.VMSize != "" && explicit {
		return flyctl.VMConfig{}, trace.BadParameter("vm-size and explicit cpu/memory sizing are mutually exclusive")
	}
	return flyctl.VMConfig{
		Size:    in.VMSize,
		CPUKind: in.VMCPUKind,
		CPUs:    in.VMCPUs,
		Memory:  in.VMMemory,
	}, nil
}

// parsePairs splits a newline-or-space separated KEY=VALUE sequence,
// preserving order.
func parsePairs(input, raw string) ([]string, error) {
	fields := strings.Fields(raw)
	for _, field := range fields {
		key, _, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, trace.BadParameter("%s: %q is not KEY=VALUE", input, field)
		}
	}
	return fields, nil
}

// configAppName extracts the app name declared in the deployment config
// file. A missing or unparsable file yields an empty name; the file is the
// platform CLI's to validate, not ours.
func configAppName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var config struct {
		App string `toml:"app"`
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return ""
	}
	return config.App
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
