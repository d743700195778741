package reviewapp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previewops/fly-review-apps/internal/flyctl"
	"github.com/previewops/fly-review-apps/internal/gha"
)

func prEvent(number int) *gha.Event {
	return &gha.Event{Action: gha.ActionOpened, Number: number, Owner: "acme", Repo: "widgets"}
}

func TestResolveGeneratedName(t *testing.T) {
	req, err := Resolve(Inputs{}, prEvent(42))
	require.NoError(t, err)
	assert.Equal(t, "pr-42-acme-widgets", req.App.Name)
}

func TestResolveNameNormalization(t *testing.T) {
	for _, tt := range []struct {
		desc string
		in   Inputs
		ev   *gha.Event
		want string
	}{
		{
			desc: "explicit name passes through",
			in:   Inputs{Name: "widgets-pr-42-preview"},
			ev:   prEvent(42),
			want: "widgets-pr-42-preview",
		},
		{
			desc: "underscores become hyphens",
			in:   Inputs{Name: "widgets_pr_42"},
			ev:   prEvent(42),
			want: "widgets-pr-42",
		},
		{
			desc: "uppercase is lowered",
			in:   Inputs{Name: "Widgets-PR-42"},
			ev:   prEvent(42),
			want: "widgets-pr-42",
		},
		{
			desc: "repo with underscores",
			in:   Inputs{},
			ev:   &gha.Event{Action: gha.ActionOpened, Number: 7, Owner: "acme", Repo: "my_service"},
			want: "pr-7-acme-my-service",
		},
	} {
		t.Run(tt.desc, func(t *testing.T) {
			req, err := Resolve(tt.in, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.App.Name)
		})
	}
}

func TestResolveUnsafeName(t *testing.T) {
	// "myapp" does not embed PR number 42; a close event for PR 42 could
	// otherwise destroy an unrelated app.
	_, err := Resolve(Inputs{Name: "myapp"}, prEvent(42))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsafeAppName), "got %v", err)
}

func TestResolveMissingPRNumber(t *testing.T) {
	for desc, ev := range map[string]*gha.Event{
		"nil event":   nil,
		"zero number": {Action: gha.ActionOpened},
	} {
		t.Run(desc, func(t *testing.T) {
			_, err := Resolve(Inputs{}, ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, gha.ErrMissingPRNumber), "got %v", err)
		})
	}
}

func TestResolveRegionOrgFallbackChain(t *testing.T) {
	for _, tt := range []struct {
		desc       string
		in         Inputs
		wantRegion string
		wantOrg    string
	}{
		{
			desc:       "explicit input wins",
			in:         Inputs{Region: "lhr", Org: "acme-org", DefaultRegion: "fra", DefaultOrg: "other"},
			wantRegion: "lhr",
			wantOrg:    "acme-org",
		},
		{
			desc:       "environment default next",
			in:         Inputs{DefaultRegion: "fra", DefaultOrg: "acme-org"},
			wantRegion: "fra",
			wantOrg:    "acme-org",
		},
		{
			desc:       "hardcoded fallback last",
			in:         Inputs{},
			wantRegion: "iad",
			wantOrg:    "personal",
		},
	} {
		t.Run(tt.desc, func(t *testing.T) {
			req, err := Resolve(tt.in, prEvent(42))
			require.NoError(t, err)
			assert.Equal(t, tt.wantRegion, req.App.Region)
			assert.Equal(t, tt.wantOrg, req.App.Org)
		})
	}
}

func TestResolveBuildArgs(t *testing.T) {
	req, err := Resolve(Inputs{BuildArgs: "COMMIT=abc123\nFLAVOR=preview DEBUG=1"}, prEvent(42))
	require.NoError(t, err)
	assert.Equal(t, []string{"COMMIT=abc123", "FLAVOR=preview", "DEBUG=1"}, req.BuildArgs)
}

func TestResolveMalformedPairs(t *testing.T) {
	for desc, in := range map[string]Inputs{
		"no equals":    {BuildArgs: "COMMIT"},
		"empty key":    {Secrets: "=value"},
		"build secret": {BuildSecrets: "TOKEN"},
	} {
		t.Run(desc, func(t *testing.T) {
			_, err := Resolve(in, prEvent(42))
			require.Error(t, err)
		})
	}
}

func TestResolveHA(t *testing.T) {
	for _, tt := range []struct {
		raw     string
		want    bool
		wantErr bool
	}{
		{raw: "", want: false},
		{raw: "true", want: true},
		{raw: "false", want: false},
		{raw: "--ha=true", want: true},
		{raw: "--ha=false", want: false},
		{raw: "maybe", wantErr: true},
	} {
		t.Run("ha="+tt.raw, func(t *testing.T) {
			req, err := Resolve(Inputs{HA: tt.raw}, prEvent(42))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.HA)
		})
	}
}

func TestResolveVMSizingMutuallyExclusive(t *testing.T) {
	_, err := Resolve(Inputs{VMSize: "performance-2x", VMCPUs: 4}, prEvent(42))
	require.Error(t, err)

	req, err := Resolve(Inputs{VMCPUKind: "shared", VMCPUs: 2, VMMemory: "512"}, prEvent(42))
	require.NoError(t, err)
	assert.Equal(t, flyctl.VMConfig{CPUKind: "shared", CPUs: 2, Memory: "512"}, req.VM)
}

func TestResolveDetach(t *testing.T) {
	req, err := Resolve(Inputs{}, prEvent(42))
	require.NoError(t, err)
	assert.True(t, req.Detach)

	req, err = Resolve(Inputs{Wait: true}, prEvent(42))
	require.NoError(t, err)
	assert.False(t, req.Detach)
}

func TestResolveConfigPaths(t *testing.T) {
	req, err := Resolve(Inputs{Path: "services/web", Config: "fly.preview.toml"}, prEvent(42))
	require.NoError(t, err)
	assert.Equal(t, "services/web", req.Dir)
	assert.Equal(t, "fly.preview.toml", req.ConfigFile)
	assert.Equal(t, filepath.Join("services", "web", "fly.preview.toml"), req.ConfigPath)

	req, err = Resolve(Inputs{}, prEvent(42))
	require.NoError(t, err)
	assert.Equal(t, "fly.toml", req.ConfigFile)
	assert.Equal(t, "fly.toml", req.ConfigPath)
}

func TestResolveConfigAppName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fly.toml"), []byte(
		"app = \"widgets-staging\"\nprimary_region = \"iad\"\n\n[build]\n  dockerfile = \"Dockerfile\"\n"), 0644))

	req, err := Resolve(Inputs{Path: dir}, prEvent(42))
	require.NoError(t, err)
	assert.Equal(t, "widgets-staging", req.ConfigAppName)

	// Missing or unparsable config is not an error.
	req, err = Resolve(Inputs{Path: t.TempDir()}, prEvent(42))
	require.NoError(t, err)
	assert.Empty(t, req.ConfigAppName)
}
