package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents"
	"github.com/kingrea/lattice-org/internal/agents/kit/kittest"
	"github.com/kingrea/lattice-org/internal/cache"
	"github.com/kingrea/lattice-org/internal/config"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/eventbridge"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/orgseed"
)

var seedFile = orgseed.File{Org: "acme", CEO: orgseed.CEO{ID: "boss", Name: "Cy"}}

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// startBridge serves a live organization runtime over httptest.
func startBridge(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defs := actor.NewRegistry()
	require.NoError(t, agents.RegisterBuiltins(defs, kittest.Deps(entity.NewMemory(), nil)))
	rt, err := actor.NewRuntime(ctx, defs, actor.WithCache(cache.NewMemory()), actor.WithTick(10*time.Millisecond))
	require.NoError(t, err)
	srv := httptest.NewServer(eventbridge.NewServer(eventbridge.Settings{Enabled: true}, rt).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = rt.Wait()
	})
	return srv.URL
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)
}

func TestInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := executeCLI(t, "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, config.ProjectDirName)
	assert.FileExists(t, filepath.Join(dir, config.ProjectDirName, "config.yaml"))
}

func TestStartSendStatusThroughBridge(t *testing.T) {
	url := startBridge(t)

	stdout, _, err := executeCLI(t, "--addr", url, "start", "meeting", "--initial", `{"orgId":"acme"}`)
	require.NoError(t, err)
	address := strings.TrimSpace(stdout)
	assert.True(t, strings.HasPrefix(address, "meeting:"), address)

	stdout, _, err = executeCLI(t, "--addr", url, "start", "meeting", "--initial", `{"orgId":"acme"}`)
	require.NoError(t, err)
	assert.Equal(t, "already active: "+address+"\n", stdout)

	stdout, _, err = executeCLI(t, "--addr", url, "send", address, "getStatus")
	require.NoError(t, err)
	assert.Contains(t, stdout, "delivered getStatus")

	stdout, _, err = executeCLI(t, "--addr", url, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Actors (1)")
	assert.Contains(t, stdout, address)

	stdout, _, err = executeCLI(t, "--addr", url, "status", "--json")
	require.NoError(t, err)
	var infos []actor.Info
	require.NoError(t, json.Unmarshal([]byte(stdout), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "meeting", infos[0].Role)

	stdout, _, err = executeCLI(t, "--addr", url, "state", address, "--raw")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"acme"`)
}

func TestSendFailures(t *testing.T) {
	url := startBridge(t)

	_, _, err := executeCLI(t, "--addr", url, "send", "nope", "getStatus")
	assert.Error(t, err)

	_, _, err = executeCLI(t, "--addr", url, "send", "hr:missing", "getStatus")
	assert.ErrorContains(t, err, "no live actor")

	_, _, err = executeCLI(t, "--addr", url, "send", "hr:missing", "getStatus", "--wait", "--attempts", "2", "--delay", "1ms")
	assert.ErrorContains(t, err, "not accepted after 2")

	_, _, err = executeCLI(t, "--addr", url, "send", "hr:missing", "getStatus", "--payload", "{")
	assert.ErrorContains(t, err, "not valid JSON")

	_, _, err = executeCLI(t, "--addr", url, "state", "hr:missing")
	assert.ErrorIs(t, err, actor.ErrNotFound)
}

func TestLogsTail(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.New(dir)
	require.NoError(t, err)
	logger.Infof("first")
	logger.Warnf("second")
	require.NoError(t, logger.Close())

	stdout, _, err := executeCLI(t, "logs", "--dir", dir, "-n", "1")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "first")
	assert.Contains(t, stdout, "WARN  second")
}

func TestServeBootstrapsAndAppliesSeed(t *testing.T) {
	t.Setenv("LATTICE_ORG_BRIDGE_ENABLED", "false")
	dir := t.TempDir()
	seed := filepath.Join(dir, "org.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`
org: acme
ceo: {id: boss, name: Cy}
hires:
  - {id: m1, name: Mia, role: manager}
goals:
  - title: Launch
`), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	var stdout, stderr bytes.Buffer
	g := &globals{dir: dir, now: time.Now}
	require.NoError(t, runServe(ctx, g, &serveOptions{seed: seed}, &stdout, &stderr))

	assert.Contains(t, stdout.String(), "organization acme started")
	assert.Contains(t, stdout.String(), "bridge:  disabled")

	lines, err := logging.Tail(filepath.Join(dir, config.ProjectDirName, "logs", logging.FileName), 500)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(lines, "\n"), "orgseed: applied 1 hire(s), 0 meeting(s), 0 task(s), 1 goal(s)")
}

func TestBootstrapOptionsPreferFlags(t *testing.T) {
	seed := &seedFile
	boot := bootstrapOptions(&serveOptions{org: "flag"}, seed)
	assert.Equal(t, "flag", boot.OrgID)
	assert.Equal(t, "Cy", boot.CEOName)
	assert.Equal(t, "boss", boot.CEOID)

	boot = bootstrapOptions(&serveOptions{ceo: "Dee"}, seed)
	assert.Equal(t, "acme", boot.OrgID)
	assert.Equal(t, "Dee", boot.CEOName)
	assert.Empty(t, boot.CEOID)
}
