package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/cortex"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cortex dev\n", out)
}

func TestPlanCmd(t *testing.T) {
	out, err := execute(t, "plan", "--start", "0", "--goal", "3", "--lookahead", "1", "--log-level", "error")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "start 0, goal 3, lookahead 1", lines[0])
	assert.Contains(t, lines[1], "-> right")
	assert.Contains(t, lines[1], "predicted 2  realized 2")
	assert.Equal(t, "goal reached in 3 steps", lines[4])
}

func TestPlanCmd_InvalidLookahead(t *testing.T) {
	_, err := execute(t, "plan", "--lookahead=-1", "--log-level", "error")
	assert.Error(t, err)
}

func TestPlanCmd_BadLogLevel(t *testing.T) {
	_, err := execute(t, "plan", "--log-level", "loud")
	assert.ErrorContains(t, err, "configure logging")
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := cortex.DefaultConfig()
	cfg.World.Start, cfg.World.Goal = 0, 2
	a, err := newApp(t.Context(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close(t.Context()) })
	return a
}

func TestEval(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	eval := func(input string) error {
		t.Helper()
		out.Reset()
		quit, err := a.eval(t.Context(), &out, input)
		assert.False(t, quit)
		return err
	}

	require.NoError(t, eval("state"))
	assert.Equal(t, "position 0, goal 2, loss 2\n", out.String())

	require.NoError(t, eval("plan 1"))
	assert.Equal(t, "right (lookahead 1)\n", out.String())

	require.NoError(t, eval("run"))
	assert.Equal(t, 2, strings.Count(out.String(), "-> right"))
	assert.True(t, a.env.State().Done())

	require.NoError(t, eval("credits"))
	assert.Equal(t, "\"right\"  -1\n", out.String())

	require.NoError(t, eval("transitions"))
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))

	require.NoError(t, eval("predictions"))
	assert.Contains(t, out.String(), "error 0")

	require.NoError(t, eval("goal -1"))
	require.NoError(t, eval("reset 3"))
	require.NoError(t, eval("state"))
	assert.Equal(t, "position 3, goal -1, loss 4\n", out.String())

	assert.Error(t, eval("goal"))
	assert.Error(t, eval("reset x"))
	assert.ErrorContains(t, eval("dance"), "unknown command")

	quit, err := a.eval(t.Context(), &out, "quit")
	require.NoError(t, err)
	assert.True(t, quit)
}
