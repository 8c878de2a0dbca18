package main

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return nil, err
	}
	var v map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &v), out.String())
	return v, nil
}

func TestCellCommand(t *testing.T) {
	got, err := run(t, "cell", "8928308280fffff")
	require.NoError(t, err)
	assert.Equal(t, "8928308280fffff", got["h3_index"])
	assert.Equal(t, 9.0, got["resolution"])
	assert.Len(t, got["boundary"], 7)

	got, err = run(t, "cell", "--", "37.775938728915946", "-122.41795063018799", "9")
	require.NoError(t, err)
	assert.Equal(t, "8928308280fffff", got["h3_index"])

	_, err = run(t, "cell", "zz")
	assert.Error(t, err)
	_, err = run(t, "cell", "1", "2")
	assert.Error(t, err)
}

func TestNeighborsCommand(t *testing.T) {
	got, err := run(t, "neighbors", "8928308280fffff", "-k", "1")
	require.NoError(t, err)
	assert.Len(t, got["neighbors"], 6)
}

func TestCoverCommand(t *testing.T) {
	got, err := run(t, "cover", "--north", "56.0", "--west", "37.3", "--south", "55.5", "--east", "37.9", "--zoom", "10")
	require.NoError(t, err)
	assert.Equal(t, 5.0, got["resolution"])
	assert.Equal(t, "ok", got["status"])
	assert.Greater(t, got["count"], 0.0)

	_, err = run(t, "cover", "--north", "56.0", "--west", "37.3", "--south", "55.5", "--east", "37.9")
	assert.Error(t, err)

	got, err = run(t, "cover", "--north", "56.0", "--west", "37.3", "--south", "55.5", "--east", "37.9",
		"--resolution", "12", "--limit", "100")
	require.NoError(t, err)
	assert.Equal(t, "too_many_cells", got["status"])
	assert.Equal(t, 0.0, got["count"])
}
