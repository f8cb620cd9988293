package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamerName(t *testing.T) {
	tests := []struct {
		name      string
		flag, env string
		container bool
		want      string
		wantErr   bool
	}{
		{"flag wins", "alice", "bob", true, "alice", false},
		{"env inside container", "", "bob", true, "bob", false},
		{"env ignored outside container", "", "bob", false, "", true},
		{"nothing", "", "", true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := streamerName(tt.flag, tt.env, tt.container)
			if tt.wantErr {
				assert.ErrorIs(t, err, errNoName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.MkdirAll("configs", 0o750))
	require.NoError(t, os.WriteFile(filepath.Join("configs", "alice.config"), []byte("STREAM_SOURCE=twitch\n"), 0o600))

	got, err := findConfig("alice", "configs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("configs", "alice.config"), got)

	require.NoError(t, os.WriteFile("alice.config", []byte("STREAM_SOURCE=kick\n"), 0o600))
	got, err = findConfig("alice", "configs")
	require.NoError(t, err)
	assert.Equal(t, "alice.config", got, "working directory config takes precedence")

	_, err = findConfig("nobody", "configs")
	assert.Error(t, err)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	f := cmd.Flags().ShorthandLookup("n")
	require.NotNil(t, f)
	assert.Equal(t, "name", f.Name)
}
