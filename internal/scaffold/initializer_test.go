package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/depi/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		opts      Options
		setupFunc func(string)
		wantErr   bool
		wantURL   string
		wantUser  string
	}{
		{
			name:     "fresh initialization uses the default server",
			opts:     Options{User: "alice"},
			wantURL:  "ws://localhost:5150/depi",
			wantUser: "alice",
		},
		{
			name:     "explicit server url",
			opts:     Options{ServerURL: "wss://depi.example.com/depi", User: "bob"},
			wantURL:  "wss://depi.example.com/depi",
			wantUser: "bob",
		},
		{
			name: "existing file without force",
			opts: Options{User: "alice"},
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old content"), 0644)
			},
			wantErr: true,
		},
		{
			name:  "force replaces existing file",
			force: true,
			opts:  Options{User: "carol"},
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old content"), 0644)
			},
			wantURL:  "ws://localhost:5150/depi",
			wantUser: "carol",
		},
		{
			name:    "invalid server url is rejected",
			opts:    Options{ServerURL: "http://not-a-websocket", User: "alice"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(config.EnvServerURL, "")
			t.Setenv(config.EnvUser, "")
			dir := t.TempDir()
			if tt.setupFunc != nil {
				tt.setupFunc(dir)
			}

			path, err := Initialize(dir, tt.opts, tt.force)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, ConfigFile), path)

			cfg, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, cfg.Client.ServerURL)
			assert.Equal(t, tt.wantUser, cfg.Client.User)
			assert.Equal(t, "main", cfg.Client.Branch)
			assert.Equal(t, "/", cfg.Tools["git"].PathDivider)
		})
	}
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("version: \"1.0\"\n"), 0644))
	err := CheckExisting(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depi init --force")
}
