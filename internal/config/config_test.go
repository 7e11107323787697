package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "inspectd", cfg.Kubernetes.Namespace)
	require.Equal(t, "inspection-build", cfg.Inspection.BuildTarget)
	require.Equal(t, "inspection-run-result", cfg.Inspection.RunTarget)
	require.Equal(t, "500m", cfg.Inspection.DefaultCPURequest)
	require.Equal(t, "256Mi", cfg.Inspection.DefaultMemoryRequest)
	require.Equal(t, "noop", cfg.Events.Provider)
	require.Equal(t, "noop", cfg.Publisher.Provider)
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := []byte(`
server:
  port: 9090
kubernetes:
  namespace: inspections
events:
  provider: postgres
  dsn: postgres://localhost/inspectd
`)
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "inspections", cfg.Kubernetes.Namespace)
	require.Equal(t, "postgres", cfg.Events.Provider)
	require.Equal(t, "inspection_events", cfg.Events.Table)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{
			name:    "zero port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			message: "server.port",
		},
		{
			name:    "auth without key",
			mutate:  func(c *Config) { c.Auth.Enabled = true },
			message: "auth.api_key",
		},
		{
			name:    "empty namespace",
			mutate:  func(c *Config) { c.Kubernetes.Namespace = "" },
			message: "kubernetes.namespace",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Events.Provider = "postgres" },
			message: "events.dsn",
		},
		{
			name:    "unknown events provider",
			mutate:  func(c *Config) { c.Events.Provider = "redis" },
			message: "unknown events provider",
		},
		{
			name:    "pubsub without project",
			mutate:  func(c *Config) { c.Publisher.Provider = "pubsub" },
			message: "publisher.project_id",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tc.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			require.ErrorContains(t, err, tc.message)
		})
	}
}
