package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
models:
  main:
    base_url: https://api.example.com/v1
    model: gpt-4o
agents:
  helper:
    model: main
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	model := cfg.Models["main"]
	assert.Equal(t, "openai", model.Provider)
	assert.Equal(t, 300, model.Timeout)

	agent := cfg.Agents["helper"]
	assert.Equal(t, "helper", agent.Name)
	assert.Equal(t, ModeReAct, agent.Mode)
	assert.Equal(t, 5, agent.MaxLoops.Value)
	assert.Equal(t, 3, agent.Retry)
	assert.Equal(t, 10, agent.HistoryDepth)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_KEY", "from-env")

	cfg, err := Load([]byte(`
models:
  main:
    base_url: ${PARLEY_TEST_URL:-https://fallback.example.com/v1}
    model: gpt-4o
    api_key: ${PARLEY_TEST_KEY}
agents:
  helper:
    model: main
`))
	require.NoError(t, err)

	model := cfg.Models["main"]
	assert.Equal(t, "https://fallback.example.com/v1", model.BaseURL)
	assert.Equal(t, "from-env", model.APIKey)
}

func TestMaxLoops_Unmarshal(t *testing.T) {
	cfg, err := Load([]byte(minimalConfig + `
    max_loops: auto
`))
	require.NoError(t, err)
	assert.True(t, cfg.Agents["helper"].MaxLoops.Auto)

	cfg, err = Load([]byte(minimalConfig + `
    max_loops: 3
`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Agents["helper"].MaxLoops.Value)

	_, err = Load([]byte(minimalConfig + `
    max_loops: sometimes
`))
	assert.Error(t, err)

	_, err = Load([]byte(minimalConfig + `
    max_loops: 0
`))
	assert.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "model missing base_url",
			yaml: `
models:
  main:
    model: gpt-4o
`,
			want: "base_url",
		},
		{
			name: "agent references unknown model",
			yaml: `
models:
  main:
    base_url: https://api.example.com/v1
    model: gpt-4o
agents:
  helper:
    model: missing
`,
			want: "unknown model",
		},
		{
			name: "deep_think without url",
			yaml: `
agents:
  thinker:
    mode: deep_think
`,
			want: "deep_think_url",
		},
		{
			name: "unknown tool kind",
			yaml: `
tools:
  - name: odd
    kind: grpc
`,
			want: "unknown kind",
		},
		{
			name: "http tool without origin",
			yaml: `
tools:
  - name: fetch
    kind: http
`,
			want: "origin",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestToolConfig_HTTPDescriptor(t *testing.T) {
	cfg, err := Load([]byte(`
tools:
  - id: tx
    name: transfer
    kind: http
    origin: https://bank.example.com
    path: /accounts/{id}/transfer
    method: POST
    timeout_seconds: 30
`))
	require.NoError(t, err)

	desc := cfg.Tools[0].HTTPDescriptor()
	assert.Equal(t, "transfer", desc.Name)
	assert.Equal(t, "https://bank.example.com", desc.Origin)
	assert.Equal(t, int64(30), int64(desc.Timeout.Seconds()))
}
