package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
llm:
  provider: openai
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
  request_timeout: 15s
  rate_limit: 2.5
server:
  host: 127.0.0.1
  port: "9090"
chat:
  submit_delay: 250ms
  echo_submissions: true
mcp_servers:
  - name: search
    type: stdio
    command: ./mock
    args: ["--flag"]
    env:
      FOO: bar
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = tmp.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	return tmp.Name()
}

// TestLoad_File verifies that Load unmarshals every section of the file.
func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.Equal(t, 15*time.Second, cfg.LLM.RequestTimeout)
	require.InDelta(t, 2.5, cfg.LLM.RateLimit, 0.001)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 250*time.Millisecond, cfg.Chat.SubmitDelay)
	require.True(t, cfg.Chat.EchoSubmissions)

	require.Len(t, cfg.MCPServers, 1)
	s := cfg.MCPServers[0]
	require.Equal(t, ClientTypeStdio, s.Type)
	require.Equal(t, "./mock", s.Command)
	require.Equal(t, []string{"--flag"}, s.Args)
	require.Equal(t, "bar", s.Env["foo"])
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 1500*time.Millisecond, cfg.Chat.SubmitDelay)
	require.Equal(t, 5, cfg.Chat.MaxToolRounds)
	require.Equal(t, "muhtesem.db", cfg.Store.Path)
	require.Equal(t, "openai", cfg.LLM.Provider)
	require.Equal(t, "dall-e-3", cfg.LLM.ImageModel)
	require.Equal(t, "https://muhtesem-tech.com", cfg.Server.PublicURL)
	require.Empty(t, cfg.MCPServers)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))
	t.Setenv("MUHTESEM_LLM_MODEL", "gpt-4.1")
	t.Setenv("MUHTESEM_LLM_API_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4.1", cfg.LLM.Model)
	require.Equal(t, "from-env", cfg.LLM.APIKey)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")

	_, err := Load()
	require.Error(t, err)
}
