package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardauth/internal/shared/testutil"
)

const (
	testAppKey    = "cli-app-key"
	testAppSecret = "cli-app-secret"
	testCard      = "ABCD1234EFGH5678"
)

// isolate points configuration discovery and storage at a temp directory
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("CARDAUTH_STORAGE_DIR", dir)
	t.Setenv("CARDAUTH_TELEMETRY_ENABLE_METRICS", "false")
	t.Setenv("CARDAUTH_LOGGING_LEVEL", "error")
	return dir
}

func configure(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("CARDAUTH_CARD_APP_KEY", testAppKey)
	t.Setenv("CARDAUTH_CARD_APP_SECRET", testAppSecret)
	t.Setenv("CARDAUTH_CARD_BASE_URL", baseURL)
	t.Setenv("CARDAUTH_CARD_MAX_ATTEMPTS", "1")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// =============================================================================
// Commands
// =============================================================================

func TestSelfTestCommand(t *testing.T) {
	isolate(t)

	out, err := run(t, "selftest")
	require.NoError(t, err)
	assert.Contains(t, out, "b5f3cc619998fa45e4c11ef57e712f87")
	assert.Contains(t, out, "signature self test passed")

	out, err = run(t, "selftest", "--json")
	require.NoError(t, err)
	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["passed"])
}

func TestLoginStatusLogout(t *testing.T) {
	isolate(t)
	fake := testutil.NewFakeCardServer(t, testAppSecret)
	fake.Enqueue("/v1/card/login", testutil.OKReply(map[string]interface{}{
		"card_type":  "week",
		"expires":    "2099-01-01 00:00:00",
		"expires_ts": 4070908800,
	}))
	configure(t, fake.URL)

	out, err := run(t, "login", testCard)
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated:  true")
	assert.Contains(t, out, "ABCD****5678")
	assert.NotContains(t, out, testCard)

	out, err = run(t, "status", "--json")
	require.NoError(t, err)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, true, view["authenticated"])
	assert.Equal(t, "week", view["card_type"])

	_, err = run(t, "heartbeat")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Count("/v1/card/heartbeat"))

	out, err = run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated:  false")
	assert.Equal(t, 1, fake.Count("/v1/card/logout"))
}

func TestLoginRejectedCard(t *testing.T) {
	isolate(t)
	fake := testutil.NewFakeCardServer(t, testAppSecret)
	fake.Enqueue("/v1/card/login", testutil.CodeReply(10210, "card expired"))
	configure(t, fake.URL)

	_, err := run(t, "login", testCard)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testCard)

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated:  false")
}

func TestCommandsWithoutCredentials(t *testing.T) {
	isolate(t)

	_, err := run(t, "login", testCard)
	require.Error(t, err)

	_, err = run(t, "ping")
	require.Error(t, err)
	assert.Equal(t, "Please configure the AppKey", err.Error())

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "configured:     false")
}

func TestPingCommand(t *testing.T) {
	isolate(t)
	fake := testutil.NewFakeCardServer(t, testAppSecret)
	configure(t, fake.URL)

	out, err := run(t, "ping", "--json")
	require.NoError(t, err)
	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["reachable"])
}

func TestLoginRequiresCardArgument(t *testing.T) {
	isolate(t)
	_, err := run(t, "login")
	require.Error(t, err)
}
