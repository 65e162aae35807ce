package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	parley "github.com/parley-chat/parley-go"
)

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PARLEY_HOME", dir)

	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "default.base_url", "https://chat.example.com/api"))
	require.NoError(t, setConfigValue(cfg, "auth.token", "secret-token-value"))
	require.NoError(t, setConfigValue(cfg, "auth.user_id", "42"))
	require.NoError(t, saveConfig(cfg))

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, *cfg, *loaded)
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("PARLEY_HOME", t.TempDir())
	require.NoError(t, saveConfig(&Config{
		Default: ConfigDefault{BaseURL: "https://file.example.com/api"},
		Auth:    ConfigAuth{Token: "file-token", UserID: "1"},
	}))
	t.Setenv("PARLEY_TOKEN", "env-token")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Auth.Token)
	assert.Equal(t, "https://file.example.com/api", cfg.Default.BaseURL)
	assert.Equal(t, "1", cfg.Auth.UserID)

	// The file keeps its own value.
	path, err := configPath()
	require.NoError(t, err)
	fromFile, err := readConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", fromFile.Auth.Token)
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("PARLEY_HOME", t.TempDir())
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.Token)

	_, err = newApp()
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestSetConfigValueErrors(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, setConfigValue(cfg, "token", "x"))
	assert.Error(t, setConfigValue(cfg, "default.nope", "x"))
	assert.Error(t, setConfigValue(cfg, "auth.nope", "x"))
	assert.Error(t, setConfigValue(cfg, "other.token", "x"))
}

func TestSocketURL(t *testing.T) {
	a := &app{cfg: &Config{}, client: parley.NewClient("t", parley.WithBaseURL("https://chat.example.com/api"))}
	assert.Equal(t, "https://chat.example.com/ws", a.socketURL())

	a.cfg.Default.SocketURL = "wss://push.example.com/socket"
	assert.Equal(t, "wss://push.example.com/socket", a.socketURL())
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "*****", maskToken("short"))
	assert.Equal(t, "abcdef...wxyz", maskToken("abcdefghijklmnopqrstuvwxyz"))
}

func TestFormatMessage(t *testing.T) {
	m := parley.Message{
		ID:             "7",
		SenderUsername: "bob",
		Content:        "ship it",
		Edited:         true,
		IsPinned:       true,
		Reactions:      []parley.Reaction{{Emoji: "🚀", UserIDs: []parley.ID{"1", "3"}}},
		Reads:          []parley.MessageReadItem{{UserID: "1"}},
	}
	assert.Equal(t, "  [7] bob: ship it (edited) [pinned] 🚀2 (read by 1)", formatMessage(m))

	assert.Equal(t, "  -- carol joined the chat --", formatMessage(parley.Message{IsSystem: true, Content: "carol joined the chat"}))
}

func TestPrintNotifier(t *testing.T) {
	var buf bytes.Buffer
	printNotifier{out: &buf}.Notify(parley.ToastError, "Failed to send message")
	assert.Contains(t, buf.String(), "Failed to send message")
}
