package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/tokenward/adapters/credentials"
	"github.com/layer-3/tokenward/adapters/events"
	"github.com/layer-3/tokenward/config"
	"github.com/layer-3/tokenward/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeAccounts(t *testing.T) string {
	t.Helper()
	hash, err := credentials.HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)

	data, err := json.Marshal([]credentials.Account{
		{Identifier: "alice@example.com", Subject: "user-1", PasswordHash: hash, Active: true},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.SigningKey = strings.Repeat("k", 32)
	cfg.AccountsFile = writeAccounts(t)
	cfg.StoreRetryBackoff = time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

// syncBuffer lets the janitor goroutine log while the test reads
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLogger(t *testing.T) (*logging.SlogLogger, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	l, err := logging.New(buf, "debug", "text")
	require.NoError(t, err)
	return l, buf
}

func post(t *testing.T, h http.Handler, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func login(t *testing.T, h http.Handler) tokens {
	t.Helper()
	w := post(t, h, "/auth/login", "", map[string]string{"identifier": "alice@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out tokens
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestNewApp_Memory(t *testing.T) {
	ctx := context.Background()
	logger, logs := newLogger(t)

	app, err := NewApp(ctx, testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	tk := login(t, app.Handler())
	w := post(t, app.Handler(), "/auth/logout", tk.AccessToken, map[string]string{"refresh_token": tk.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, logs.String(), "backend=memory")
	assert.Contains(t, logs.String(), "accounts=1")
}

func TestNewApp_Redis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Backend = config.BackendRedis
	cfg.RedisURL = "redis://" + mr.Addr()
	require.NoError(t, cfg.Validate())

	logger, _ := newLogger(t)
	app, err := NewApp(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	tk := login(t, app.Handler())

	var sessionKeys int
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "tokenward:session:") {
			sessionKeys++
		}
	}
	assert.Equal(t, 1, sessionKeys)

	w := post(t, app.Handler(), "/auth/logout", tk.AccessToken, map[string]string{"refresh_token": tk.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	// Logout went out on the event stream
	assert.True(t, mr.Exists(events.TopicLogout))
}

func TestNewApp_Errors(t *testing.T) {
	ctx := context.Background()
	logger, _ := newLogger(t)

	t.Run("unreachable redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig(t)
		cfg.Backend = config.BackendRedis
		cfg.RedisURL = "redis://" + addr
		_, err := NewApp(ctx, cfg, logger)
		assert.ErrorContains(t, err, "redis ping")
	})

	t.Run("bad redis url", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.RedisURL = "http://nope"
		_, err := NewApp(ctx, cfg, logger)
		assert.ErrorContains(t, err, "parse redis url")
	})

	t.Run("missing accounts file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AccountsFile = filepath.Join(t.TempDir(), "missing.json")
		_, err := NewApp(ctx, cfg, logger)
		assert.ErrorContains(t, err, "load accounts")
	})
}

func TestApp_Run(t *testing.T) {
	logger, logs := newLogger(t)
	app, err := NewApp(context.Background(), testConfig(t), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "janitor started")
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
