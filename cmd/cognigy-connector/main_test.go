package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cognigy-connector/internal/common/config"
	"cognigy-connector/internal/common/database"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/connector"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTurns(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.Write([]byte(`{"outputStack":[{"text":"echo: ` + body["text"].(string) + `"}]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	cfg := &config.Config{Connector: config.ConnectorConfig{URL: srv.URL, UserID: "cli"}}
	c, err := connector.New(cfg, connector.WithDelivery(printer(&out, logger.NewNoOpLogger())))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	input := strings.Join([]string{
		"Hello",
		"",
		`/context {"language":"de"}`,
		"Second",
	}, "\n")
	require.NoError(t, readTurns(ctx, strings.NewReader(input), c))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "echo: Hello", first["messageText"])
	assert.Equal(t, "bot", first["sender"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Equal(t, map[string]interface{}{}, bodies[0]["data"])
	assert.Equal(t, map[string]interface{}{"language": "de"}, bodies[1]["data"])
}

func TestReadTurns_BadContextLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, err := connector.New(&config.Config{Connector: config.ConnectorConfig{URL: srv.URL}})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	err = readTurns(context.Background(), strings.NewReader("/context {oops"), c)
	assert.Error(t, err)
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	err := retryWithBackoff(func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 5, time.Millisecond, logger.NewNoOpLogger(), "op")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = retryWithBackoff(func() error { return errors.New("down") }, 2, time.Millisecond, logger.NewNoOpLogger(), "op")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op failed after 2 attempts")
}

func TestConnectRedis_ClosesFailedClients(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	var created []*database.RedisClient
	newRedis = func(cfg config.RedisConfig) (*database.RedisClient, error) {
		c, err := database.NewRedis(cfg)
		if err == nil {
			created = append(created, c)
		}
		return c, err
	}
	defer func() { newRedis = database.NewRedis }()

	_, err := connectRedis(context.Background(), config.RedisConfig{Address: addr}, logger.NewNoOpLogger(), 3, time.Millisecond)
	require.Error(t, err)
	require.Len(t, created, 3)
	for _, c := range created {
		assert.ErrorIs(t, c.Client.Ping(context.Background()).Err(), redis.ErrClosed)
	}
}

func TestConnectRedis_Succeeds(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := connectRedis(context.Background(), config.RedisConfig{Address: mr.Addr()}, logger.NewNoOpLogger(), 2, time.Millisecond)
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
}
