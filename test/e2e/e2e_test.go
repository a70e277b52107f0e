// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"cognigy-connector/internal/common/config"
	apphttp "cognigy-connector/internal/common/http"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/connector"
	"cognigy-connector/internal/connector/transport"
	"cognigy-connector/internal/importer"
	"cognigy-connector/internal/models"
)

// These tests talk to a live endpoint configured through configs/, .env or
// COGNIGY_* variables. They are skipped when no endpoint is configured.

var liveConfig *config.Config

func TestMain(m *testing.M) {
	if os.Getenv("COGNIGY_URL") != "" || os.Getenv("CONNECTOR_URL") != "" {
		cfg, err := config.Load()
		if err == nil {
			liveConfig = cfg
		}
	}
	os.Exit(m.Run())
}

func requireLive(t *testing.T) *config.Config {
	t.Helper()
	if liveConfig == nil {
		t.Skip("no live endpoint configured (set COGNIGY_URL)")
	}
	cfg := *liveConfig
	return &cfg
}

func startSession(t *testing.T, cfg *config.Config, opts ...connector.Option) (*connector.Connector, <-chan *models.BotMessage) {
	t.Helper()
	msgs := make(chan *models.BotMessage, 32)
	opts = append(opts,
		connector.WithLogger(logger.NewTestLogger(t)),
		connector.WithDelivery(func(m *models.BotMessage) { msgs <- m }),
	)
	c, err := connector.New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, msgs
}

func firstReply(t *testing.T, msgs <-chan *models.BotMessage) *models.BotMessage {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(60 * time.Second):
		t.Fatal("no bot reply within 60s")
		return nil
	}
}

func TestLiveHello(t *testing.T) {
	cfg := requireLive(t)
	c, msgs := startSession(t, cfg)

	t.Logf("🚀 Sending Hello over %s", c.Mode())
	require.NoError(t, c.UserSays(context.Background(), models.UserMessage{MessageText: "Hello"}))

	reply := firstReply(t, msgs)
	require.Nil(t, reply.Err, "endpoint answered with an error")
	assert.True(t, reply.HasContent())
	assert.NotEmpty(t, reply.SourceData)
	t.Logf("✅ Bot replied: %q", reply.MessageText)

	if cfg.Analytics.Enable {
		require.NotNil(t, reply.NLP, "analytics enabled but no intent resolved")
		t.Logf("✅ Intent %q (%.2f)", reply.NLP.Intent.Name, reply.NLP.Intent.Confidence)
	}
}

func TestLiveRequestHook(t *testing.T) {
	cfg := requireLive(t)
	if cfg.Connector.Mode() != config.EndpointTypeREST {
		t.Skip("request hook only applies to REST endpoints")
	}

	hook := func(req *transport.OutgoingRequest) {
		req.SessionID = "dummySessionId"
	}
	c, msgs := startSession(t, cfg, connector.WithRequestHook(hook))
	require.NoError(t, c.UserSays(context.Background(), models.UserMessage{MessageText: "Hello"}))

	reply := firstReply(t, msgs)
	require.Nil(t, reply.Err)
	assert.Equal(t, "dummySessionId", gjson.GetBytes(reply.SourceData, "sessionId").String())
	t.Log("✅ Request hook applied")
}

func TestLiveImportIntents(t *testing.T) {
	cfg := requireLive(t)
	if cfg.API.APIKey == "" {
		t.Skip("api.api_key not configured")
	}
	baseURL, err := importer.BaseURL(cfg)
	if err != nil {
		t.Skipf("api url unavailable: %v", err)
	}

	client := importer.NewAPIClient(baseURL, cfg.API.APIKey, apphttp.NewClient(60*time.Second))
	res, err := importer.New(client, logger.NewTestLogger(t)).Run(context.Background(), importer.Options{
		EndpointURL: cfg.Connector.URL,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Utterances)
	assert.Empty(t, res.Convos)
	t.Logf("✅ Imported %d intent(s)", len(res.Utterances))
}
