package transcript

import (
	"context"
	"errors"
	"testing"

	"cognigy-connector/internal/common/config"
	"cognigy-connector/internal/common/database"
	apperrors "cognigy-connector/internal/common/errors"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRecorder(t *testing.T, maxLen int64) (*Recorder, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	rec := NewRecorder(client, config.TranscriptConfig{
		Enable:       true,
		StreamPrefix: "cognigy:transcript:",
		MaxLen:       maxLen,
	}, logger.NewTestLogger(t))
	return rec, mr
}

func TestRecord_RoundTrip(t *testing.T) {
	rec, mr := setupRecorder(t, 100)
	ctx := context.Background()

	first := &models.BotMessage{
		Sender:      models.SenderBot,
		MessageText: "Hi!",
		NLP:         &models.NLP{Intent: models.Intent{Name: "greeting", Confidence: 0.8}},
		ContextData: map[string]interface{}{"userId": "123"},
	}
	second := models.NewErrorMessage(apperrors.NewTransportError("receive", errors.New("closed")))

	require.NoError(t, rec.Record(ctx, "s1", first))
	require.NoError(t, rec.Record(ctx, "s1", second))
	require.NoError(t, rec.Record(ctx, "other", first))

	assert.True(t, mr.Exists("cognigy:transcript:s1"))

	msgs, err := rec.Messages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi!", msgs[0].MessageText)
	assert.Equal(t, "greeting", msgs[0].IntentName())
	assert.Equal(t, map[string]interface{}{"userId": "123"}, msgs[0].ContextData)
	require.NotNil(t, msgs[1].Err)
	assert.Equal(t, apperrors.ErrCodeTransport, msgs[1].Err.Code)

	entries, err := mr.Stream("cognigy:transcript:s1")
	require.NoError(t, err)
	assert.Equal(t, "Hi!", fieldValue(entries[0].Values, "text"))
	assert.Equal(t, "greeting", fieldValue(entries[0].Values, "intent"))
	assert.Equal(t, "TRANSPORT_ERROR", fieldValue(entries[1].Values, "error"))
}

func TestClear(t *testing.T) {
	rec, mr := setupRecorder(t, 0)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, "s1", &models.BotMessage{Sender: models.SenderBot, MessageText: "x"}))
	require.NoError(t, rec.Clear(ctx, "s1"))
	assert.False(t, mr.Exists("cognigy:transcript:s1"))

	msgs, err := rec.Messages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRecord_RedisDown(t *testing.T) {
	rec, mr := setupRecorder(t, 10)
	mr.Close()

	err := rec.Record(context.Background(), "s1", &models.BotMessage{Sender: models.SenderBot})
	assert.Error(t, err)
}

// fieldValue reads a stream entry field, stored as alternating key/value pairs.
func fieldValue(values []string, key string) string {
	for i := 0; i+1 < len(values); i += 2 {
		if values[i] == key {
			return values[i+1]
		}
	}
	return ""
}
