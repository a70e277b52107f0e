// Package transcript keeps a per-session record of delivered bot messages in
// a redis stream.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"

	"cognigy-connector/internal/common/config"
	"cognigy-connector/internal/common/database"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/models"
)

type Recorder struct {
	redis  *database.RedisClient
	prefix string
	maxLen int64
	log    logger.Logger
}

func NewRecorder(client *database.RedisClient, cfg config.TranscriptConfig, log logger.Logger) *Recorder {
	return &Recorder{
		redis:  client,
		prefix: cfg.StreamPrefix,
		maxLen: cfg.MaxLen,
		log:    logger.Component(log, "transcript"),
	}
}

// Stream is the redis key holding one session's transcript.
func (r *Recorder) Stream(sessionID string) string {
	return r.prefix + sessionID
}

// Record appends msg to the session stream.
func (r *Recorder) Record(ctx context.Context, sessionID string, msg *models.BotMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	values := map[string]interface{}{
		"sender":  msg.Sender,
		"text":    msg.MessageText,
		"intent":  msg.IntentName(),
		"message": string(payload),
	}
	if msg.Err != nil {
		values["error"] = string(msg.Err.Code)
	}

	id, err := r.redis.Append(ctx, r.Stream(sessionID), r.maxLen, values)
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	r.log.Debug("Recorded message", map[string]interface{}{"sessionId": sessionID, "entry": id})
	return nil
}

// Messages returns the session's recorded messages in delivery order.
func (r *Recorder) Messages(ctx context.Context, sessionID string) ([]models.BotMessage, error) {
	entries, err := r.redis.Range(ctx, r.Stream(sessionID))
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	out := make([]models.BotMessage, 0, len(entries))
	for _, e := range entries {
		raw, _ := e.Values["message"].(string)
		var msg models.BotMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			r.log.Warn("Skipping unreadable transcript entry", map[string]interface{}{"entry": e.ID, "error": err})
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Clear deletes the session transcript.
func (r *Recorder) Clear(ctx context.Context, sessionID string) error {
	return r.redis.Del(ctx, r.Stream(sessionID))
}
