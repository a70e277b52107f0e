// Package intent resolves the NLP classification of a turn by polling the
// analytics OData endpoint, which records inputs asynchronously.
package intent

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cognigy-connector/internal/common/config"
	apperrors "cognigy-connector/internal/common/errors"
	apphttp "cognigy-connector/internal/common/http"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/common/metrics"
	"cognigy-connector/internal/common/validation"
	"cognigy-connector/internal/models"

	"github.com/tidwall/gjson"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

var responseSchema = validation.MustCompile("analytics response", `{
	"type": "object",
	"required": ["value"],
	"properties": {
		"value": {"type": "array", "items": {"type": "object"}}
	}
}`)

// Poller queries the analytics collection until an intent shows up or the
// configured wait elapses.
type Poller struct {
	cfg    config.AnalyticsConfig
	client *apphttp.Client
	log    logger.Logger
	now    func() time.Time
}

func NewPoller(cfg config.AnalyticsConfig, client *apphttp.Client, log logger.Logger) *Poller {
	if client == nil {
		client = apphttp.NewClient(10 * time.Second)
	}
	return &Poller{
		cfg:    cfg,
		client: client,
		log:    logger.Component(log, "intent-poller"),
		now:    time.Now,
	}
}

// Resolve polls for the intent recorded for sessionID after since. It returns
// nil without error when nothing was found before the deadline. Query failures
// are logged and do not end the loop; only ctx cancellation does.
func (p *Poller) Resolve(ctx context.Context, sessionID string, since time.Time) (*models.Intent, error) {
	start := p.now()
	deadline := start.Add(config.GetDuration(p.cfg.Wait))
	interval := config.GetDuration(p.cfg.Interval)
	log := p.log.With(map[string]interface{}{"sessionId": sessionID})

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; p.now().Before(deadline); attempt++ {
		if attempt > 1 {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			p.observe(start, "cancelled")
			return nil, ctx.Err()
		case <-timer.C:
		}

		found, err := p.Query(ctx, sessionID, since)
		if err != nil {
			if ctx.Err() != nil {
				p.observe(start, "cancelled")
				return nil, ctx.Err()
			}
			metrics.IntentPollAttempts.WithLabelValues("error").Inc()
			log.Warn("Intent query failed", map[string]interface{}{
				"attempt": attempt,
				"error":   apperrors.NewEnrichmentFailure("intent query", err),
			})
			continue
		}
		if found == nil {
			metrics.IntentPollAttempts.WithLabelValues("empty").Inc()
			log.Debug("No intent recorded yet", map[string]interface{}{"attempt": attempt})
			continue
		}

		metrics.IntentPollAttempts.WithLabelValues("found").Inc()
		p.observe(start, "found")
		log.Debug("Intent resolved", map[string]interface{}{
			"attempt":    attempt,
			"intent":     found.Name,
			"confidence": found.Confidence,
		})
		return found, nil
	}

	p.observe(start, "timeout")
	log.Debug("Intent not resolved before deadline", map[string]interface{}{
		"waitMs": p.cfg.Wait,
	})
	return nil, nil
}

// Query issues one analytics request. A nil intent means the record is absent
// or carries no intent name.
func (p *Poller) Query(ctx context.Context, sessionID string, since time.Time) (*models.Intent, error) {
	body, err := p.client.DoJSON(ctx, "GET", p.queryURL(sessionID, since), nil, nil)
	if err != nil {
		return nil, err
	}

	if err := responseSchema.Check(body); err != nil {
		return nil, err
	}

	first := gjson.GetBytes(body, "value.0")
	if !first.Exists() {
		return nil, nil
	}
	name := first.Get(escape(p.cfg.IntentField)).String()
	if name == "" {
		return nil, nil
	}
	return &models.Intent{
		Name:       name,
		Confidence: confidence(first.Get(escape(p.cfg.ScoreField))),
	}, nil
}

func (p *Poller) queryURL(sessionID string, since time.Time) string {
	q := url.Values{}
	q.Set("$select", p.cfg.Select)
	q.Set("$top", strconv.Itoa(p.cfg.Top))
	q.Set("$orderby", p.cfg.TimestampField+" desc")
	q.Set("$filter", fmt.Sprintf("%s eq '%s' and %s gt %s",
		p.cfg.SessionField,
		strings.ReplaceAll(sessionID, "'", "''"),
		p.cfg.TimestampField,
		since.UTC().Format(timestampLayout),
	))
	q.Set("apikey", p.cfg.APIKey)

	base := strings.TrimRight(p.cfg.ODataURL, "/")
	return base + "/" + p.cfg.Collection + "/?" + q.Encode()
}

func (p *Poller) observe(start time.Time, outcome string) {
	metrics.IntentResolutionDuration.WithLabelValues(outcome).Observe(p.now().Sub(start).Seconds())
}

// confidence accepts numeric or string scores; anything else is 0.
func confidence(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(r.Str, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

// escape keeps field names containing dots from being read as nested paths.
func escape(field string) string {
	return strings.ReplaceAll(field, ".", `\.`)
}
