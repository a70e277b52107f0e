package intent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cognigy-connector/internal/common/config"
	"cognigy-connector/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string, wait, interval int) config.AnalyticsConfig {
	return config.AnalyticsConfig{
		Enable:         true,
		ODataURL:       url,
		APIKey:         "secret",
		Collection:     "Records",
		Select:         "intent,intentScore,timestamp,sessionId",
		IntentField:    "intent",
		ScoreField:     "intentScore",
		TimestampField: "timestamp",
		SessionField:   "sessionId",
		Top:            100000,
		Wait:           wait,
		Interval:       interval,
	}
}

// sequenceServer answers request n with bodies[n], repeating the last body.
func sequenceServer(t *testing.T, hits *int32, bodies ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(hits, 1)) - 1
		if n >= len(bodies) {
			n = len(bodies) - 1
		}
		if bodies[n] == "500" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, bodies[n])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_StopsOnSecondQuery(t *testing.T) {
	var hits int32
	srv := sequenceServer(t, &hits,
		`{"value":[]}`,
		`{"value":[{"intent":"greeting","intentScore":0.92}]}`,
	)
	p := NewPoller(testConfig(srv.URL, 3000, 50), nil, logger.NewTestLogger(t))

	start := time.Now()
	got, err := p.Resolve(context.Background(), "session-1", start)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "greeting", got.Name)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolve_NothingFoundReturnsNil(t *testing.T) {
	var hits int32
	srv := sequenceServer(t, &hits, `{"value":[{"intent":"","intentScore":0}]}`)
	p := NewPoller(testConfig(srv.URL, 200, 50), nil, logger.NewTestLogger(t))

	got, err := p.Resolve(context.Background(), "session-1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(2))
}

func TestResolve_ErrorThenSuccess(t *testing.T) {
	var hits int32
	srv := sequenceServer(t, &hits,
		"500",
		`{"unexpected":true}`,
		`{"value":[{"intent":"bookFlight","intentScore":"0.5"}]}`,
	)
	p := NewPoller(testConfig(srv.URL, 2000, 20), nil, logger.NewTestLogger(t))

	got, err := p.Resolve(context.Background(), "session-1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bookFlight", got.Name)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestResolve_ZeroWaitNeverQueries(t *testing.T) {
	var hits int32
	srv := sequenceServer(t, &hits, `{"value":[{"intent":"x"}]}`)
	p := NewPoller(testConfig(srv.URL, 0, 10), nil, logger.NewNoOpLogger())

	got, err := p.Resolve(context.Background(), "s", time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestResolve_ContextCancelAbandons(t *testing.T) {
	var hits int32
	srv := sequenceServer(t, &hits, `{"value":[]}`)
	p := NewPoller(testConfig(srv.URL, 5000, 1000), nil, logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	got, err := p.Resolve(ctx, "s", time.Now())
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestQuery_RequestShape(t *testing.T) {
	var captured *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	p := NewPoller(testConfig(srv.URL+"/", 1000, 100), nil, logger.NewNoOpLogger())
	since := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	got, err := p.Query(context.Background(), "o'brien", since)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NotNil(t, captured)
	assert.Equal(t, "/Records/", captured.URL.Path)
	q := captured.URL.Query()
	assert.Equal(t, "intent,intentScore,timestamp,sessionId", q.Get("$select"))
	assert.Equal(t, "100000", q.Get("$top"))
	assert.Equal(t, "timestamp desc", q.Get("$orderby"))
	assert.Equal(t, "sessionId eq 'o''brien' and timestamp gt 2024-03-01T10:30:00.000Z", q.Get("$filter"))
	assert.Equal(t, "secret", q.Get("apikey"))
}
