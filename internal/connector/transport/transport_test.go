package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "cognigy-connector/internal/common/errors"
	apphttp "cognigy-connector/internal/common/http"
	"cognigy-connector/internal/common/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type handled struct {
	raw       string
	sessionID string
}

type recordingSink struct {
	mu       sync.Mutex
	messages []handled
	errs     []error
	ends     int
}

func (r *recordingSink) Handle(ctx context.Context, raw []byte, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, handled{raw: string(raw), sessionID: sessionID})
}

func (r *recordingSink) HandleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingSink) EndTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
}

func (r *recordingSink) snapshot() ([]handled, []error, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]handled(nil), r.messages...), append([]error(nil), r.errs...), r.ends
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("rest")
	require.NoError(t, err)
	assert.Equal(t, RequestResponse, m)
	assert.False(t, m.SuppressesEmpty())

	m, err = ParseMode(" SocketIO ")
	require.NoError(t, err)
	assert.Equal(t, Streaming, m)
	assert.True(t, m.SuppressesEmpty())
	assert.Equal(t, "WEBSOCKET", m.String())

	m, err = ParseMode("websocket")
	require.NoError(t, err)
	assert.Equal(t, Streaming, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, RequestResponse, m)

	_, err = ParseMode("GRPC")
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestREST_SendsPayloadAndFansOutOutputStack(t *testing.T) {
	var body map[string]interface{}
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		header = r.Header.Get("X-Test")
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		fmt.Fprint(w, `{"sessionId":"analytics-1","outputStack":[{"text":"one"},{"text":"two"}]}`)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	rest := NewREST(srv.URL, apphttp.NewClient(time.Second), sink, logger.NewTestLogger(t))
	require.NoError(t, rest.Start(context.Background()))

	err := rest.Send(context.Background(), &OutgoingRequest{
		UserID:    "u1",
		SessionID: "s1",
		Text:      "Hello",
		Data:      map[string]interface{}{"userId": "123"},
		Headers:   map[string]string{"X-Test": "yes"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"userId":    "u1",
		"sessionId": "s1",
		"text":      "Hello",
		"data":      map[string]interface{}{"userId": "123"},
	}, body)
	assert.Equal(t, "yes", header)

	msgs, errs, _ := sink.snapshot()
	assert.Empty(t, errs)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"text":"one"}`, msgs[0].raw)
	assert.JSONEq(t, `{"text":"two"}`, msgs[1].raw)
	assert.Equal(t, "analytics-1", msgs[0].sessionID)
	require.NoError(t, rest.Stop())
}

func TestREST_SingleMessageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"Hi!","data":{"preference":"dark"}}`)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	rest := NewREST(srv.URL, apphttp.NewClient(time.Second), sink, logger.NewNoOpLogger())
	require.NoError(t, rest.Send(context.Background(), &OutgoingRequest{SessionID: "s1", Text: "Hello"}))

	msgs, _, _ := sink.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "s1", msgs[0].sessionID)
	assert.JSONEq(t, `{"text":"Hi!","data":{"preference":"dark"}}`, msgs[0].raw)
}

func TestREST_FailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	rest := NewREST(srv.URL, apphttp.NewClient(time.Second), sink, logger.NewNoOpLogger())
	err := rest.Send(context.Background(), &OutgoingRequest{Text: "Hello"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransport))
	var status *apphttp.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusBadGateway, status.StatusCode)

	msgs, errs, _ := sink.snapshot()
	assert.Empty(t, msgs)
	assert.Empty(t, errs)
}

// endpoint answers every processInput with the given output payloads and a finalPing.
func endpoint(t *testing.T, received chan<- map[string]interface{}, outputs ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if received != nil {
				received <- frame
			}
			for _, out := range outputs {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(out)); err != nil {
					return
				}
			}
			_ = conn.WriteJSON(map[string]interface{}{"event": EventFinalPing, "payload": map[string]interface{}{}})
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreaming_FanOut(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := endpoint(t, received,
		`{"event":"output","payload":{"text":"first"}}`,
		`{"event":"output","payload":{"text":"second"}}`,
		`{"event":"unknown","payload":{}}`,
	)
	defer srv.Close()

	sink := &recordingSink{}
	s := NewStreaming(StreamingOptions{URL: wsURL(srv), URLToken: "token-1", HandshakeTimeout: time.Second}, sink, logger.NewTestLogger(t))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Streaming, s.Mode())

	require.NoError(t, s.Send(context.Background(), &OutgoingRequest{
		UserID:    "u1",
		SessionID: "s1",
		Text:      "Hello",
		Data:      map[string]interface{}{"userId": "123"},
	}))

	frame := <-received
	assert.Equal(t, EventProcessInput, frame["event"])
	assert.Equal(t, map[string]interface{}{
		"URLToken":  "token-1",
		"userId":    "u1",
		"sessionId": "s1",
		"text":      "Hello",
		"data":      map[string]interface{}{"userId": "123"},
		"source":    "device",
	}, frame["payload"])

	require.Eventually(t, func() bool {
		msgs, _, ends := sink.snapshot()
		return len(msgs) == 2 && ends == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, errs, _ := sink.snapshot()
	assert.Empty(t, errs)
	texts := []string{msgs[0].raw, msgs[1].raw}
	assert.ElementsMatch(t, []string{`{"text":"first"}`, `{"text":"second"}`}, texts)
	assert.Equal(t, "s1", msgs[0].sessionID)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestStreaming_ErrorEventsDelivered(t *testing.T) {
	srv := endpoint(t, nil,
		`{"event":"error","payload":{"error":"flow not found"}}`,
		`{"event":"exception","payload":"boom"}`,
	)
	defer srv.Close()

	sink := &recordingSink{}
	s := NewStreaming(StreamingOptions{URL: wsURL(srv)}, sink, logger.NewNoOpLogger())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Send(context.Background(), &OutgoingRequest{Text: "Hello"}))

	require.Eventually(t, func() bool {
		_, errs, _ := sink.snapshot()
		return len(errs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, errs, _ := sink.snapshot()
	assert.True(t, errors.Is(errs[0], apperrors.ErrTransport))
	assert.Contains(t, errs[0].Error(), "flow not found")
	assert.Contains(t, errs[1].Error(), "boom")
	require.NoError(t, s.Stop())
}

func TestStreaming_ServerDropIsDeliveredAsError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	sink := &recordingSink{}
	s := NewStreaming(StreamingOptions{URL: wsURL(srv)}, sink, logger.NewNoOpLogger())
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, errs, _ := sink.snapshot()
		return len(errs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, errs, _ := sink.snapshot()
	assert.True(t, errors.Is(errs[0], apperrors.ErrTransport))
	require.NoError(t, s.Stop())
}

func TestStreaming_DialFailure(t *testing.T) {
	sink := &recordingSink{}
	s := NewStreaming(StreamingOptions{URL: "ws://127.0.0.1:1", HandshakeTimeout: 200 * time.Millisecond}, sink, logger.NewNoOpLogger())

	err := s.Start(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrTransport))

	require.NoError(t, s.Send(context.Background(), &OutgoingRequest{Text: "Hello"}))
	_, errs, _ := sink.snapshot()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not connected")
	require.NoError(t, s.Stop())
}
