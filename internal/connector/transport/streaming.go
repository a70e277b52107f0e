package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	apperrors "cognigy-connector/internal/common/errors"
	"cognigy-connector/internal/common/logger"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Frame events exchanged with the endpoint.
const (
	EventProcessInput = "processInput"
	EventOutput       = "output"
	EventFinalPing    = "finalPing"
	EventError        = "error"
	EventException    = "exception"
)

// Frame is one JSON message on the socket.
type Frame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type processInput struct {
	URLToken  string                 `json:"URLToken"`
	UserID    string                 `json:"userId"`
	SessionID string                 `json:"sessionId"`
	Text      string                 `json:"text"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
}

type StreamingOptions struct {
	URL              string
	URLToken         string
	HandshakeTimeout time.Duration
	Header           http.Header
}

// StreamingClient keeps one socket per session. Every pushed output event is
// handled on its own goroutine so a slow pipeline run never stalls the socket.
type StreamingClient struct {
	opts StreamingOptions
	sink Sink
	log  logger.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	session string
	wg      sync.WaitGroup
}

func NewStreaming(opts StreamingOptions, sink Sink, log logger.Logger) *StreamingClient {
	return &StreamingClient{
		opts: opts,
		sink: sink,
		log:  logger.Component(log, "streaming-transport"),
	}
}

func (s *StreamingClient) Mode() Mode { return Streaming }

// Start dials the endpoint. Dial failures are returned since no session exists yet.
func (s *StreamingClient) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, s.opts.URL, s.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.log.Error("Connecting to endpoint failed", map[string]interface{}{"url": s.opts.URL, "error": err})
		return apperrors.NewTransportError("connect", err)
	}

	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.readLoop(s.ctx, conn)

	s.log.Info("Connected to endpoint", map[string]interface{}{"url": s.opts.URL})
	return nil
}

// Send writes a processInput frame. Write failures are delivered through the
// sink so the session stays usable.
func (s *StreamingClient) Send(ctx context.Context, req *OutgoingRequest) error {
	s.mu.Lock()
	conn := s.conn
	s.session = req.SessionID
	s.mu.Unlock()

	if conn == nil {
		s.sink.HandleError(apperrors.NewTransportError("send turn", errors.New("not connected")))
		return nil
	}

	data := req.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	frame := Frame{
		Event: EventProcessInput,
		Payload: processInput{
			URLToken:  s.opts.URLToken,
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Text:      req.Text,
			Data:      data,
			Source:    "device",
		},
	}

	s.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	err := conn.WriteJSON(frame)
	s.writeMu.Unlock()

	if err != nil {
		s.log.Error("Writing turn failed", map[string]interface{}{"error": err})
		s.sink.HandleError(apperrors.NewTransportError("send turn", err))
	}
	return nil
}

// Stop closes the socket and waits for the read loop and every in-flight
// event handler to return.
func (s *StreamingClient) Stop() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	if err := conn.Close(); err != nil {
		s.log.Debug("Closing socket failed", map[string]interface{}{"error": err})
	}

	s.wg.Wait()
	s.log.Info("Disconnected from endpoint", nil)
	return nil
}

func (s *StreamingClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error("Connection closed unexpectedly", map[string]interface{}{"error": err})
			}
			s.sink.HandleError(apperrors.NewTransportError("receive", err))
			return
		}
		s.dispatch(ctx, data)
	}
}

func (s *StreamingClient) dispatch(ctx context.Context, data []byte) {
	if !gjson.ValidBytes(data) {
		s.log.Warn("Ignoring malformed frame", map[string]interface{}{"bytes": len(data)})
		return
	}
	frame := gjson.ParseBytes(data)
	event := frame.Get("event").String()
	payload := frame.Get("payload")

	switch event {
	case EventOutput:
		s.mu.Lock()
		sessionID := s.session
		s.mu.Unlock()
		raw := []byte(payload.Raw)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sink.Handle(ctx, raw, sessionID)
		}()
	case EventError, EventException:
		reason := payload.Get("error").String()
		if reason == "" {
			reason = payload.String()
		}
		if reason == "" {
			reason = event
		}
		s.sink.HandleError(apperrors.NewTransportError(event, errors.New(reason)))
	case EventFinalPing:
		if ender, ok := s.sink.(TurnEnder); ok {
			ender.EndTurn()
		}
	default:
		s.log.Debug("Ignoring frame", map[string]interface{}{"event": event})
	}
}
