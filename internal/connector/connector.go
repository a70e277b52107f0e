// Package connector exchanges chat turns with a Cognigy endpoint and delivers
// normalized bot messages to the caller.
package connector

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cognigy-connector/internal/common/config"
	apperrors "cognigy-connector/internal/common/errors"
	apphttp "cognigy-connector/internal/common/http"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/common/metrics"
	"cognigy-connector/internal/common/observability"
	"cognigy-connector/internal/connector/contextstore"
	"cognigy-connector/internal/connector/extract"
	"cognigy-connector/internal/connector/intent"
	"cognigy-connector/internal/connector/pipeline"
	"cognigy-connector/internal/connector/transcript"
	"cognigy-connector/internal/connector/transport"
	"cognigy-connector/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// RequestHook mutates the outgoing request after the session context was injected.
type RequestHook func(req *transport.OutgoingRequest)

type Option func(*Connector)

func WithRequestHook(hook RequestHook) Option {
	return func(c *Connector) { c.hook = hook }
}

// WithDelivery sets the receiver of normalized bot messages. In streaming mode
// it is called from several goroutines.
func WithDelivery(deliver func(*models.BotMessage)) Option {
	return func(c *Connector) { c.deliver = deliver }
}

func WithLogger(log logger.Logger) Option {
	return func(c *Connector) { c.log = log }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) { c.httpClient = client }
}

// WithTranscript records every delivered message.
func WithTranscript(rec *transcript.Recorder) Option {
	return func(c *Connector) { c.recorder = rec }
}

func WithObservability(obs *observability.Observability) Option {
	return func(c *Connector) { c.obs = obs }
}

type Connector struct {
	cfg  config.Config
	mode transport.Mode

	store    *contextstore.Store
	pipeline *pipeline.Pipeline
	adapter  transport.Adapter

	hook       RequestHook
	deliver    func(*models.BotMessage)
	recorder   *transcript.Recorder
	obs        *observability.Observability
	httpClient *http.Client
	log        logger.Logger

	mu        sync.Mutex
	running   bool
	userID    string
	sessionID string
}

// New validates cfg and wires the session components. Configuration problems
// are reported here, before any traffic is sent.
func New(cfg *config.Config, opts ...Option) (*Connector, error) {
	c := &Connector{cfg: *cfg}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.Component(c.log, "connector")
	if c.deliver == nil {
		c.deliver = func(msg *models.BotMessage) {
			c.log.Info("Bot message", map[string]interface{}{"text": msg.MessageText})
		}
	}

	config.ApplyDefaults(&c.cfg)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	mode, _ := transport.ParseMode(c.cfg.Connector.EndpointType)
	c.mode = mode

	store, err := contextstore.New(c.cfg.Connector.Context)
	if err != nil {
		return nil, err
	}
	c.store = store

	var client *apphttp.Client
	if c.httpClient != nil {
		client = apphttp.NewClientFrom(c.httpClient)
	} else {
		client = apphttp.NewClient(config.GetDuration(c.cfg.Connector.RequestTimeout))
	}

	var resolver pipeline.IntentResolver
	if c.cfg.Analytics.Enable {
		resolver = intent.NewPoller(c.cfg.Analytics, client, c.log)
	}

	c.pipeline = pipeline.New(pipeline.Config{
		Mode:          mode.String(),
		SuppressEmpty: mode.SuppressesEmpty(),
		Extraction: extract.Options{
			DefaultRoots:   c.cfg.Extraction.DefaultRoots,
			PluginTypePath: c.cfg.Extraction.PluginTypePath,
			DataPath:       c.cfg.Extraction.DataPath,
			TextPath:       c.cfg.Extraction.TextPath,
		},
		Store:    store,
		Resolver: resolver,
		Deliver:  c.onMessage,
		Logger:   c.log,
	})

	switch mode {
	case transport.Streaming:
		c.adapter = transport.NewStreaming(transport.StreamingOptions{
			URL:              c.cfg.Connector.SocketURL(),
			URLToken:         c.cfg.Connector.Token(),
			HandshakeTimeout: config.GetDuration(c.cfg.Connector.HandshakeTimeout),
		}, c.pipeline, c.log)
	default:
		c.adapter = transport.NewREST(c.cfg.Connector.URL, client, c.pipeline, c.log)
	}

	c.log.Info("Connector configured", map[string]interface{}{
		"mode":      mode.String(),
		"url":       c.cfg.Connector.URL,
		"analytics": c.cfg.Analytics.Enable,
	})
	return c, nil
}

// Validate checks the configuration without touching the network.
func (c *Connector) Validate() error {
	if err := config.Validate(&c.cfg); err != nil {
		return err
	}
	if _, err := transport.ParseMode(c.cfg.Connector.EndpointType); err != nil {
		return err
	}
	if _, err := contextstore.ParseSeed(c.cfg.Connector.Context); err != nil {
		return err
	}
	return nil
}

// Start seeds the session context and opens the transport.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.userID = c.cfg.Connector.UserID
	if c.userID == "" {
		c.userID = uuid.NewString()
	}
	c.sessionID = uuid.NewString()
	c.mu.Unlock()

	c.store.Reset()
	c.pipeline.Start()
	if err := c.adapter.Start(ctx); err != nil {
		c.pipeline.Stop()
		return err
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	metrics.SessionsActive.WithLabelValues(c.mode.String()).Inc()

	c.log.Info("Session started", map[string]interface{}{
		"userId":    c.userID,
		"sessionId": c.sessionID,
	})
	return nil
}

// UserSays sends one user turn. In request/response mode it returns after
// every reply was delivered; transport failures are returned. In streaming
// mode replies arrive asynchronously and failures are delivered as messages.
func (c *Connector) UserSays(ctx context.Context, msg models.UserMessage) (err error) {
	c.mu.Lock()
	running, userID, sessionID := c.running, c.userID, c.sessionID
	c.mu.Unlock()
	if !running {
		return apperrors.NewSessionStoppedError()
	}

	turn, err := c.pipeline.BeginTurn(msg)
	if err != nil {
		return err
	}
	req := &transport.OutgoingRequest{
		UserID:    userID,
		SessionID: sessionID,
		Text:      msg.MessageText,
		Data:      turn.Data,
	}
	if c.hook != nil {
		c.hook(req)
	}

	mode := c.mode.String()
	ctx, span := c.obs.StartSpan(ctx, "connector.turn",
		attribute.String("mode", mode),
		attribute.String("sessionId", req.SessionID),
	)
	defer func() { observability.EndSpan(span, err) }()

	c.pipeline.Sent()
	metrics.TurnsSent.WithLabelValues(mode).Inc()
	start := time.Now()

	if err = c.adapter.Send(ctx, req); err != nil {
		se := apperrors.NewErrorHandler(c.log).Handle("send turn", err)
		metrics.TurnsFailed.WithLabelValues(mode, string(se.Code)).Inc()
		c.obs.RecordTurn(ctx, mode, time.Since(start), "failed")
		c.pipeline.EndTurn()
		return err
	}

	if c.mode == transport.RequestResponse {
		c.pipeline.EndTurn()
	}
	c.obs.RecordTurn(ctx, mode, time.Since(start), "ok")
	return nil
}

// Stop abandons in-flight work, clears the session context and closes the transport.
func (c *Connector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	sessionID := c.sessionID
	c.mu.Unlock()

	c.pipeline.Stop()
	err := c.adapter.Stop()
	metrics.SessionsActive.WithLabelValues(c.mode.String()).Dec()

	c.log.Info("Session stopped", map[string]interface{}{"sessionId": sessionID})
	return err
}

func (c *Connector) Mode() transport.Mode { return c.mode }

func (c *Connector) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connector) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Context returns a copy of the current session context.
func (c *Connector) Context() map[string]interface{} {
	return c.store.Snapshot()
}

func (c *Connector) State() pipeline.State {
	return c.pipeline.State()
}

func (c *Connector) onMessage(msg *models.BotMessage) {
	c.deliver(msg)
	if c.recorder == nil {
		return
	}
	sessionID := c.SessionID()
	if err := c.recorder.Record(context.Background(), sessionID, msg); err != nil {
		c.log.Warn("Recording transcript failed", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err,
		})
	}
}
