// Package pipeline turns inbound provider messages into delivered bot messages
// and tracks the per-session turn state.
package pipeline

import (
	"context"
	"sync"
	"time"

	apperrors "cognigy-connector/internal/common/errors"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/common/metrics"
	"cognigy-connector/internal/connector/contextstore"
	"cognigy-connector/internal/connector/extract"
	"cognigy-connector/internal/models"
)

// IntentResolver recovers the classification of the current turn.
type IntentResolver interface {
	Resolve(ctx context.Context, sessionID string, since time.Time) (*models.Intent, error)
}

// Deliver receives every message the pipeline lets through.
type Deliver func(msg *models.BotMessage)

type Config struct {
	// Mode labels metrics and logs.
	Mode string
	// SuppressEmpty drops messages with nothing extracted. Errors are never dropped.
	SuppressEmpty bool
	Extraction    extract.Options
	Store         *contextstore.Store
	// Resolver is nil when analytics enrichment is disabled.
	Resolver IntentResolver
	Deliver  Deliver
	Logger   logger.Logger
}

type Pipeline struct {
	mode          string
	suppressEmpty bool
	opts          extract.Options
	content       []extract.Extractor
	store         *contextstore.Store
	resolver      IntentResolver
	deliver       Deliver
	log           logger.Logger
	errs          *apperrors.ErrorHandler
	now           func() time.Time

	mu      sync.Mutex
	state   State
	turn    *Turn
	session context.Context
	cancel  context.CancelFunc
}

func New(cfg Config) *Pipeline {
	deliver := cfg.Deliver
	if deliver == nil {
		deliver = func(*models.BotMessage) {}
	}
	session, cancel := context.WithCancel(context.Background())
	cancel()
	log := logger.Component(cfg.Logger, "pipeline").With(map[string]interface{}{"mode": cfg.Mode})
	return &Pipeline{
		mode:          cfg.Mode,
		suppressEmpty: cfg.SuppressEmpty,
		opts:          cfg.Extraction,
		content:       extract.Content(cfg.Extraction),
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		deliver:       deliver,
		log:           log,
		errs:          apperrors.NewErrorHandler(log),
		now:           time.Now,
		state:         StateStopped,
		session:       session,
		cancel:        cancel,
	}
}

// Start opens a session. Replies arriving before the first turn are scoped to
// the session start.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel()
	p.session, p.cancel = context.WithCancel(context.Background())
	p.turn = newTurn("", p.now(), nil)
	p.state = StateIdle
}

// Stop abandons in-flight work and clears the session context. Results of
// polls still running are discarded.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.cancel()
	p.state = StateStopped
	p.turn = nil
	p.mu.Unlock()

	p.store.Clear()
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// BeginTurn merges the per-turn override into the store and returns the turn
// carrying the context to inject into the outgoing payload.
func (p *Pipeline) BeginTurn(msg models.UserMessage) (*Turn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStopped {
		return nil, apperrors.NewSessionStoppedError()
	}

	if override := contextstore.Strip(msg.SetContext); override != nil {
		p.store.Merge(override)
	}
	p.turn = newTurn(msg.MessageText, p.now(), p.store.Snapshot())
	p.state = StateSending
	return p.turn, nil
}

// Sent marks the outgoing call as issued.
func (p *Pipeline) Sent() {
	p.transition(StateAwaitingResponse)
}

// EndTurn returns the session to Idle once every reply was handled.
func (p *Pipeline) EndTurn() {
	p.transition(StateIdle)
}

func (p *Pipeline) transition(to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStopped {
		p.state = to
	}
}

// Handle runs one inbound provider message through context extraction, intent
// resolution and content extraction, then delivers it.
func (p *Pipeline) Handle(ctx context.Context, raw []byte, sessionID string) {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		p.log.Debug("Discarding message received after stop", nil)
		return
	}
	p.state = StateExtracting
	turn := p.turn
	session := p.session
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(session, cancel)()

	tree := extract.Parse(raw)
	if tree.Raw() == nil && len(raw) > 0 {
		p.log.Warn("Provider message is not valid JSON", map[string]interface{}{"bytes": len(raw)})
	}
	msg := models.NewBotMessage(raw)

	extract.ContextFields(p.opts, tree, p.store, msg)

	if p.resolver != nil && sessionID != "" {
		if intent := p.resolveIntent(ctx, turn, sessionID); intent != nil {
			msg.NLP = &models.NLP{Intent: *intent}
		}
	}
	if session.Err() != nil {
		p.log.Debug("Session stopped while resolving intent, discarding message", nil)
		return
	}

	extract.ApplyContent(p.content, tree, msg)
	p.emit(msg)
}

// HandleError delivers a failure as an error-typed message.
func (p *Pipeline) HandleError(err error) {
	if p.State() == StateStopped {
		p.log.Debug("Discarding error received after stop", map[string]interface{}{"error": err})
		return
	}
	p.emit(models.NewErrorMessage(p.errs.Handle("receive reply", err)))
}

func (p *Pipeline) resolveIntent(ctx context.Context, turn *Turn, sessionID string) *models.Intent {
	resolve := func() (*models.Intent, bool) {
		since := p.now()
		if turn != nil {
			since = turn.Since
		}
		intent, err := p.resolver.Resolve(ctx, sessionID, since)
		if err != nil {
			p.log.Debug("Intent resolution abandoned", map[string]interface{}{"error": err})
			return nil, false
		}
		return intent, true
	}
	if turn == nil {
		intent, _ := resolve()
		return intent
	}
	return turn.intentOnce(resolve)
}

func (p *Pipeline) emit(msg *models.BotMessage) {
	if msg.Err == nil && p.suppressEmpty && !msg.HasContent() {
		metrics.MessagesSuppressed.WithLabelValues(p.mode).Inc()
		p.log.Debug("Suppressing empty message", nil)
		return
	}

	kind := "message"
	if msg.Err != nil {
		kind = "error"
	}
	metrics.MessagesDelivered.WithLabelValues(p.mode, kind).Inc()

	p.transition(StateDelivered)
	p.deliver(msg)
}
