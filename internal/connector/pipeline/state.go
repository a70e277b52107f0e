package pipeline

import (
	"sync"
	"time"

	"cognigy-connector/internal/models"
)

// State is the per-session position in the turn lifecycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingResponse
	StateExtracting
	StateDelivered
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSending:
		return "Sending"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateExtracting:
		return "Extracting"
	case StateDelivered:
		return "Delivered"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Turn is one user utterance and the window its replies fall into.
type Turn struct {
	Text string
	// Since scopes intent queries to records produced after the turn was sent.
	Since time.Time
	// Data is the context injected into the outgoing payload.
	Data map[string]interface{}

	mu       sync.Mutex
	resolved bool
	intent   *models.Intent
}

func newTurn(text string, since time.Time, data map[string]interface{}) *Turn {
	return &Turn{Text: text, Since: since, Data: data}
}

// intentOnce runs resolve for the first message of the turn and hands later
// messages the memoized result. Holding the lock across resolve keeps polls of
// one session from overlapping.
func (t *Turn) intentOnce(resolve func() (*models.Intent, bool)) *models.Intent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return t.intent
	}
	intent, final := resolve()
	if final {
		t.resolved = true
		t.intent = intent
	}
	return intent
}
