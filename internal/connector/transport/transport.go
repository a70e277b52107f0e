// Package transport carries user turns to the endpoint and provider messages
// back into the turn pipeline.
package transport

import (
	"context"
	"fmt"
	"strings"

	"cognigy-connector/internal/common/config"
	apperrors "cognigy-connector/internal/common/errors"
)

// Mode selects the adapter variant.
type Mode int

const (
	RequestResponse Mode = iota
	Streaming
)

// ParseMode maps the configured endpoint type onto a Mode.
func ParseMode(endpointType string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(endpointType)) {
	case "", config.EndpointTypeREST:
		return RequestResponse, nil
	case config.EndpointTypeWebSocket, config.EndpointTypeSocketIO:
		return Streaming, nil
	default:
		return 0, apperrors.NewConfigurationError(
			fmt.Sprintf("unsupported endpoint type %q", endpointType), nil)
	}
}

func (m Mode) String() string {
	if m == Streaming {
		return config.EndpointTypeWebSocket
	}
	return config.EndpointTypeREST
}

// SuppressesEmpty reports whether messages with nothing extracted are dropped.
func (m Mode) SuppressesEmpty() bool {
	return m == Streaming
}

// OutgoingRequest is the user turn as it goes on the wire. Request hooks may
// modify any field.
type OutgoingRequest struct {
	UserID    string                 `json:"userId"`
	SessionID string                 `json:"sessionId"`
	Text      string                 `json:"text"`
	Data      map[string]interface{} `json:"data"`
	// Headers are sent with REST calls only.
	Headers map[string]string `json:"-"`
}

// Sink receives provider messages. The turn pipeline implements it.
type Sink interface {
	Handle(ctx context.Context, raw []byte, sessionID string)
	HandleError(err error)
}

// Adapter is the contract both variants share.
type Adapter interface {
	Mode() Mode
	Start(ctx context.Context) error
	// Send transmits one turn. Request/response adapters return once every
	// reply was handled; streaming adapters return once the frame is written.
	Send(ctx context.Context, req *OutgoingRequest) error
	Stop() error
}

// TurnEnder is implemented by sinks that want to hear when the endpoint
// signals the end of a streamed turn.
type TurnEnder interface {
	EndTurn()
}
