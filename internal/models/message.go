// internal/models/message.go
package models

import (
	"encoding/json"

	apperrors "cognigy-connector/internal/common/errors"
)

const (
	SenderBot = "bot"
	SenderMe  = "me"
)

// UserMessage is one outgoing user utterance.
type UserMessage struct {
	MessageText string `json:"messageText"`
	// SetContext is merged into the session context before the turn is sent.
	SetContext map[string]interface{} `json:"setContext,omitempty"`
}

// BotMessage is the normalized form of one provider message. Optional fields
// stay nil when the provider did not supply the corresponding content.
type BotMessage struct {
	Sender      string                   `json:"sender"`
	MessageText string                   `json:"messageText,omitempty"`
	Buttons     []Button                 `json:"buttons,omitempty"`
	Media       []Media                  `json:"media,omitempty"`
	Cards       []Card                   `json:"cards,omitempty"`
	NLP         *NLP                     `json:"nlp,omitempty"`
	ContextData map[string]interface{}   `json:"contextData,omitempty"`
	SourceData  json.RawMessage          `json:"sourceData,omitempty"`
	Err         *apperrors.StandardError `json:"err,omitempty"`
}

type Button struct {
	Text     string `json:"text,omitempty"`
	Payload  string `json:"payload"`
	ImageURI string `json:"imageUri,omitempty"`
}

type Media struct {
	MediaURI string `json:"mediaUri"`
	AltText  string `json:"altText"`
}

type Card struct {
	Text    string   `json:"text,omitempty"`
	Subtext string   `json:"subtext,omitempty"`
	Image   *Media   `json:"image,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

type NLP struct {
	Intent Intent `json:"intent"`
}

// Intent is found only when Name is non-empty.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// NewBotMessage starts a message for the given raw provider payload.
func NewBotMessage(source []byte) *BotMessage {
	msg := &BotMessage{Sender: SenderBot}
	if len(source) > 0 {
		msg.SourceData = json.RawMessage(append([]byte(nil), source...))
	}
	return msg
}

// NewErrorMessage wraps a failure for delivery to the caller.
func NewErrorMessage(err error) *BotMessage {
	return &BotMessage{
		Sender: SenderBot,
		Err:    apperrors.AsStandardError(err),
	}
}

// HasContent reports whether anything beyond sender and source metadata was populated.
func (m *BotMessage) HasContent() bool {
	return m.MessageText != "" ||
		len(m.Buttons) > 0 ||
		len(m.Media) > 0 ||
		len(m.Cards) > 0 ||
		m.NLP != nil ||
		m.ContextData != nil ||
		m.Err != nil
}

// IntentName returns the resolved intent name or "".
func (m *BotMessage) IntentName() string {
	if m.NLP == nil {
		return ""
	}
	return m.NLP.Intent.Name
}
