package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	msgs   []string
	fields []map[string]interface{}
}

func (c *captureLogger) Error(msg string, fields map[string]interface{}) {
	c.msgs = append(c.msgs, msg)
	c.fields = append(c.fields, fields)
}

func TestErrorHandler_Handle(t *testing.T) {
	log := &captureLogger{}
	h := NewErrorHandler(log)

	se := h.Handle("send turn", NewTransportError("chat request", stderrors.New("refused")).WithMetadata("status", 502))
	require.NotNil(t, se)
	assert.Equal(t, ErrCodeTransport, se.Code)

	require.Len(t, log.fields, 1)
	f := log.fields[0]
	assert.Equal(t, "send turn", f["operation"])
	assert.Equal(t, "TRANSPORT_ERROR", f["errorCode"])
	assert.Equal(t, "NETWORK", f["errorCategory"])
	assert.Equal(t, true, f["retryable"])
	assert.Equal(t, 502, f["status"])
}

func TestErrorHandler_NormalizesForeignErrors(t *testing.T) {
	log := &captureLogger{}
	se := NewErrorHandler(log).Handle("receive reply", stderrors.New("boom"))
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), se.Code)
	assert.Equal(t, "boom", se.Details)
	assert.Equal(t, "UNKNOWN", log.fields[0]["errorCategory"])
}

func TestErrorHandler_NilError(t *testing.T) {
	log := &captureLogger{}
	assert.Nil(t, NewErrorHandler(log).Handle("noop", nil))
	assert.Empty(t, log.msgs)
}
