// internal/common/errors/handler.go
package errors

// ErrorHandler normalizes failures and logs them with their classification.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err under operation and returns it as a StandardError.
func (h *ErrorHandler) Handle(operation string, err error) *StandardError {
	if err == nil {
		return nil
	}
	stdErr := AsStandardError(err)
	h.logError(operation, stdErr)
	return stdErr
}

func (h *ErrorHandler) logError(operation string, stdErr *StandardError) {
	if h.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"operation":     operation,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}
	h.logger.Error("Operation failed", fields)
}
