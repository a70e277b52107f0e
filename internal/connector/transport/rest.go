package transport

import (
	"context"

	apperrors "cognigy-connector/internal/common/errors"
	apphttp "cognigy-connector/internal/common/http"
	"cognigy-connector/internal/common/logger"

	"github.com/tidwall/gjson"
)

// REST posts one request per turn and feeds every message of the synchronous
// response into the sink.
type REST struct {
	url    string
	client *apphttp.Client
	sink   Sink
	log    logger.Logger
}

func NewREST(url string, client *apphttp.Client, sink Sink, log logger.Logger) *REST {
	return &REST{
		url:    url,
		client: client,
		sink:   sink,
		log:    logger.Component(log, "rest-transport"),
	}
}

func (r *REST) Mode() Mode { return RequestResponse }

func (r *REST) Start(ctx context.Context) error { return nil }

func (r *REST) Stop() error { return nil }

func (r *REST) Send(ctx context.Context, req *OutgoingRequest) error {
	data := req.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	body := map[string]interface{}{
		"userId":    req.UserID,
		"sessionId": req.SessionID,
		"text":      req.Text,
		"data":      data,
	}
	r.log.Debug("Sending turn", map[string]interface{}{"request": body})

	resp, err := r.client.DoJSON(ctx, "POST", r.url, body, req.Headers)
	if err != nil {
		r.log.Error("Endpoint call failed", map[string]interface{}{"error": err})
		return apperrors.NewTransportError("send turn", err)
	}
	r.log.Debug("Received response", map[string]interface{}{"response": string(resp)})

	root := gjson.ParseBytes(resp)
	sessionID := root.Get("sessionId").String()
	if sessionID == "" {
		sessionID = req.SessionID
	}

	stack := root.Get("outputStack")
	if !stack.IsArray() {
		// Older endpoints answer with a single message object.
		r.sink.Handle(ctx, resp, sessionID)
		return nil
	}
	for _, out := range stack.Array() {
		r.sink.Handle(ctx, []byte(out.Raw), sessionID)
	}
	return nil
}
