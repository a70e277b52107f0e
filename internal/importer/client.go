package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"cognigy-connector/internal/common/config"
	apperrors "cognigy-connector/internal/common/errors"
	apphttp "cognigy-connector/internal/common/http"
	"cognigy-connector/internal/common/validation"
)

const pageSize = 100

var (
	pageSchema = validation.MustCompile("collection page", `{
		"type": "object",
		"required": ["items"],
		"properties": {"items": {"type": "array", "items": {"type": "object"}}}
	}`)
	exportSchema = validation.MustCompile("intent export", `{
		"type": ["array", "null"],
		"items": {
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"type": "string"},
				"exampleSentences": {"type": ["array", "null"], "items": {"type": "string"}}
			}
		}
	}`)
)

// Endpoint as listed by the management API.
type Endpoint struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	Channel  string `json:"channel"`
	URLToken string `json:"URLToken"`
	FlowID   string `json:"flowId"`
}

type Flow struct {
	ID               string `json:"_id"`
	ReferenceID      string `json:"referenceId"`
	Name             string `json:"name"`
	ProjectReference string `json:"projectReference"`
	LocaleReference  string `json:"localeReference"`
}

// ExportedIntent is one intent of a flow export.
type ExportedIntent struct {
	Name             string   `json:"name"`
	ExampleSentences []string `json:"exampleSentences"`
}

type page[T any] struct {
	Items []T `json:"items"`
}

// APIClient talks to the management REST API with an API key.
type APIClient struct {
	baseURL string
	apiKey  string
	http    *apphttp.Client
}

func NewAPIClient(baseURL, apiKey string, client *apphttp.Client) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http:    client,
	}
}

// BaseURL returns the configured API url or derives it from the hosted
// endpoint url.
func BaseURL(cfg *config.Config) (string, error) {
	if cfg.API.URL != "" {
		return cfg.API.URL, nil
	}
	endpoint := cfg.Connector.URL
	if strings.Contains(endpoint, "cognigy.ai") {
		if strings.Contains(endpoint, "-trial") {
			return "https://api-trial.cognigy.ai", nil
		}
		return "https://api-app.cognigy.ai", nil
	}
	return "", apperrors.NewMissingSettingError("api.url", "cannot be derived from connector.url")
}

func (c *APIClient) IndexEndpoints(ctx context.Context) ([]Endpoint, error) {
	return retrieveAll[Endpoint](ctx, c, "/new/v2.0/endpoints", nil)
}

func (c *APIClient) ReadEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	var out Endpoint
	if err := c.get(ctx, "/new/v2.0/endpoints/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IndexFlows lists flows, optionally restricted to one project.
func (c *APIClient) IndexFlows(ctx context.Context, projectID string) ([]Flow, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("projectId", projectID)
	}
	return retrieveAll[Flow](ctx, c, "/new/v2.0/flows", q)
}

func (c *APIClient) ReadFlow(ctx context.Context, id string) (*Flow, error) {
	var out Flow
	if err := c.get(ctx, "/new/v2.0/flows/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ExportIntents(ctx context.Context, flowID, localeID string) ([]ExportedIntent, error) {
	q := url.Values{}
	q.Set("localeId", localeID)
	q.Set("format", "json")
	var out []ExportedIntent
	if err := c.get(ctx, "/new/v2.0/flows/"+url.PathEscape(flowID)+"/intents/export", q, exportSchema, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// retrieveAll pages through a collection until an empty page comes back.
func retrieveAll[T any](ctx context.Context, c *APIClient, path string, q url.Values) ([]T, error) {
	var all []T
	for skip := 0; ; {
		params := url.Values{}
		for k, v := range q {
			params[k] = v
		}
		params.Set("skip", strconv.Itoa(skip))
		params.Set("limit", strconv.Itoa(pageSize))

		var p page[T]
		if err := c.get(ctx, path, params, pageSchema, &p); err != nil {
			return nil, err
		}
		if len(p.Items) == 0 {
			return all, nil
		}
		all = append(all, p.Items...)
		skip = len(all)
	}
}

func (c *APIClient) get(ctx context.Context, path string, q url.Values, schema *validation.Schema, out interface{}) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	body, err := c.http.DoJSON(ctx, "GET", target, nil, map[string]string{"X-API-Key": c.apiKey})
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if schema != nil {
		if err := schema.Check(body); err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
