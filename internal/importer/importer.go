// Package importer downloads the intents behind a REST endpoint and turns them
// into utterance lists and intent-assertion conversations.
package importer

import (
	"context"
	"fmt"
	"strings"

	apperrors "cognigy-connector/internal/common/errors"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/models"

	"golang.org/x/sync/errgroup"
)

// Utterances lists the distinct example sentences of one intent.
type Utterances struct {
	Name       string   `yaml:"name" json:"name"`
	Utterances []string `yaml:"utterances" json:"utterances"`
}

type Asserter struct {
	Name string   `yaml:"name" json:"name"`
	Args []string `yaml:"args" json:"args"`
}

type ConvoStep struct {
	Sender      string     `yaml:"sender" json:"sender"`
	MessageText string     `yaml:"messageText,omitempty" json:"messageText,omitempty"`
	Asserters   []Asserter `yaml:"asserters,omitempty" json:"asserters,omitempty"`
}

type ConvoHeader struct {
	Name string `yaml:"name" json:"name"`
}

// Convo sends the intent's utterance set and asserts the bot classified it.
type Convo struct {
	Header       ConvoHeader `yaml:"header" json:"header"`
	Conversation []ConvoStep `yaml:"conversation" json:"conversation"`
}

type Result struct {
	Utterances []Utterances `yaml:"utterances" json:"utterances"`
	Convos     []Convo      `yaml:"convos,omitempty" json:"convos,omitempty"`
}

type Options struct {
	// EndpointURL is the chat endpoint whose URL token identifies the endpoint.
	EndpointURL string
	BuildConvos bool
	// Concurrency bounds parallel flow exports.
	Concurrency int
	Status      func(msg string)
}

type Importer struct {
	client *APIClient
	log    logger.Logger
}

func New(client *APIClient, log logger.Logger) *Importer {
	return &Importer{client: client, log: logger.Component(log, "importer")}
}

// Run resolves the endpoint's flow and exports the intents of every flow in
// the same project.
func (im *Importer) Run(ctx context.Context, opts Options) (*Result, error) {
	status := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		im.log.Info(msg, nil)
		if opts.Status != nil {
			opts.Status(msg)
		}
	}

	flow, endpoint, err := im.resolveEndpointFlow(ctx, opts.EndpointURL)
	if err != nil {
		return nil, err
	}
	status("Identified main flow %q for REST endpoint %q", flow.Name, endpoint.Name)

	projectFlows, err := im.client.IndexFlows(ctx, flow.ProjectReference)
	if err != nil {
		return nil, apperrors.NewImportFailedError("listing project flows", err)
	}

	exported := make([][]ExportedIntent, len(projectFlows))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	} else {
		g.SetLimit(4)
	}
	for i, pf := range projectFlows {
		g.Go(func() error {
			details, err := im.client.ReadFlow(gctx, pf.ID)
			if err != nil {
				return apperrors.NewImportFailedError(fmt.Sprintf("reading flow %s", pf.ID), err)
			}
			intents, err := im.client.ExportIntents(gctx, details.ID, details.LocaleReference)
			if err != nil {
				return apperrors.NewImportFailedError(fmt.Sprintf("exporting intents of flow %q", details.Name), err)
			}
			names := make([]string, len(intents))
			for j, in := range intents {
				names[j] = in.Name
			}
			status("Downloaded %d intent(s) for flow %q: %s", len(intents), details.Name, strings.Join(names, ","))
			exported[i] = intents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, intents := range exported {
		for _, in := range intents {
			result.Utterances = append(result.Utterances, Utterances{
				Name:       in.Name,
				Utterances: expandAll(in.ExampleSentences),
			})
		}
	}
	if opts.BuildConvos {
		result.Convos = BuildConvos(result.Utterances)
	}
	return result, nil
}

func (im *Importer) resolveEndpointFlow(ctx context.Context, endpointURL string) (*Flow, *Endpoint, error) {
	endpoints, err := im.client.IndexEndpoints(ctx)
	if err != nil {
		return nil, nil, apperrors.NewImportFailedError("listing endpoints", err)
	}

	var match *Endpoint
	for i := range endpoints {
		e := endpoints[i]
		if e.Channel == "rest" && e.URLToken != "" && strings.Contains(endpointURL, e.URLToken) {
			match = &e
			break
		}
	}
	if match == nil {
		return nil, nil, apperrors.NewImportFailedError(fmt.Sprintf("endpoint for URL %s not found", endpointURL), nil)
	}

	endpoint, err := im.client.ReadEndpoint(ctx, match.ID)
	if err != nil {
		return nil, nil, apperrors.NewImportFailedError("reading endpoint", err)
	}

	flows, err := im.client.IndexFlows(ctx, "")
	if err != nil {
		return nil, nil, apperrors.NewImportFailedError("listing flows", err)
	}
	var flowID string
	for _, f := range flows {
		if f.ReferenceID == endpoint.FlowID {
			flowID = f.ID
			break
		}
	}
	if flowID == "" {
		return nil, nil, apperrors.NewImportFailedError(fmt.Sprintf("flow of endpoint %q not found", endpoint.Name), nil)
	}

	flow, err := im.client.ReadFlow(ctx, flowID)
	if err != nil {
		return nil, nil, apperrors.NewImportFailedError("reading endpoint flow", err)
	}
	return flow, endpoint, nil
}

func expandAll(sentences []string) []string {
	var out []string
	for _, s := range sentences {
		if s == "" {
			continue
		}
		out = append(out, ExpandAlternatives(s)...)
	}
	return unique(out)
}

// BuildConvos creates one INTENT assertion conversation per intent.
func BuildConvos(utterances []Utterances) []Convo {
	convos := make([]Convo, 0, len(utterances))
	for _, u := range utterances {
		convos = append(convos, Convo{
			Header: ConvoHeader{Name: u.Name},
			Conversation: []ConvoStep{
				{Sender: models.SenderMe, MessageText: u.Name},
				{Sender: models.SenderBot, Asserters: []Asserter{{Name: "INTENT", Args: []string{u.Name}}}},
			},
		})
	}
	return convos
}
