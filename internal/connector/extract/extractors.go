// Package extract maps provider response trees onto the normalized bot message.
package extract

import (
	"strings"

	"cognigy-connector/internal/connector/contextstore"
	"cognigy-connector/internal/models"

	"github.com/tidwall/gjson"
)

// Options carries the provider-version dependent paths.
type Options struct {
	// DefaultRoots are tried in order for every structured-content lookup.
	DefaultRoots   []string
	PluginTypePath string
	DataPath       string
	TextPath       string
}

// DefaultOptions matches the current response layout of the endpoint.
func DefaultOptions() Options {
	return Options{
		DefaultRoots:   []string{"data._data._cognigy._default", "data._cognigy._default"},
		PluginTypePath: "data._plugin.type",
		DataPath:       "data",
		TextPath:       "text",
	}
}

// Extractor fills part of a message from a provider tree. Extractors must not
// touch fields owned by other extractors.
type Extractor interface {
	Name() string
	Extract(tree Tree, msg *models.BotMessage)
}

// ContextMerger is the part of the context store the context extractor needs.
type ContextMerger interface {
	Merge(incoming map[string]interface{}) bool
	Snapshot() map[string]interface{}
}

// Content returns the structured-content extractors in the order they run.
func Content(opts Options) []Extractor {
	return []Extractor{
		textExtractor{opts: opts},
		quickReplyExtractor{opts: opts},
		buttonExtractor{opts: opts},
		mediaExtractor{opts: opts},
		galleryExtractor{opts: opts},
	}
}

// ApplyContent runs every content extractor over the tree.
func ApplyContent(extractors []Extractor, tree Tree, msg *models.BotMessage) {
	for _, e := range extractors {
		e.Extract(tree, msg)
	}
}

// ContextFields merges the response's free-form data payload into store and
// attaches the merged snapshot. Reserved keys are ignored; if nothing else
// remains the message carries no context and the store is untouched.
func ContextFields(opts Options, tree Tree, store ContextMerger, msg *models.BotMessage) bool {
	data, ok := tree.Object(opts.DataPath)
	if !ok {
		return false
	}
	user := contextstore.Strip(data)
	if len(user) == 0 {
		return false
	}
	store.Merge(user)
	msg.ContextData = store.Snapshot()
	return true
}

type textExtractor struct{ opts Options }

func (textExtractor) Name() string { return "text" }

func (e textExtractor) Extract(tree Tree, msg *models.BotMessage) {
	if msg.MessageText != "" {
		return
	}

	// A present quick-reply prompt rules out the plugin placeholder even when empty.
	var fragments []string
	r, hasPrompt := tree.FirstUnder(e.opts.DefaultRoots, "_quickReplies.text")
	if hasPrompt {
		fragments = Strings(r)
	} else if pluginType, ok := tree.String(e.opts.PluginTypePath); ok {
		fragments = []string{"[" + pluginType + "]"}
	}
	if len(fragments) == 0 {
		if r, ok := tree.Get(e.opts.TextPath); ok {
			fragments = Strings(r)
		}
	}

	if text := joinUnique(fragments); text != "" {
		msg.MessageText = text
	}
}

type quickReplyExtractor struct{ opts Options }

func (quickReplyExtractor) Name() string { return "quickReplies" }

func (e quickReplyExtractor) Extract(tree Tree, msg *models.BotMessage) {
	r, ok := tree.FirstUnder(e.opts.DefaultRoots, "_quickReplies.quickReplies")
	if !ok || !r.IsArray() {
		return
	}
	for _, qr := range r.Array() {
		payload, ok := Field(qr, "payload")
		if !ok {
			continue
		}
		title, _ := Field(qr, "title")
		image, _ := Field(qr, "image_url")
		msg.Buttons = append(msg.Buttons, models.Button{
			Text:     title,
			Payload:  payload,
			ImageURI: image,
		})
	}
}

type buttonExtractor struct{ opts Options }

func (buttonExtractor) Name() string { return "buttons" }

func (e buttonExtractor) Extract(tree Tree, msg *models.BotMessage) {
	r, ok := tree.FirstUnder(e.opts.DefaultRoots, "_buttons.buttons")
	if !ok || !r.IsArray() {
		return
	}
	for _, b := range r.Array() {
		payload, ok := FirstField(b, "payload", "url", "intentName")
		if !ok {
			continue
		}
		title, _ := Field(b, "title")
		msg.Buttons = append(msg.Buttons, models.Button{
			Text:    title,
			Payload: payload,
		})
	}
}

// Attachment blocks in precedence order; the first one carrying a URL wins.
var mediaBlocks = []string{"_image", "_audio", "_video"}

type mediaExtractor struct{ opts Options }

func (mediaExtractor) Name() string { return "media" }

func (e mediaExtractor) Extract(tree Tree, msg *models.BotMessage) {
	for _, block := range mediaBlocks {
		node, ok := tree.FirstUnder(e.opts.DefaultRoots, block)
		if !ok {
			continue
		}
		uri, ok := FirstField(node, "imageUrl", "audioUrl", "videoUrl")
		if !ok {
			continue
		}
		msg.Media = []models.Media{{MediaURI: uri, AltText: ""}}
		return
	}
}

type galleryExtractor struct{ opts Options }

func (galleryExtractor) Name() string { return "gallery" }

func (e galleryExtractor) Extract(tree Tree, msg *models.BotMessage) {
	items, ok := tree.FirstUnder(e.opts.DefaultRoots, "_gallery.items")
	if !ok {
		items, ok = tree.FirstUnder(e.opts.DefaultRoots, "_list.items")
	}
	if !ok || !items.IsArray() {
		return
	}

	for _, item := range items.Array() {
		card := models.Card{}
		card.Text, _ = Field(item, "title")
		card.Subtext, _ = Field(item, "subtitle")
		if image, ok := Field(item, "imageUrl"); ok {
			card.Image = &models.Media{MediaURI: image}
		}
		card.Buttons = cardButtons(item)
		msg.Cards = append(msg.Cards, card)
	}
}

func cardButtons(item gjson.Result) []models.Button {
	r, ok := present(item.Get("buttons"))
	if !ok || !r.IsArray() {
		return nil
	}
	var out []models.Button
	for _, b := range r.Array() {
		title, _ := Field(b, "title")
		payload, _ := Field(b, "payload")
		out = append(out, models.Button{Text: title, Payload: payload})
	}
	return out
}

func joinUnique(fragments []string) string {
	seen := make(map[string]struct{}, len(fragments))
	unique := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		unique = append(unique, f)
	}
	return strings.Join(unique, " ")
}
