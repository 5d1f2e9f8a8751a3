package extraction

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// DefaultContentBudget is the approximate token budget for document text
// sent to Claude.
const DefaultContentBudget = 6000

// extractionPromptTemplate wraps the document in an XML tag so its content
// cannot act as instructions.
const extractionPromptTemplate = `You are an evidence analysis system. Identify entities in the evidence document below.

For each entity provide:
- type: one of %s
  - person: a named individual
  - location: a named place, venue or address
  - organization: a company, agency or institution
  - keyword: a word of investigative interest (weapon, theft, ransom, ...)%s
- value: the entity exactly as written in the document
- confidence: integer 0-100

Return a JSON array in document order. If nothing is found, return [].

<document name="%s">%s</document>

Extract entities as JSON array:`

const advancedTypeHelp = `
  - license_plate: a vehicle registration plate
  - integrity: a cryptographic hash quoted in the document, as "sha256:<hex>"`

type claudeEntity struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
}

// ClaudeExtractor asks Claude for the entities of a document.
type ClaudeExtractor struct {
	client *anthropic.Client
	model  string
	budget int
	logger *slog.Logger
}

// NewClaudeExtractor creates an extractor backed by the Claude API.
func NewClaudeExtractor(apiKey, model string, logger *slog.Logger) *ClaudeExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeExtractor{
		client: &c,
		model:  model,
		budget: DefaultContentBudget,
		logger: logger,
	}
}

// Extract sends the document to Claude and emits the entities it returns.
// Entities with an unknown type are skipped with a warning.
func (c *ClaudeExtractor) Extract(ctx context.Context, doc Document, opts Options, emit EmitFunc) error {
	if len(doc.Content) == 0 {
		return fmt.Errorf("extracting %s: %w", doc.ID, ErrEmptyDocument)
	}
	text, cut := truncateToBudget(string(doc.Content), c.budget)
	if cut {
		c.logger.Warn("document truncated for extraction", "file_id", doc.ID, "budget_tokens", c.budget)
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(buildPrompt(doc.Name, text, opts)),
			),
		},
		System: []anthropic.TextBlockParam{
			{Text: "You are a precise entity extraction system. Output only valid JSON."},
		},
	})
	if err != nil {
		return fmt.Errorf("calling Claude API: %w", err)
	}

	var responseText string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			responseText = resp.Content[i].Text
			break
		}
	}
	if responseText == "" {
		return errors.New("empty response from Claude")
	}
	c.logger.Debug("claude extraction response", "file_id", doc.ID, "response", responseText)

	entities, err := parseEntities(responseText, opts, c.logger)
	if err != nil {
		return err
	}
	for i := range entities {
		if err := emit(entities[i]); err != nil {
			return fmt.Errorf("emitting %s entity: %w", entities[i].Type, err)
		}
	}
	c.logger.Info("extracted entities", "file_id", doc.ID, "count", len(entities))
	return nil
}

func buildPrompt(name, content string, opts Options) string {
	types := `"person", "location", "organization", "keyword"`
	help := ""
	if opts.AdvancedEnrichment {
		types += `, "license_plate", "integrity"`
		help = advancedTypeHelp
	}
	return fmt.Sprintf(extractionPromptTemplate, types, help, escapeXML(name), escapeXML(content))
}

// parseEntities decodes the model's reply. A bare array and an
// {"entities": [...]} wrapper are both accepted, optionally inside a
// markdown code fence.
func parseEntities(text string, opts Options, logger *slog.Logger) ([]models.EntityInput, error) {
	text = stripFence(text)

	var raw []claudeEntity
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		var wrapped struct {
			Entities []claudeEntity `json:"entities"`
		}
		if err2 := json.Unmarshal([]byte(text), &wrapped); err2 != nil {
			return nil, fmt.Errorf("parsing extraction response: %w (raw: %s)", err, text)
		}
		raw = wrapped.Entities
	}

	out := make([]models.EntityInput, 0, len(raw))
	for i := range raw {
		et, err := models.ParseEntityType(raw[i].Type)
		if err != nil {
			logger.Warn("entity extraction: unknown entity type, skipping", "type", raw[i].Type, "value", raw[i].Value)
			continue
		}
		if !opts.AdvancedEnrichment && (et == models.EntityTypeLicensePlate || et == models.EntityTypeIntegrity) {
			continue
		}
		out = append(out, models.EntityInput{
			Type:            et,
			RawValue:        raw[i].Value,
			ConfidenceScore: min(max(raw[i].Confidence, 0), 100),
		})
	}
	return out, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func escapeXML(s string) string {
	var buf strings.Builder
	// Only the writer can fail, and strings.Builder never does. Invalid
	// UTF-8 comes out as U+FFFD.
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
