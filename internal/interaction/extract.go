package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/pharmagpt/internal/llm"
)

const extractionSchemaPrompt = `Required JSON schema (every field optional, omit or null when unknown):
{
  "hcpName": "string, full name of the Healthcare Professional (HCP)",
  "interactionType": "string, e.g. Meeting | Call | Email | Virtual Meeting",
  "date": "string, YYYY-MM-DD",
  "time": "string, HH:MM (24-hour)",
  "productsDiscussed": ["string, pharmaceutical product name"],
  "topicsDiscussed": "string, summary of key topics discussed",
  "materialsShared": [{"id": "string", "name": "string"}],
  "hcpSentiment": "Positive | Negative | Neutral",
  "followUpActions": "string, specific follow-up actions required"
}`

const extractionGuidelines = `You are an expert AI assistant for pharmaceutical sales representatives. Your task is to extract all relevant details from the provided natural language description of an HCP interaction.

Extract the following fields accurately and precisely. If a piece of information is not explicitly mentioned or clearly inferable, omit that field or set its value to null.

Guidelines:
- hcpName: Full name of the Healthcare Professional.
- interactionType: Examples: Meeting, Call, Email, Virtual Meeting.
- date: The exact date in YYYY-MM-DD format. If only a relative day is given (e.g. yesterday, Monday), infer it from today's date when possible, otherwise omit.
- time: The exact time in HH:MM (24-hour) format. Convert AM/PM.
- productsDiscussed: A list of specific pharmaceutical product names mentioned.
- topicsDiscussed: A concise summary of the key subjects covered during the interaction.
- materialsShared: Materials explicitly mentioned as being shared. Each item has an id (the material name or a placeholder if no ID is clear) and a name (the material's title).
- hcpSentiment: The HCP's overall sentiment towards the discussion, one of Positive, Negative, Neutral.
- followUpActions: Any specific actions the sales rep needs to take as a direct result of this interaction.

Example of expected JSON for a simple interaction:
{
  "hcpName": "Dr. Sarah Lee",
  "interactionType": "Meeting",
  "date": "2024-05-20",
  "time": "14:00",
  "productsDiscussed": ["ProductX"],
  "topicsDiscussed": "Discussed new clinical data for ProductX and its side effect profile.",
  "materialsShared": [{"id": "Clinical Data", "name": "ProductX Clinical Study Results"}],
  "hcpSentiment": "Positive",
  "followUpActions": "Send follow-up email with detailed safety profile."
}`

// Extractor turns the free-text description into structured fields.
type Extractor interface {
	Extract(ctx context.Context, text string) (Extracted, error)
}

// LLMExtractor issues exactly one model call per description.
type LLMExtractor struct {
	caller llm.Caller
	now    func() time.Time
}

func NewLLMExtractor(caller llm.Caller) *LLMExtractor {
	return &LLMExtractor{caller: caller, now: time.Now}
}

func (e *LLMExtractor) Extract(ctx context.Context, text string) (Extracted, error) {
	out := Extracted{}
	raw, err := e.caller.GenerateJSON(ctx, e.systemPrompt(), "Interaction description: "+text)
	if err != nil {
		return out, fmt.Errorf("extraction transport failure: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, fmt.Errorf("extraction failed: empty response")
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &out); err != nil {
		return out, fmt.Errorf("extraction failed json parse: %w", err)
	}
	normalizeExtracted(&out)
	return out, nil
}

func (e *LLMExtractor) systemPrompt() string {
	return fmt.Sprintf("%s\n\nToday's date is %s.\n\n%s\n\nRespond with only valid JSON matching the schema.",
		extractionGuidelines,
		e.now().Format("2006-01-02 (Monday)"),
		extractionSchemaPrompt,
	)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

// normalizeExtracted drops blank strings so they read as absent and maps the
// sentiment onto its canonical spelling.
func normalizeExtracted(e *Extracted) {
	for _, f := range []**string{&e.HCPName, &e.InteractionType, &e.Date, &e.Time, &e.Topics, &e.Sentiment, &e.FollowUpActions} {
		if *f != nil && strings.TrimSpace(**f) == "" {
			*f = nil
		} else if *f != nil {
			v := strings.TrimSpace(**f)
			*f = &v
		}
	}
	if e.Sentiment != nil {
		switch strings.ToLower(*e.Sentiment) {
		case "positive":
			e.Sentiment = ptr(string(SentimentPositive))
		case "negative":
			e.Sentiment = ptr(string(SentimentNegative))
		case "neutral":
			e.Sentiment = ptr(string(SentimentNeutral))
		}
	}
	products := e.Products[:0]
	for _, p := range e.Products {
		if p = strings.TrimSpace(p); p != "" {
			products = append(products, p)
		}
	}
	if len(products) == 0 {
		e.Products = nil
	} else {
		e.Products = products
	}
	if len(e.Materials) == 0 {
		e.Materials = nil
	}
}

// applyDefaultMaterials fills materialsShared with the first catalog
// material of each discussed product when the model named none.
func applyDefaultMaterials(e *Extracted, catalog *Catalog) {
	if len(e.Products) == 0 || len(e.Materials) > 0 {
		return
	}
	var shared []Material
	for _, product := range e.Products {
		if materials, ok := catalog.MaterialsFor(product); ok && len(materials) > 0 {
			shared = append(shared, Material{ID: product, Name: materials[0]})
		}
	}
	if len(shared) > 0 {
		e.Materials = shared
	}
}
