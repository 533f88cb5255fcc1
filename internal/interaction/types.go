package interaction

import "time"

const (
	MaxInputBytes       = 20000
	DefaultHistoryLimit = 5
	MaxFollowups        = 3
	MinFollowups        = 2
	MaxResources        = 3
	MessageResourceCap  = 2
	DefaultEditYear     = 2025
)

const (
	StageExtract          = "log_interaction"
	StagePersist          = "persist_interaction"
	StageEdit             = "edit_interaction"
	StageSuggestFollowup  = "suggest_followup"
	StageSummarizeHistory = "summarize_history"
	StageSuggestResources = "suggest_resources"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNegative Sentiment = "Negative"
	SentimentNeutral  Sentiment = "Neutral"
)

const (
	HistoryNoName    = "No HCP name provided to summarize history."
	HistoryNoRecords = "No previous interaction history available for this HCP in the database."
)

type Material struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Extracted is the structured form of one interaction description. Every
// field is optional; the model omits what the text does not say.
type Extracted struct {
	HCPName         *string    `json:"hcpName,omitempty"`
	InteractionType *string    `json:"interactionType,omitempty"`
	Date            *string    `json:"date,omitempty"`
	Time            *string    `json:"time,omitempty"`
	Products        []string   `json:"productsDiscussed,omitempty"`
	Topics          *string    `json:"topicsDiscussed,omitempty"`
	Materials       []Material `json:"materialsShared,omitempty"`
	Sentiment       *string    `json:"hcpSentiment,omitempty"`
	FollowUpActions *string    `json:"followUpActions,omitempty"`
}

type Request struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context,omitempty"`
}

type Response struct {
	Message            string    `json:"message"`
	ExtractedData      Extracted `json:"extracted_data"`
	SuggestedFollowups []string  `json:"suggested_followups"`
	InteractionID      int64     `json:"interaction_id"`
	HistorySummary     string    `json:"history_summary"`
	SuggestedResources []string  `json:"suggested_resources"`
}

// Record is one persisted interaction row.
type Record struct {
	ID              int64      `json:"id"`
	RequestID       string     `json:"request_id,omitempty"`
	HCPName         *string    `json:"hcpName,omitempty"`
	InteractionType *string    `json:"interactionType,omitempty"`
	Date            *string    `json:"date,omitempty"`
	Time            *string    `json:"time,omitempty"`
	Products        []string   `json:"productsDiscussed,omitempty"`
	Topics          *string    `json:"topicsDiscussed,omitempty"`
	Materials       []Material `json:"materialsShared,omitempty"`
	Sentiment       *string    `json:"hcpSentiment,omitempty"`
	FollowUpActions *string    `json:"followUpActions,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func NewRecord(requestID string, e Extracted) Record {
	return Record{
		RequestID:       requestID,
		HCPName:         e.HCPName,
		InteractionType: e.InteractionType,
		Date:            e.Date,
		Time:            e.Time,
		Products:        e.Products,
		Topics:          e.Topics,
		Materials:       e.Materials,
		Sentiment:       e.Sentiment,
		FollowUpActions: e.FollowUpActions,
	}
}

// Extracted converts the row back into the extraction shape, dropping ids
// and timestamps.
func (r Record) Extracted() Extracted {
	return Extracted{
		HCPName:         r.HCPName,
		InteractionType: r.InteractionType,
		Date:            r.Date,
		Time:            r.Time,
		Products:        r.Products,
		Topics:          r.Topics,
		Materials:       r.Materials,
		Sentiment:       r.Sentiment,
		FollowUpActions: r.FollowUpActions,
	}
}

// State is threaded through the pipeline stages in order.
type State struct {
	Input              string
	Context            map[string]any
	RequestID          string
	Extracted          Extracted
	InteractionID      int64
	SuggestedFollowups []string
	HistorySummary     string
	SuggestedResources []string
}

type ListFilter struct {
	HCPName string
	Limit   int
}

type PipelineMetadata struct {
	StagesExecuted []string      `json:"stages_executed"`
	InputTruncated bool          `json:"input_truncated"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	Duration       time.Duration `json:"duration"`
}

type PipelineResult struct {
	State    State
	Metadata PipelineMetadata
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func ptr(s string) *string { return &s }
