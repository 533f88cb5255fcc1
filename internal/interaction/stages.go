package interaction

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthDayRE = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})(?:st|nd|rd|th)?\b`)

var months = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
}

// IsEdit reports whether the request context asks for the edit step.
func IsEdit(ctx map[string]any) bool {
	switch v := ctx["is_edit"].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		}
	case float64:
		return v != 0
	}
	return false
}

// editExtracted applies keyword edits from the input to the in-memory
// record only. The stored row keeps the extracted values.
func editExtracted(input string, e *Extracted, year int) {
	text := strings.ToLower(input)
	if strings.Contains(text, "sentiment") {
		switch {
		case strings.Contains(text, "positive"):
			e.Sentiment = ptr(string(SentimentPositive))
		case strings.Contains(text, "negative"):
			e.Sentiment = ptr(string(SentimentNegative))
		case strings.Contains(text, "neutral"):
			e.Sentiment = ptr(string(SentimentNeutral))
		}
	}
	if strings.Contains(text, "date") {
		if m := monthDayRE.FindStringSubmatch(text); m != nil {
			day, err := strconv.Atoi(m[2])
			if err == nil {
				date := fmt.Sprintf("%04d-%02d-%02d", year, months[m[1]], day)
				if _, err := time.Parse("2006-01-02", date); err == nil {
					e.Date = ptr(date)
				}
			}
		}
	}
}

func suggestFollowups(e Extracted, catalog *Catalog) []string {
	var followups []string
	name := str(e.HCPName)
	topics := strings.ToLower(str(e.Topics))

	if profile, ok := catalog.HCP(name); ok {
		followups = append(followups, fmt.Sprintf("Schedule next meeting according to %s's preference: %s", name, profile.Preferences))
		for _, rule := range catalog.SpecialtyRules {
			if rule.Specialty == profile.Specialty && strings.Contains(topics, strings.ToLower(rule.Keyword)) {
				followups = append(followups, rule.Action)
				break
			}
		}
	}

	switch Sentiment(str(e.Sentiment)) {
	case SentimentPositive:
		followups = append(followups,
			"Send thank you email with additional resources discussed",
			"Invite to upcoming product symposium")
	case SentimentNegative:
		followups = append(followups,
			"Schedule call to address concerns",
			"Share additional safety data to address hesitations")
	default:
		followups = append(followups,
			"Share additional clinical data that may help with decision making",
			"Schedule follow-up call in 2 weeks to continue the discussion")
	}

	for len(followups) < MinFollowups {
		followups = append(followups, "Schedule routine follow-up in 4-6 weeks")
	}
	if len(followups) > MaxFollowups {
		followups = followups[:MaxFollowups]
	}
	return followups
}

func summarizeHistory(ctx context.Context, repo Repository, name string, limit int) (string, error) {
	if strings.TrimSpace(name) == "" {
		return HistoryNoName, nil
	}
	past, err := repo.ListInteractions(ctx, ListFilter{HCPName: name, Limit: limit})
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if len(past) == 0 {
		return HistoryNoRecords, nil
	}
	return formatHistory(past), nil
}

func formatHistory(past []Record) string {
	parts := make([]string, 0, len(past))
	for i, r := range past {
		parts = append(parts, fmt.Sprintf("Interaction %d on %s: Discussed '%s'. Sentiment: %s.",
			i+1, orNA(r.Date), orNA(r.Topics), orNA(r.Sentiment)))
	}
	return "Previous Interactions:\n" + strings.Join(parts, "\n")
}

func orNA(v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "N/A"
	}
	return *v
}

func suggestResources(e Extracted, catalog *Catalog) []string {
	var resources []string
	for _, product := range e.Products {
		if materials, ok := catalog.MaterialsFor(product); ok {
			resources = append(resources, materials...)
		}
	}
	if len(resources) == 0 {
		topics := strings.ToLower(str(e.Topics))
		for _, rule := range catalog.TopicRules {
			if strings.Contains(topics, strings.ToLower(rule.Keyword)) {
				materials, _ := catalog.MaterialsFor(rule.Product)
				resources = append(resources, materials...)
				break
			}
		}
	}
	if len(resources) == 0 {
		resources = append(resources, catalog.DefaultResources...)
	}
	return dedupe(resources, MaxResources)
}

func dedupe(items []string, limit int) []string {
	seen := map[string]bool{}
	out := make([]string, 0, limit)
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

func buildMessage(st State) string {
	name := str(st.Extracted.HCPName)
	if name == "" {
		name = "the HCP"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I've processed your interaction with %s.", name)
	if st.HistorySummary != "" && st.HistorySummary != HistoryNoRecords && st.HistorySummary != HistoryNoName {
		b.WriteString(" " + st.HistorySummary)
	}
	if len(st.SuggestedResources) > 0 {
		shown := st.SuggestedResources
		if len(shown) > MessageResourceCap {
			shown = shown[:MessageResourceCap]
		}
		fmt.Fprintf(&b, " Based on your discussion, you might want to share: %s.", strings.Join(shown, ", "))
	}
	return b.String()
}
