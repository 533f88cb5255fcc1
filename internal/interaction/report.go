package interaction

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// BuildReportMarkdown renders one stored interaction as a markdown document.
func BuildReportMarkdown(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Interaction Report #%d\n\n", rec.ID)
	fmt.Fprintf(&b, "- HCP: %s\n", orNA(rec.HCPName))
	fmt.Fprintf(&b, "- Type: %s\n", orNA(rec.InteractionType))
	fmt.Fprintf(&b, "- Date: %s\n", orNA(rec.Date))
	fmt.Fprintf(&b, "- Time: %s\n", orNA(rec.Time))
	fmt.Fprintf(&b, "- Sentiment: %s\n", orNA(rec.Sentiment))
	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- Logged: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Topics Discussed\n\n%s\n\n", orNA(rec.Topics))

	fmt.Fprintf(&b, "## Products Discussed\n\n")
	if len(rec.Products) == 0 {
		b.WriteString("- None recorded.\n")
	}
	for _, p := range rec.Products {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Materials Shared\n\n")
	if len(rec.Materials) == 0 {
		b.WriteString("No materials recorded.\n\n")
	} else {
		b.WriteString("| ID | Name |\n|---|---|\n")
		for _, m := range rec.Materials {
			fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(m.ID), escapeCell(m.Name))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Follow-up Actions\n\n%s\n", orNA(rec.FollowUpActions))
	return b.String()
}

// RenderReportHTML converts the markdown report into a standalone HTML page.
func RenderReportHTML(rec Record) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(BuildReportMarkdown(rec)), &body); err != nil {
		return nil, fmt.Errorf("markdown convert: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!doctype html><html><head><meta charset='utf-8'><title>Interaction %d</title>", rec.ID)
	out.WriteString("<style>body{font-family:sans-serif;max-width:860px;margin:2rem auto;padding:0 1rem;} table{border-collapse:collapse;} td,th{border:1px solid #ccc;padding:4px 8px;}</style>")
	out.WriteString("</head><body>")
	out.Write(body.Bytes())
	out.WriteString("</body></html>")
	return out.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
