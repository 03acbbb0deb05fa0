package service

import (
	"fmt"
	"strings"

	"expertpanel-backend/decision"
	"expertpanel-backend/models"
)

const groundingRules = `Rules:
- Answer only from the numbered sources provided.
- Cite every factual claim with [Source N], where N is the number of the source it comes from.
- Never cite a source number that is not listed.
- If the sources do not cover the question, say that you don't have enough information.
- Web search results are background only. Do not cite them.
- When a decision analysis is provided, follow its recommendation unless a source contradicts it.`

// buildSystemPrompt combines the expert persona with the grounding rules
func buildSystemPrompt(plugin *models.Plugin) string {
	persona := strings.TrimSpace(plugin.SystemPrompt)
	if persona == "" {
		persona = fmt.Sprintf("You are %s, an expert in %s.", plugin.Name, plugin.Domain)
	}
	return persona + "\n\n" + groundingRules
}

// buildAnswerPrompt renders the numbered sources, the decision trace, optional
// deliberation context and the question
func buildAnswerPrompt(query string, chunks []models.RetrievedChunk, trace decision.Result, deliberation string) string {
	var b strings.Builder

	b.WriteString("## Sources\n\n")
	if len(chunks) == 0 {
		b.WriteString("(no sources were found)\n\n")
	}
	for i, c := range chunks {
		fmt.Fprintf(&b, "[Source %d] %s", i+1, c.DocumentName)
		if c.PageNumber != nil {
			fmt.Fprintf(&b, ", page %d", *c.PageNumber)
		}
		if c.SectionTitle != nil && *c.SectionTitle != "" {
			fmt.Fprintf(&b, ", %s", *c.SectionTitle)
		}
		fmt.Fprintf(&b, "\n%s\n\n", strings.TrimSpace(c.Content))
	}

	if len(trace.Path) > 0 {
		b.WriteString("## Decision analysis\n\n")
		for i, step := range trace.Path {
			fmt.Fprintf(&b, "%d. %s", i+1, step.Label)
			if step.Input != "" {
				fmt.Fprintf(&b, " (input: %s)", step.Input)
			}
			if step.Branch != "" {
				fmt.Fprintf(&b, " -> %s", step.Branch)
			}
			b.WriteString("\n")
		}
		if r := trace.Recommendation; r != nil {
			fmt.Fprintf(&b, "Recommendation: %s", r.Recommendation)
			if r.Severity != "" {
				fmt.Fprintf(&b, " [%s]", r.Severity)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if deliberation = strings.TrimSpace(deliberation); deliberation != "" {
		b.WriteString("## Other experts so far\n\n")
		b.WriteString(deliberation)
		b.WriteString("\n\nTheir statements are not sources. Cite only the numbered sources above.\n\n")
	}

	b.WriteString("## Question\n\n")
	b.WriteString(query)
	b.WriteString("\n")
	return b.String()
}

const reviewInstructions = `You are reviewing a document against the numbered sources.
Return ONLY a JSON array. Each element is one finding:
{"segment_index": number, "severity": "error" | "warning" | "info" | "pass", "category": string, "issue": string, "suggested_fix": string}
- segment_index must be one of the segment numbers shown.
- Give every segment at least one element. Use "pass" when it has no issue.
- Cite the sources supporting each issue or fix with [Source N].`

// buildReviewPrompt renders the merged sources and the batch's segments
func buildReviewPrompt(sources []models.RetrievedChunk, segments []Segment) string {
	var b strings.Builder

	b.WriteString("## Sources\n\n")
	if len(sources) == 0 {
		b.WriteString("(no sources were found)\n\n")
	}
	for i, c := range sources {
		fmt.Fprintf(&b, "[Source %d] %s\n%s\n\n", i+1, c.DocumentName, strings.TrimSpace(c.Content))
	}

	b.WriteString("## Segments\n\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "### Segment %d (lines %d-%d)\n%s\n\n", seg.Index, seg.StartLine, seg.EndLine, seg.Text)
	}
	return b.String()
}
