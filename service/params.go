package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"expertpanel-backend/llm"
	"expertpanel-backend/models"
)

// fieldHint describes one parameter a decision tree reads
type fieldHint struct {
	Name     string
	Question string
	Options  []string
}

// treeFieldHints collects the tree's fields with the question text that asks for them
func treeFieldHints(tree *models.DecisionTree) []fieldHint {
	hints := map[string]*fieldHint{}
	for _, name := range tree.Fields() {
		hints[name] = &fieldHint{Name: name}
	}
	for _, node := range tree.Nodes {
		if node.Type != models.NodeQuestion || node.ExtractFrom == "" {
			continue
		}
		if h, ok := hints[node.ExtractFrom]; ok && h.Question == "" {
			h.Question = node.Text
			h.Options = node.Options
		}
	}

	out := make([]fieldHint, 0, len(hints))
	for _, h := range hints {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// extractInlineParams picks up "field: value" and "field=value" pairs written in the query
func extractInlineParams(query string, fields []string) map[string]string {
	params := map[string]string{}
	for _, field := range fields {
		pattern := `(?i)(?:^|[^\w])` + regexp.QuoteMeta(field) + `\s*[:=]\s*([^,;\n]+?)\s*(?:[.?!](?:\s|$)|[,;\n]|$)`
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value != "" {
			params[field] = value
		}
	}
	return params
}

const extractionSystemPrompt = `You extract structured parameters from a user's question.
Return a single JSON object whose keys are the requested parameter names.
Use null for any parameter the question does not state. Do not guess.`

// extractParams fills the tree's parameters from the query. Inline pairs win;
// the model is asked only for the fields still missing. A model failure leaves
// those fields unset.
func (s *AnswerService) extractParams(ctx context.Context, tree *models.DecisionTree, query string) map[string]string {
	hints := treeFieldHints(tree)
	names := make([]string, 0, len(hints))
	for _, h := range hints {
		names = append(names, h.Name)
	}

	params := extractInlineParams(query, names)
	missing := make([]fieldHint, 0, len(hints))
	for _, h := range hints {
		if _, ok := params[h.Name]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 || s.llm == nil {
		return params
	}

	var b strings.Builder
	b.WriteString("Parameters:\n")
	for _, h := range missing {
		fmt.Fprintf(&b, "- %s", h.Name)
		if h.Question != "" {
			fmt.Fprintf(&b, ": %s", h.Question)
		}
		if len(h.Options) > 0 {
			fmt.Fprintf(&b, " (one of: %s)", strings.Join(h.Options, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nQuestion:\n%s\n", query)

	raw, err := s.llm.Complete(ctx, llm.Request{
		System:      extractionSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   512,
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		s.logger.Warn("Warning: parameter extraction failed, using inline values only", "error", err)
		return params
	}

	var extracted map[string]any
	if err := llm.DecodeJSON(raw, &extracted); err != nil {
		s.logger.Warn("Warning: could not parse extracted parameters", "error", err)
		return params
	}

	for _, h := range missing {
		v, ok := extracted[h.Name]
		if !ok || v == nil {
			continue
		}
		value := strings.TrimSpace(fmt.Sprint(v))
		if value != "" {
			params[h.Name] = value
		}
	}
	return params
}
