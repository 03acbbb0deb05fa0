// Package decision walks persona decision trees and converts them to and from
// the node/edge graph used by the tree editor.
package decision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"expertpanel-backend/models"
)

// MaxSteps bounds a single evaluation so that cyclic trees still terminate
const MaxSteps = 50

// Result is the outcome of walking a tree
type Result struct {
	Path           []models.DecisionStep `json:"path"`
	Recommendation *models.DecisionStep  `json:"recommendation,omitempty"`
}

// Evaluate walks tree from its root using params and returns the visited path.
// Walking stops at an action node, an unresolved question, a dangling child
// reference or after MaxSteps nodes.
func Evaluate(tree *models.DecisionTree, params map[string]string) Result {
	res := Result{Path: []models.DecisionStep{}}
	if tree == nil {
		return res
	}

	nodeID := tree.RootNodeID
	for steps := 0; steps < MaxSteps && nodeID != ""; steps++ {
		node, ok := tree.Nodes[nodeID]
		if !ok {
			break
		}
		if node.ID == "" {
			node.ID = nodeID
		}

		switch node.Type {
		case models.NodeCondition:
			value, present := lookup(params, node.Field)
			step := models.DecisionStep{
				NodeID:   node.ID,
				NodeType: node.Type,
				Label:    conditionLabel(node),
				Input:    value,
			}
			if present && evalCondition(node.Operator, value, node.Value) {
				step.Branch = "true"
				nodeID = node.TrueChildID
			} else {
				step.Branch = "false"
				nodeID = node.FalseChildID
			}
			res.Path = append(res.Path, step)

		case models.NodeQuestion:
			answer, present := lookup(params, node.ExtractFrom)
			key, next := resolveAnswer(node, answer, present)
			res.Path = append(res.Path, models.DecisionStep{
				NodeID:   node.ID,
				NodeType: node.Type,
				Label:    node.Text,
				Input:    answer,
				Branch:   key,
			})
			nodeID = next

		case models.NodeAction:
			step := models.DecisionStep{
				NodeID:         node.ID,
				NodeType:       node.Type,
				Label:          node.Recommendation,
				Recommendation: node.Recommendation,
				Severity:       node.Severity,
			}
			res.Path = append(res.Path, step)
			res.Recommendation = &step
			return res

		default:
			return res
		}
	}

	return res
}

// lookup finds a parameter by exact name, then case-insensitively
func lookup(params map[string]string, field string) (string, bool) {
	if field == "" {
		return "", false
	}
	if v, ok := params[field]; ok {
		return v, true
	}
	for k, v := range params {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	return "", false
}

// resolveAnswer maps an answer to a child edge: exact key, normalized option or
// key, then the default edge, then a lone child.
func resolveAnswer(node models.DecisionNode, answer string, present bool) (string, string) {
	if present {
		trimmed := strings.TrimSpace(answer)
		if id, ok := node.Children[trimmed]; ok {
			return trimmed, id
		}

		norm := normalize(trimmed)
		for _, opt := range node.Options {
			if normalize(opt) != norm {
				continue
			}
			if id, ok := node.Children[opt]; ok {
				return opt, id
			}
		}
		for _, key := range sortedKeys(node.Children) {
			if normalize(key) == norm {
				return key, node.Children[key]
			}
		}
	}

	if id, ok := node.Children[models.DefaultEdge]; ok {
		return models.DefaultEdge, id
	}

	if present && len(node.Children) == 1 {
		for key, id := range node.Children {
			return key, id
		}
	}

	return "", ""
}

func evalCondition(op models.Operator, actual string, expected any) bool {
	switch op {
	case models.OperatorEq:
		want := stringify(expected)
		a, errA := parseNumber(actual)
		b, errB := parseNumber(want)
		if errA == nil && errB == nil {
			return a == b
		}
		return strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(want))

	case models.OperatorGt, models.OperatorLt:
		a, err := parseNumber(actual)
		if err != nil {
			return false
		}
		b, err := parseNumber(stringify(expected))
		if err != nil {
			return false
		}
		if op == models.OperatorGt {
			return a > b
		}
		return a < b

	case models.OperatorContains:
		needle := normalize(stringify(expected))
		if needle == "" {
			return false
		}
		return strings.Contains(normalize(actual), needle)

	case models.OperatorIn:
		a := normalize(actual)
		for _, candidate := range candidates(expected) {
			if normalize(candidate) == a {
				return true
			}
		}
		return false
	}

	return false
}

// candidates expands an "in" operand given as a list or a comma-separated string
func candidates(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, stringify(item))
		}
		return out
	case string:
		return strings.Split(t, ",")
	case nil:
		return nil
	default:
		return []string{stringify(t)}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case []any, []string:
		return strings.Join(candidates(t), ",")
	default:
		return fmt.Sprint(t)
	}
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func conditionLabel(node models.DecisionNode) string {
	return fmt.Sprintf("%s %s %s", node.Field, node.Operator, stringify(node.Value))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
