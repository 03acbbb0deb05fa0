package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// NodeType discriminates the variants of a decision node
type NodeType string

const (
	NodeQuestion  NodeType = "question"
	NodeCondition NodeType = "condition"
	NodeAction    NodeType = "action"
)

// Operator is a condition comparison operator
type Operator string

const (
	OperatorEq       Operator = "eq"
	OperatorGt       Operator = "gt"
	OperatorLt       Operator = "lt"
	OperatorContains Operator = "contains"
	OperatorIn       Operator = "in"
)

// DefaultEdge is the answer key a question node follows when no option matches
const DefaultEdge = "default"

// DecisionNode is one node of a decision tree. Which fields are set depends on Type.
type DecisionNode struct {
	ID   string   `json:"id" yaml:"id"`
	Type NodeType `json:"type" yaml:"type"`

	// question
	Text        string            `json:"text,omitempty" yaml:"text,omitempty"`
	Options     []string          `json:"options,omitempty" yaml:"options,omitempty"`
	ExtractFrom string            `json:"extract_from,omitempty" yaml:"extract_from,omitempty"`
	Children    map[string]string `json:"children,omitempty" yaml:"children,omitempty"`

	// condition
	Field        string   `json:"field,omitempty" yaml:"field,omitempty"`
	Operator     Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value        any      `json:"value,omitempty" yaml:"value,omitempty"` // string, number or list
	TrueChildID  string   `json:"true_child_id,omitempty" yaml:"true_child_id,omitempty"`
	FalseChildID string   `json:"false_child_id,omitempty" yaml:"false_child_id,omitempty"`

	// action
	Recommendation string `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
	Severity       string `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// DecisionNodes maps node IDs to nodes
type DecisionNodes map[string]DecisionNode

// Value implements driver.Valuer for JSONB
func (n DecisionNodes) Value() (driver.Value, error) {
	return json.Marshal(n)
}

// Scan implements sql.Scanner for JSONB
func (n *DecisionNodes) Scan(value interface{}) error {
	if value == nil {
		*n = make(DecisionNodes)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB value type %T", value)
	}

	if len(bytes) == 0 {
		*n = make(DecisionNodes)
		return nil
	}

	return json.Unmarshal(bytes, n)
}

// DecisionTree is a persona's structured reasoning graph
type DecisionTree struct {
	ID         uuid.UUID     `json:"id" yaml:"-"`
	PluginID   uuid.UUID     `json:"plugin_id" yaml:"-"`
	Name       string        `json:"name" yaml:"name"`
	RootNodeID string        `json:"root_node_id" yaml:"root_node_id"`
	Nodes      DecisionNodes `json:"nodes" yaml:"nodes"`
	IsActive   bool          `json:"is_active" yaml:"-"`
	CreatedAt  time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time     `json:"updated_at" yaml:"-"`
}

// Validate reports the root and every child reference that does not resolve to a node.
// Cycles are allowed; evaluation bounds them with a step ceiling.
func (t *DecisionTree) Validate() error {
	var errs []error
	if _, ok := t.Nodes[t.RootNodeID]; !ok {
		errs = append(errs, fmt.Errorf("root node %q not found", t.RootNodeID))
	}

	ids := make([]string, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	missing := func(from, to string) {
		if to == "" {
			return
		}
		if _, ok := t.Nodes[to]; !ok {
			errs = append(errs, fmt.Errorf("node %q references missing node %q", from, to))
		}
	}

	for _, id := range ids {
		node := t.Nodes[id]
		switch node.Type {
		case NodeQuestion:
			keys := make([]string, 0, len(node.Children))
			for key := range node.Children {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				missing(id, node.Children[key])
			}
		case NodeCondition:
			missing(id, node.TrueChildID)
			missing(id, node.FalseChildID)
		case NodeAction:
		default:
			errs = append(errs, fmt.Errorf("node %q has unknown type %q", id, node.Type))
		}
	}

	return errors.Join(errs...)
}

// Fields returns the sorted parameter names the tree reads
func (t *DecisionTree) Fields() []string {
	seen := make(map[string]bool)
	for _, node := range t.Nodes {
		switch node.Type {
		case NodeQuestion:
			if node.ExtractFrom != "" {
				seen[node.ExtractFrom] = true
			}
		case NodeCondition:
			if node.Field != "" {
				seen[node.Field] = true
			}
		}
	}

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// DecisionStep records one visited node and the branch taken out of it
type DecisionStep struct {
	NodeID         string   `json:"node_id"`
	NodeType       NodeType `json:"node_type"`
	Label          string   `json:"label"`
	Input          string   `json:"input,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Severity       string   `json:"severity,omitempty"`
}
