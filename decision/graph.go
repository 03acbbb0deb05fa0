package decision

import (
	"errors"
	"fmt"
	"sort"

	"expertpanel-backend/models"
)

// Edge labels used for condition branches
const (
	LabelTrue  = "true"
	LabelFalse = "false"
)

var (
	ErrNoRoot        = errors.New("graph has no root node")
	ErrMultipleRoots = errors.New("graph has more than one root node")
)

// NodeData holds the editable fields of a graph node
type NodeData struct {
	Text           string          `json:"text,omitempty"`
	Options        []string        `json:"options,omitempty"`
	ExtractFrom    string          `json:"extract_from,omitempty"`
	Field          string          `json:"field,omitempty"`
	Operator       models.Operator `json:"operator,omitempty"`
	Value          any             `json:"value,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
	Severity       string          `json:"severity,omitempty"`
}

// GraphNode is a node in the editor representation
type GraphNode struct {
	ID     string          `json:"id"`
	Type   models.NodeType `json:"type"`
	Data   NodeData        `json:"data"`
	IsRoot bool            `json:"is_root"`
}

// GraphEdge connects two graph nodes. Label is "true"/"false" for conditions
// and the answer key for questions.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// Graph is the node/edge form of a decision tree
type Graph struct {
	Name  string      `json:"name,omitempty"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ToGraph flattens a tree into nodes and labelled edges, ordered by node ID
func ToGraph(tree *models.DecisionTree) Graph {
	g := Graph{Name: tree.Name, Nodes: []GraphNode{}, Edges: []GraphEdge{}}

	ids := make([]string, 0, len(tree.Nodes))
	for id := range tree.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	addEdge := func(source, target, label string) {
		if target == "" {
			return
		}
		g.Edges = append(g.Edges, GraphEdge{
			ID:     fmt.Sprintf("%s-%s-%s", source, label, target),
			Source: source,
			Target: target,
			Label:  label,
		})
	}

	for _, id := range ids {
		node := tree.Nodes[id]
		g.Nodes = append(g.Nodes, GraphNode{
			ID:     id,
			Type:   node.Type,
			IsRoot: id == tree.RootNodeID,
			Data: NodeData{
				Text:           node.Text,
				Options:        node.Options,
				ExtractFrom:    node.ExtractFrom,
				Field:          node.Field,
				Operator:       node.Operator,
				Value:          node.Value,
				Recommendation: node.Recommendation,
				Severity:       node.Severity,
			},
		})

		switch node.Type {
		case models.NodeCondition:
			addEdge(id, node.TrueChildID, LabelTrue)
			addEdge(id, node.FalseChildID, LabelFalse)
		case models.NodeQuestion:
			for _, key := range sortedKeys(node.Children) {
				addEdge(id, node.Children[key], key)
			}
		}
	}

	return g
}

// FromGraph rebuilds a tree from its graph form and validates it
func FromGraph(g Graph) (*models.DecisionTree, error) {
	tree := &models.DecisionTree{
		Name:  g.Name,
		Nodes: make(models.DecisionNodes, len(g.Nodes)),
	}

	for _, n := range g.Nodes {
		if n.ID == "" {
			return nil, errors.New("graph node without id")
		}
		if _, dup := tree.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate graph node %q", n.ID)
		}
		if n.IsRoot {
			if tree.RootNodeID != "" {
				return nil, ErrMultipleRoots
			}
			tree.RootNodeID = n.ID
		}
		tree.Nodes[n.ID] = models.DecisionNode{
			ID:             n.ID,
			Type:           n.Type,
			Text:           n.Data.Text,
			Options:        n.Data.Options,
			ExtractFrom:    n.Data.ExtractFrom,
			Field:          n.Data.Field,
			Operator:       n.Data.Operator,
			Value:          n.Data.Value,
			Recommendation: n.Data.Recommendation,
			Severity:       n.Data.Severity,
		}
	}
	if tree.RootNodeID == "" {
		return nil, ErrNoRoot
	}

	for _, e := range g.Edges {
		source, ok := tree.Nodes[e.Source]
		if !ok {
			return nil, fmt.Errorf("edge %q: unknown source %q", e.ID, e.Source)
		}
		if _, ok := tree.Nodes[e.Target]; !ok {
			return nil, fmt.Errorf("edge %q: unknown target %q", e.ID, e.Target)
		}

		switch source.Type {
		case models.NodeCondition:
			switch e.Label {
			case LabelTrue:
				source.TrueChildID = e.Target
			case LabelFalse:
				source.FalseChildID = e.Target
			default:
				return nil, fmt.Errorf("edge %q: condition edges must be labelled true or false, got %q", e.ID, e.Label)
			}
		case models.NodeQuestion:
			label := e.Label
			if label == "" {
				label = models.DefaultEdge
			}
			if source.Children == nil {
				source.Children = make(map[string]string)
			}
			if _, dup := source.Children[label]; dup {
				return nil, fmt.Errorf("edge %q: question %q already has an edge labelled %q", e.ID, e.Source, label)
			}
			source.Children[label] = e.Target
		default:
			return nil, fmt.Errorf("edge %q: %s nodes cannot have children", e.ID, source.Type)
		}
		tree.Nodes[e.Source] = source
	}

	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return tree, nil
}
