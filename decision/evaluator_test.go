package decision

import (
	"testing"

	"expertpanel-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// coverTree asks for the exposure class, then checks the slab thickness.
func coverTree() *models.DecisionTree {
	return &models.DecisionTree{
		RootNodeID: "exposure",
		Nodes: models.DecisionNodes{
			"exposure": {
				ID:          "exposure",
				Type:        models.NodeQuestion,
				Text:        "What is the exposure class?",
				Options:     []string{"Interior", "Coastal"},
				ExtractFrom: "exposure",
				Children: map[string]string{
					"Interior": "thickness",
					"Coastal":  "coastal-cover",
				},
			},
			"thickness": {
				ID:           "thickness",
				Type:         models.NodeCondition,
				Field:        "thickness_mm",
				Operator:     models.OperatorGt,
				Value:        float64(200),
				TrueChildID:  "thick-cover",
				FalseChildID: "thin-cover",
			},
			"coastal-cover": {ID: "coastal-cover", Type: models.NodeAction, Recommendation: "Use 50mm cover", Severity: "high"},
			"thick-cover":   {ID: "thick-cover", Type: models.NodeAction, Recommendation: "Use 30mm cover", Severity: "medium"},
			"thin-cover":    {ID: "thin-cover", Type: models.NodeAction, Recommendation: "Use 25mm cover", Severity: "low"},
		},
	}
}

func TestEvaluate_FollowsQuestionAndCondition(t *testing.T) {
	res := Evaluate(coverTree(), map[string]string{
		"exposure":     "interior",
		"thickness_mm": "250",
	})

	require.Len(t, res.Path, 3)
	assert.Equal(t, "exposure", res.Path[0].NodeID)
	assert.Equal(t, "Interior", res.Path[0].Branch)
	assert.Equal(t, "true", res.Path[1].Branch)
	require.NotNil(t, res.Recommendation)
	assert.Equal(t, "Use 30mm cover", res.Recommendation.Recommendation)
	assert.Equal(t, "medium", res.Recommendation.Severity)
}

func TestEvaluate_MissingFieldIsFalse(t *testing.T) {
	res := Evaluate(coverTree(), map[string]string{"exposure": "Interior"})

	require.NotNil(t, res.Recommendation)
	assert.Equal(t, "thin-cover", res.Recommendation.NodeID)
	assert.Equal(t, "false", res.Path[1].Branch)
}

func TestEvaluate_UnresolvedQuestionStops(t *testing.T) {
	res := Evaluate(coverTree(), map[string]string{"exposure": "submerged"})

	require.Len(t, res.Path, 1)
	assert.Equal(t, "", res.Path[0].Branch)
	assert.Nil(t, res.Recommendation)
}

func TestEvaluate_DefaultEdge(t *testing.T) {
	tree := coverTree()
	q := tree.Nodes["exposure"]
	q.Children = map[string]string{
		"Coastal":          "coastal-cover",
		models.DefaultEdge: "thin-cover",
	}
	tree.Nodes["exposure"] = q

	res := Evaluate(tree, map[string]string{"exposure": "submerged"})
	require.NotNil(t, res.Recommendation)
	assert.Equal(t, "thin-cover", res.Recommendation.NodeID)
	assert.Equal(t, models.DefaultEdge, res.Path[0].Branch)

	res = Evaluate(tree, map[string]string{})
	require.NotNil(t, res.Recommendation)
	assert.Equal(t, "thin-cover", res.Recommendation.NodeID)
}

func TestEvaluate_SingleChildLegacyTree(t *testing.T) {
	tree := &models.DecisionTree{
		RootNodeID: "q",
		Nodes: models.DecisionNodes{
			"q":   {ID: "q", Type: models.NodeQuestion, ExtractFrom: "anything", Children: map[string]string{"yes": "act"}},
			"act": {ID: "act", Type: models.NodeAction, Recommendation: "Proceed"},
		},
	}

	res := Evaluate(tree, map[string]string{"anything": "whatever"})
	require.NotNil(t, res.Recommendation)
	assert.Equal(t, "Proceed", res.Recommendation.Recommendation)
}

func TestEvaluate_TerminatesOnCycle(t *testing.T) {
	tree := &models.DecisionTree{
		RootNodeID: "a",
		Nodes: models.DecisionNodes{
			"a": {ID: "a", Type: models.NodeCondition, Field: "x", Operator: models.OperatorEq, Value: "1", TrueChildID: "b", FalseChildID: "b"},
			"b": {ID: "b", Type: models.NodeCondition, Field: "x", Operator: models.OperatorEq, Value: "1", TrueChildID: "a", FalseChildID: "a"},
		},
	}

	res := Evaluate(tree, map[string]string{"x": "1"})
	assert.Len(t, res.Path, MaxSteps)
	assert.Nil(t, res.Recommendation)
}

func TestEvaluate_DanglingChildStops(t *testing.T) {
	tree := &models.DecisionTree{
		RootNodeID: "a",
		Nodes: models.DecisionNodes{
			"a": {ID: "a", Type: models.NodeCondition, Field: "x", Operator: models.OperatorEq, Value: "1", TrueChildID: "gone"},
		},
	}

	res := Evaluate(tree, map[string]string{"x": "1"})
	assert.Len(t, res.Path, 1)
	assert.Nil(t, res.Recommendation)
}

func TestEvaluate_NilTree(t *testing.T) {
	res := Evaluate(nil, nil)
	assert.Empty(t, res.Path)
	assert.Nil(t, res.Recommendation)
}

func TestEvalCondition(t *testing.T) {
	tests := []struct {
		name     string
		op       models.Operator
		actual   string
		expected any
		want     bool
	}{
		{"eq case-insensitive", models.OperatorEq, " Coastal ", "coastal", true},
		{"eq numeric", models.OperatorEq, "45.0", float64(45), true},
		{"eq mismatch", models.OperatorEq, "interior", "coastal", false},
		{"gt numeric", models.OperatorGt, "12", "10", true},
		{"gt non-numeric", models.OperatorGt, "twelve", "10", false},
		{"lt numeric", models.OperatorLt, "3.5", float64(4), true},
		{"lt equal", models.OperatorLt, "4", float64(4), false},
		{"contains", models.OperatorContains, "Reinforced Concrete Slab", "concrete", true},
		{"contains missing", models.OperatorContains, "steel", "concrete", false},
		{"in array", models.OperatorIn, "B", []any{"a", "b", "c"}, true},
		{"in comma string", models.OperatorIn, "c2 ", "C1, C2,C3", true},
		{"in miss", models.OperatorIn, "d", "a,b,c", false},
		{"unknown operator", models.Operator("ne"), "a", "b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalCondition(tt.op, tt.actual, tt.expected))
		})
	}
}

func TestDecisionTreeValidate(t *testing.T) {
	assert.NoError(t, coverTree().Validate())

	tree := coverTree()
	tree.Nodes["thickness"] = models.DecisionNode{
		ID: "thickness", Type: models.NodeCondition, Field: "t", Operator: models.OperatorGt,
		TrueChildID: "missing", FalseChildID: "thin-cover",
	}
	err := tree.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestDecisionTreeFields(t *testing.T) {
	assert.Equal(t, []string{"exposure", "thickness_mm"}, coverTree().Fields())
}
