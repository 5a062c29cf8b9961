package validation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agentgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

func newAgent(id string, timeout int, deps ...string) types.Agent {
	return types.Agent{
		ID:             id,
		Name:           strings.ToUpper(id),
		SystemPrompt:   "You are " + id,
		Temperature:    0.7,
		MaxTokens:      2000,
		TimeoutSeconds: timeout,
		DependsOn:      deps,
	}
}

func baseTemplate(mode types.WorkflowMode, agents ...types.Agent) *types.WorkflowTemplate {
	return &types.WorkflowTemplate{
		Name:        "pipeline",
		Description: "test pipeline",
		Agents:      agents,
		Workflow: types.WorkflowConfig{
			Mode:               mode,
			CompletionStrategy: types.CompletionAll,
			TimeoutSeconds:     1800,
		},
	}
}

func fields(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Field)
	}
	return out
}

func TestValidate_ValidTemplates(t *testing.T) {
	tests := []struct {
		name string
		tmpl *types.WorkflowTemplate
	}{
		{"sequential", baseTemplate(types.ModeSequential, newAgent("a", 300), newAgent("b", 300))},
		{"parallel", baseTemplate(types.ModeParallel, newAgent("a", 300), newAgent("b", 300))},
		{"conditional", baseTemplate(types.ModeConditional, newAgent("a", 300), newAgent("b", 300, "a"))},
		{"default mode", baseTemplate("", newAgent("a", 300))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.tmpl)
			assert.True(t, result.Valid, "unexpected issues: %+v", result.Issues)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestValidate_NilTemplate(t *testing.T) {
	result := Validate(nil)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"template"}, fields(result.Errors))
}

func TestValidate_ThresholdAboveAgentCount(t *testing.T) {
	tmpl := baseTemplate(types.ModeParallel, newAgent("a", 300), newAgent("b", 300), newAgent("c", 300))
	tmpl.Workflow.CompletionStrategy = types.CompletionThreshold
	tmpl.Workflow.RequiredCompletions = 5

	result := Validate(tmpl)
	assert.False(t, result.Valid)
	assert.True(t, result.HasField("workflow.required_completions", SeverityError))
}

func TestValidate_SequentialTimeoutSum(t *testing.T) {
	tmpl := baseTemplate(types.ModeSequential, newAgent("a", 100), newAgent("b", 100), newAgent("c", 100))
	tmpl.Workflow.TimeoutSeconds = 250

	result := Validate(tmpl)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "workflow.timeout_seconds", result.Errors[0].Field)
	assert.Contains(t, result.Errors[0].Message, "300")
	assert.Equal(t, ruleTimeouts, result.Errors[0].Rule)
}

func TestValidate_SelfDependency(t *testing.T) {
	tmpl := baseTemplate(types.ModeConditional, newAgent("A", 300), newAgent("B", 300, "B"))

	result := Validate(tmpl)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "agents[1].depends_on", result.Errors[0].Field)
	assert.Equal(t, ruleSelfDep, result.Errors[0].Rule)
	assert.Contains(t, result.Errors[0].Message, `"B"`)
}

func TestValidate_CycleNamesAgents(t *testing.T) {
	tmpl := baseTemplate(types.ModeConditional, newAgent("a", 300, "c"), newAgent("b", 300, "a"), newAgent("c", 300, "b"))

	result := Validate(tmpl)
	require.True(t, result.HasField("workflow.dependencies", SeverityError))
	for _, is := range result.Errors {
		if is.Rule == ruleCycle {
			assert.Contains(t, is.Message, "a, b, c")
		}
	}
}

func TestValidate_RuleOrderIsStable(t *testing.T) {
	tmpl := baseTemplate(types.ModeSequential, newAgent("a", 10, "ghost"))
	tmpl.Name = ""
	tmpl.Workflow.TimeoutSeconds = 30

	result := Validate(tmpl)
	var order []string
	for _, is := range result.Issues {
		if len(order) == 0 || order[len(order)-1] != is.Rule {
			order = append(order, is.Rule)
		}
	}
	assert.Equal(t, []string{ruleStructural, ruleReferences, ruleMode, ruleTimeouts}, order)
}

func TestValidate_Deterministic(t *testing.T) {
	tmpl := baseTemplate(types.ModeParallel, newAgent("a", 10, "a"), newAgent("a", 300), newAgent("c", 9000))
	tmpl.Workflow.ParallelGroups = [][]string{{"a"}, {}, {"zz"}}
	tmpl.Workflow.CompletionStrategy = types.CompletionThreshold

	first, err := json.Marshal(Validate(tmpl))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := json.Marshal(Validate(tmpl))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestProperty_ValidateIsPure(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 7).Draw(rt, "agents")
		ids := []string{"a", "b", "c", "d", "e", "f", "g"}
		tmpl := &types.WorkflowTemplate{
			Name:        rapid.SampledFrom([]string{"", "wf"}).Draw(rt, "name"),
			Description: "d",
			Workflow: types.WorkflowConfig{
				Mode:                rapid.SampledFrom([]types.WorkflowMode{"", types.ModeSequential, types.ModeParallel, types.ModeConditional}).Draw(rt, "mode"),
				CompletionStrategy:  rapid.SampledFrom([]types.CompletionStrategy{"", types.CompletionAny, types.CompletionThreshold, types.CompletionFirstSuccess}).Draw(rt, "strategy"),
				RequiredCompletions: rapid.IntRange(0, 8).Draw(rt, "required"),
				TimeoutSeconds:      rapid.IntRange(0, 8000).Draw(rt, "wf_timeout"),
			},
		}
		for i := 0; i < n; i++ {
			a := newAgent(ids[i], rapid.IntRange(0, 4000).Draw(rt, "timeout"))
			if i > 0 && rapid.Bool().Draw(rt, "has_dep") {
				a.DependsOn = []string{rapid.SampledFrom(ids[:n]).Draw(rt, "dep")}
			}
			if rapid.Bool().Draw(rt, "hitl") {
				a.HITL = &types.HITLConfig{Enabled: true, TimeoutSeconds: rapid.IntRange(0, 8000).Draw(rt, "hitl_timeout")}
			}
			tmpl.Agents = append(tmpl.Agents, a)
		}

		before, _ := json.Marshal(tmpl)
		r1, _ := json.Marshal(Validate(tmpl))
		r2, _ := json.Marshal(Validate(tmpl))
		after, _ := json.Marshal(tmpl)

		if string(r1) != string(r2) {
			rt.Fatalf("results differ between runs")
		}
		if string(before) != string(after) {
			rt.Fatalf("template mutated by validation")
		}
	})
}

type recordedRun struct {
	mode     string
	valid    bool
	errors   int
	warnings int
}

type fakeRecorder struct{ runs []recordedRun }

func (f *fakeRecorder) RecordValidation(mode string, valid bool, errors, warnings int, _ time.Duration) {
	f.runs = append(f.runs, recordedRun{mode, valid, errors, warnings})
}

func TestEngine_OptionsDoNotChangeResult(t *testing.T) {
	rec := &fakeRecorder{}
	engine := New(WithLogger(zaptest.NewLogger(t)), WithRecorder(rec))

	tmpl := baseTemplate(types.ModeSequential, newAgent("a", 100), newAgent("b", 100), newAgent("c", 100))
	tmpl.Workflow.TimeoutSeconds = 250

	got := engine.Validate(tmpl)
	want := Validate(tmpl)
	assert.Equal(t, want, got)
	require.Len(t, rec.runs, 1)
	assert.Equal(t, recordedRun{"sequential", false, 1, 0}, rec.runs[0])
}

func TestEngine_CustomLimits(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxAgents = 1
	engine := New(WithLimits(limits))

	result := engine.Validate(baseTemplate(types.ModeSequential, newAgent("a", 100), newAgent("b", 100)))
	assert.True(t, result.HasField("agents", SeverityError))
	assert.Equal(t, 1, engine.Limits().MaxAgents)
}
