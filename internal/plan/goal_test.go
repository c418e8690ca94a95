package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planforge/planforge/internal/types"
)

const testNow int64 = 1_700_000_000_000

func threeSpecs() []StepSpec {
	return []StepSpec{
		{ID: "fetch", Name: "Fetch", Action: "fetch_data", Duration: 1000},
		{ID: "transform", Name: "Transform", Action: "transform_data", Duration: 2000},
		{ID: "publish", Name: "Publish", Action: "publish_data", Duration: 500},
	}
}

func TestDecompose_Sequential(t *testing.T) {
	steps, err := Decompose(Goal{
		Type:  GoalSequential,
		Name:  "pipeline",
		Steps: threeSpecs(),
	}, testNow)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Empty(t, steps[0].DependsOn)
	assert.Equal(t, []string{"fetch"}, steps[1].DependsOn)
	assert.Equal(t, []string{"transform"}, steps[2].DependsOn)
	for _, s := range steps {
		assert.Equal(t, StepStatusPending, s.Status)
	}
}

func TestDecompose_SequentialKeepsDeclaredDeps(t *testing.T) {
	specs := threeSpecs()
	specs[2].DependsOn = []string{"fetch"}

	steps, err := Decompose(Goal{Type: GoalSequential, Name: "pipeline", Steps: specs}, testNow)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fetch", "transform"}, steps[2].DependsOn)
}

func TestDecompose_Parallel(t *testing.T) {
	specs := threeSpecs()
	specs[2].DependsOn = []string{"fetch", "transform"}

	steps, err := Decompose(Goal{Type: GoalParallel, Name: "fanout", Steps: specs}, testNow)
	require.NoError(t, err)

	assert.Empty(t, steps[0].DependsOn)
	assert.Empty(t, steps[1].DependsOn)
	assert.Equal(t, []string{"fetch", "transform"}, steps[2].DependsOn)
}

func TestDecompose_Conditional(t *testing.T) {
	steps, err := Decompose(Goal{
		Type:      GoalConditional,
		Name:      "guarded",
		Condition: "input.size > 0",
		Steps:     threeSpecs(),
	}, testNow)
	require.NoError(t, err)

	for _, s := range steps {
		assert.Equal(t, "input.size > 0", s.Input["condition"])
	}
	// Conditional goals still chain sequentially.
	assert.Equal(t, []string{"fetch"}, steps[1].DependsOn)
}

func TestDecompose_Iterative(t *testing.T) {
	specs := []StepSpec{
		{ID: "probe", Name: "Probe", Action: "probe", Duration: 100},
		{ID: "record", Name: "Record", Action: "record", Duration: 100, DependsOn: []string{"probe"}},
	}

	steps, err := Decompose(Goal{
		Type:       GoalIterative,
		Name:       "sampling",
		Steps:      specs,
		Iterations: 3,
	}, testNow)
	require.NoError(t, err)
	require.Len(t, steps, 6)

	assert.Equal(t, "probe-i1", steps[0].ID)
	assert.Equal(t, "record-i1", steps[1].ID)
	assert.Equal(t, "probe-i2", steps[2].ID)

	// Intra-iteration dependencies are rewritten to the suffixed ids.
	assert.Equal(t, []string{"probe-i2"}, steps[3].DependsOn)

	// Each iteration's first step chains onto the previous iteration's last.
	assert.Contains(t, steps[2].DependsOn, "record-i1")
	assert.Contains(t, steps[4].DependsOn, "record-i2")
}

func TestDecompose_IterativeDefaultsToOneIteration(t *testing.T) {
	steps, err := Decompose(Goal{
		Type:  GoalIterative,
		Name:  "once",
		Steps: []StepSpec{{ID: "only", Name: "Only", Action: "run", Duration: 100}},
	}, testNow)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "only-i1", steps[0].ID)
}

func TestDecompose_SubGoals(t *testing.T) {
	steps, err := Decompose(Goal{
		Type: GoalSequential,
		Name: "release",
		Steps: []StepSpec{
			{ID: "build", Name: "Build", Action: "build", Duration: 1000},
		},
		SubGoals: []Goal{
			{
				Type: GoalSequential,
				Name: "verify",
				Steps: []StepSpec{
					{ID: "test", Name: "Test", Action: "test", Duration: 2000},
					{ID: "lint", Name: "Lint", Action: "lint", Duration: 500},
				},
			},
		},
	}, testNow)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	// Sub-goal steps are flattened after the parent's and chained through.
	assert.Equal(t, []string{"build"}, steps[1].DependsOn)
	assert.Equal(t, []string{"test"}, steps[2].DependsOn)
}

func TestDecompose_GeneratedIDs(t *testing.T) {
	steps, err := Decompose(Goal{
		Type: GoalDefault,
		Name: "anonymous",
		Steps: []StepSpec{
			{Name: "First", Action: "run", Duration: 100},
			{Name: "Second", Action: "run", Duration: 100},
		},
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, "step-1", steps[0].ID)
	assert.Equal(t, "step-2", steps[1].ID)
}

func TestDecompose_NotBeforeExpression(t *testing.T) {
	steps, err := Decompose(Goal{
		Type: GoalDefault,
		Name: "delayed",
		Steps: []StepSpec{
			{ID: "wait", Name: "Wait", Action: "run", Duration: 100, NotBefore: "in 2 hours"},
		},
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, testNow+2*60*60*1000, steps[0].Constraints.NotBefore)
}

func TestDecompose_Errors(t *testing.T) {
	tests := []struct {
		name string
		goal Goal
	}{
		{"unknown goal type", Goal{Type: "recursive", Name: "bad", Steps: threeSpecs()}},
		{"no steps", Goal{Type: GoalSequential, Name: "empty"}},
		{
			"bad notBefore expression",
			Goal{Type: GoalDefault, Name: "bad-time", Steps: []StepSpec{
				{ID: "a", Name: "A", Action: "run", Duration: 100, NotBefore: "whenever"},
			}},
		},
		{
			"missing action",
			Goal{Type: GoalDefault, Name: "no-action", Steps: []StepSpec{
				{ID: "a", Name: "A", Duration: 100},
			}},
		},
		{
			"negative duration",
			Goal{Type: GoalDefault, Name: "negative", Steps: []StepSpec{
				{ID: "a", Name: "A", Action: "run", Duration: -1},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompose(tt.goal, testNow)
			require.Error(t, err)
			assert.Equal(t, types.INVALID_GOAL, types.CodeOf(err))
		})
	}
}

func TestGoalType_Valid(t *testing.T) {
	for _, gt := range []GoalType{GoalSequential, GoalParallel, GoalConditional, GoalIterative, GoalDefault} {
		assert.True(t, gt.Valid(), string(gt))
	}
	assert.False(t, GoalType("").Valid())
	assert.False(t, GoalType("recursive").Valid())
}
