package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/taskgraph/internal/models"
)

func TestWorkflowBuilder(t *testing.T) {
	design := models.NewTask("design", "Design the API", "research_api", "research_auth")
	serial := models.NewTask("research_auth", "Research auth methods")
	serial.CanParallel = false

	b := NewWorkflowBuilder().
		AddParallel(models.NewTask("research_api", "Research REST API patterns"), serial).
		Add(design).
		AddSequence(
			models.NewTask("implement", "Implement the API", "design"),
			models.NewTask("test", "Write tests"),
			models.NewTask("release", "Cut a release"),
		)

	tasks := b.Tasks()
	require.Len(t, tasks, 6)

	byID := make(map[string]models.Task)
	for _, task := range tasks {
		byID[task.ID] = task
	}

	assert.True(t, byID["research_auth"].CanParallel, "AddParallel marks tasks parallel-safe")
	assert.Equal(t, []string{"design"}, byID["implement"].DependsOn)
	assert.Equal(t, []string{"implement"}, byID["test"].DependsOn)
	assert.Equal(t, []string{"test"}, byID["release"].DependsOn)
	for _, id := range []string{"implement", "test", "release"} {
		assert.False(t, byID[id].CanParallel, id)
	}

	g, err := b.Build()
	require.NoError(t, err)

	var order [][]string
	for _, batch := range g.ExecutionOrder() {
		order = append(order, batch.TaskIDs)
	}
	assert.Equal(t, [][]string{
		{"research_api", "research_auth"},
		{"design"},
		{"implement"},
		{"test"},
		{"release"},
	}, order)
}

func TestWorkflowBuilder_SequenceKeepsExistingDependency(t *testing.T) {
	b := NewWorkflowBuilder().AddSequence(
		models.NewTask("a", "first"),
		models.NewTask("b", "second", "a"),
	)
	tasks := b.Tasks()
	assert.Equal(t, []string{"a"}, tasks[1].DependsOn)
}

func TestWorkflowBuilder_BuildFailsOnCycle(t *testing.T) {
	_, err := NewWorkflowBuilder().
		Add(models.NewTask("a", "x", "b")).
		Add(models.NewTask("b", "y", "a")).
		Build()
	assert.ErrorIs(t, err, ErrCycle)
}
