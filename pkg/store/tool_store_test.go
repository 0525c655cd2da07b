package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/test/util"
)

func newTestToolStore(t *testing.T) *ToolStore {
	db := util.SetupTestDatabase(t)
	return NewToolStore(db)
}

func sampleTool(name string) *models.Tool {
	return &models.Tool{
		Name:        name,
		Description: "Reverses the characters of a string",
		Category:    "text",
		Tags:        []string{"string", "text"},
		RequiredParams: []models.ParamSpec{
			{Name: "text", Type: "string"},
		},
		OptionalParams: map[string]any{"uppercase": false},
		Code:           "result = params['text'][::-1]",
		Active:         true,
	}
}

func TestToolStoreCreateGetRoundTrip(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	tool := sampleTool("reverse_string")
	require.NoError(t, s.Create(ctx, tool))
	require.NotEmpty(t, tool.ID)

	got, err := s.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, "reverse_string", got.Name)
	assert.Equal(t, []string{"string", "text"}, got.Tags)
	require.Len(t, got.RequiredParams, 1)
	assert.Equal(t, "text", got.RequiredParams[0].Name)
	assert.Equal(t, "string", got.RequiredParams[0].Type)
	assert.True(t, got.Active)
	assert.False(t, got.Bugged)
	assert.Equal(t, 0, got.ExecutionCount)
	assert.Nil(t, got.LastExecutedAt)

	byName, err := s.GetByName(ctx, "reverse_string")
	require.NoError(t, err)
	assert.Equal(t, tool.ID, byName.ID)
}

func TestToolStoreDuplicateName(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleTool("dup_tool")))
	err := s.Create(ctx, sampleTool("dup_tool"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestToolStoreListFilters(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	active := sampleTool("active_tool")
	require.NoError(t, s.Create(ctx, active))

	inactive := sampleTool("inactive_tool")
	inactive.Active = false
	require.NoError(t, s.Create(ctx, inactive))

	bugged := sampleTool("bugged_tool")
	bugged.Bugged = true
	require.NoError(t, s.Create(ctx, bugged))

	mathTool := sampleTool("math_tool")
	mathTool.Category = "math"
	require.NoError(t, s.Create(ctx, mathTool))

	all, err := s.List(ctx, ToolFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	activeOnly, err := s.List(ctx, ToolFilter{ActiveOnly: true, ExcludeBugged: true})
	require.NoError(t, err)
	names := make([]string, 0, len(activeOnly))
	for _, tl := range activeOnly {
		names = append(names, tl.Name)
	}
	assert.ElementsMatch(t, []string{"active_tool", "math_tool"}, names)

	math, err := s.List(ctx, ToolFilter{Category: "math"})
	require.NoError(t, err)
	require.Len(t, math, 1)
	assert.Equal(t, "math_tool", math[0].Name)

	buggedList, err := s.ListBugged(ctx)
	require.NoError(t, err)
	require.Len(t, buggedList, 1)
	assert.Equal(t, "bugged_tool", buggedList[0].Name)
}

func TestToolStoreUpdate(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	tool := sampleTool("update_me")
	require.NoError(t, s.Create(ctx, tool))

	tool.Description = "Updated description"
	tool.Category = "utility"
	tool.Active = false
	require.NoError(t, s.Update(ctx, tool))

	got, err := s.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, "Updated description", got.Description)
	assert.Equal(t, "utility", got.Category)
	assert.False(t, got.Active)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))
}

func TestToolStoreDelete(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	tool := sampleTool("delete_me")
	require.NoError(t, s.Create(ctx, tool))
	require.NoError(t, s.Delete(ctx, tool.ID))

	_, err := s.Get(ctx, tool.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, tool.ID), ErrNotFound)
}

func TestToolStoreRecordSuccess(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	tool := sampleTool("counter_tool")
	require.NoError(t, s.Create(ctx, tool))

	require.NoError(t, s.RecordSuccess(ctx, tool.ID))
	require.NoError(t, s.RecordSuccess(ctx, tool.ID))

	got, err := s.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ExecutionCount)
	assert.NotNil(t, got.LastExecutedAt)
	assert.False(t, got.Bugged)
}

func TestToolStoreQuarantineOnSharedWindow(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	tool := sampleTool("flaky_tool")
	require.NoError(t, s.Create(ctx, tool))

	report := models.BugReport{
		Error:  "division by zero",
		Params: map[string]any{"text": "x"},
		Window: "window-1",
	}

	// First failure in a window records but does not quarantine
	updated, err := s.RecordFailure(ctx, tool.ID, report)
	require.NoError(t, err)
	assert.False(t, updated.Bugged)
	assert.Equal(t, 1, updated.BugCount)
	require.Len(t, updated.FailureLog, 1)
	assert.NotNil(t, updated.FirstFailureAt)

	// A failure in a different window still does not quarantine
	report.Window = "window-2"
	updated, err = s.RecordFailure(ctx, tool.ID, report)
	require.NoError(t, err)
	assert.False(t, updated.Bugged)
	assert.Equal(t, 2, updated.BugCount)

	// Second failure in window-2 quarantines the tool
	updated, err = s.RecordFailure(ctx, tool.ID, report)
	require.NoError(t, err)
	assert.True(t, updated.Bugged)
	assert.Equal(t, 3, updated.BugCount)
	require.Len(t, updated.FailureLog, 3)
	assert.Equal(t, "division by zero", updated.LastError())
}

func TestToolStoreQuarantineOnWindowlessFailure(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	tool := sampleTool("direct_exec_tool")
	require.NoError(t, s.Create(ctx, tool))

	// A failure with no invocation window has no retry grace
	updated, err := s.RecordFailure(ctx, tool.ID, models.BugReport{
		Error:  "KeyError: 'a'",
		Params: map[string]any{"b": 1},
	})
	require.NoError(t, err)
	assert.True(t, updated.Bugged)
	assert.Equal(t, 1, updated.BugCount)
	assert.Equal(t, 1, updated.ExecutionCount)
	require.Len(t, updated.FailureLog, 1)
	assert.Equal(t, "KeyError: 'a'", updated.LastError())
}

func TestToolStoreClearBugKeepsLog(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	tool := sampleTool("recovering_tool")
	require.NoError(t, s.Create(ctx, tool))

	report := models.BugReport{Error: "boom", Window: "w"}
	_, err := s.RecordFailure(ctx, tool.ID, report)
	require.NoError(t, err)
	updated, err := s.RecordFailure(ctx, tool.ID, report)
	require.NoError(t, err)
	require.True(t, updated.Bugged)

	require.NoError(t, s.ClearBug(ctx, tool.ID))

	got, err := s.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.False(t, got.Bugged)
	// The failure log is append-only history and survives the clear
	assert.Len(t, got.FailureLog, 2)
}

func TestToolStoreDeactivate(t *testing.T) {
	s := newTestToolStore(t)
	ctx := context.Background()

	tool := sampleTool("retiree")
	require.NoError(t, s.Create(ctx, tool))
	require.NoError(t, s.Deactivate(ctx, tool.ID))

	got, err := s.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}
