package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGradeLevel(t *testing.T) {
	require.Equal(t, "A", GradeLevel(100))
	require.Equal(t, "A", GradeLevel(90))
	require.Equal(t, "B", GradeLevel(89.99))
	require.Equal(t, "C", GradeLevel(70))
	require.Equal(t, "D", GradeLevel(60))
	require.Equal(t, "F", GradeLevel(59.5))
	require.Equal(t, "F", GradeLevel(0))
}

func TestCompileCompletedState(t *testing.T) {
	state := NewState("5", "6", "", Config{MaxScore: 30})
	state.Score = 23.456
	state.Confidence = 0.8666
	state.Mode = ModeStandard
	require.NoError(t, state.Advance(StatusCompleted))

	record := Compile(state)
	require.Equal(t, StatusCompleted, record.Status)
	require.Equal(t, 23.46, record.Score)
	require.Equal(t, 78.19, record.Percentage)
	require.Equal(t, "C", record.GradeLevel)
	require.Equal(t, 0.87, record.Confidence)
	require.Equal(t, ModeStandard, record.GradingMode)
	require.NotNil(t, record.Errors)
	require.NotNil(t, record.GradingResults)
	require.NotNil(t, record.Warnings)
	require.Equal(t, state.FinishedAt, record.CompletedAt)
}

func TestCompileFailedState(t *testing.T) {
	state := NewState("5", "6", "", Config{MaxScore: 30})
	state.Score = 12
	state.Fail("validation: files: submission has no files")

	record := Compile(state)
	require.Equal(t, StatusFailed, record.Status)
	require.Zero(t, record.Score)
	require.Equal(t, 30.0, record.MaxScore)
	require.Equal(t, "validation: files: submission has no files", record.ErrorMessage)
	require.NotNil(t, record.KnowledgePoints)
	require.NotNil(t, record.AnnotatedResults)

	running := NewState("5", "6", "", Config{MaxScore: 30})
	require.Equal(t, "grading did not complete", Compile(running).ErrorMessage)
}

func TestAssemblePersists(t *testing.T) {
	store := &memResultStore{}
	state := NewState("5", "6", "", Config{MaxScore: 10})
	state.Score = 10
	require.NoError(t, state.Advance(StatusCompleted))

	record := NewResultAssembler(store, testLogger()).Assemble(context.Background(), state)
	require.Equal(t, StatusCompleted, record.Status)
	require.Equal(t, record, store.saved["5"])
}

func TestAssemblePersistenceFailureFailsRecord(t *testing.T) {
	store := &memResultStore{err: errors.New("deadlock detected")}
	state := NewState("5", "6", "", Config{MaxScore: 10})
	state.Score = 10
	require.NoError(t, state.Advance(StatusCompleted))

	record := NewResultAssembler(store, testLogger()).Assemble(context.Background(), state)
	require.Equal(t, StatusFailed, record.Status)
	require.Zero(t, record.Score)
	require.Contains(t, record.ErrorMessage, "result_store save: deadlock detected")
}
