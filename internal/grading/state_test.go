package grading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateAdvanceForwardOnly(t *testing.T) {
	state := NewState("1", "2", "", Config{MaxScore: 10})
	require.Equal(t, StatusPending, state.Status)

	require.NoError(t, state.Advance(StatusPreprocessing))
	require.NoError(t, state.Advance(StatusGrading))

	err := state.Advance(StatusPreprocessed)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusGrading, state.Status)

	require.ErrorIs(t, state.Advance(StatusGrading), ErrInvalidTransition)
	require.ErrorIs(t, state.Advance(Status("reviewing")), ErrInvalidTransition)
	require.ErrorIs(t, state.Advance(StatusFailed), ErrInvalidTransition)
}

func TestStateCompletedIsTerminal(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	state := NewState("1", "2", "", Config{MaxScore: 10})
	state.now = func() time.Time { return fixed }

	require.NoError(t, state.Advance(StatusCompleted))
	require.Equal(t, fixed, state.FinishedAt)
	require.True(t, state.Status.Terminal())

	require.ErrorIs(t, state.Advance(StatusAnnotating), ErrInvalidTransition)

	state.Fail("late failure")
	require.Equal(t, StatusCompleted, state.Status)
	require.Empty(t, state.ErrorMessage)

	events := len(state.Events)
	state.Warn("ignored")
	state.Record("grading", "ignored")
	require.Len(t, state.Events, events)
	require.Empty(t, state.Warnings)
}

func TestStateFailRecordsMessage(t *testing.T) {
	state := NewState("1", "2", "", Config{MaxScore: 10})
	require.NoError(t, state.Advance(StatusPreprocessing))

	state.Fail("no text")
	require.Equal(t, StatusFailed, state.Status)
	require.Equal(t, "no text", state.ErrorMessage)
	require.False(t, state.FinishedAt.IsZero())

	last := state.Events[len(state.Events)-1]
	require.Equal(t, string(StatusFailed), last.Stage)
	require.Equal(t, "no text", last.Message)

	require.ErrorIs(t, state.Advance(StatusCompleted), ErrInvalidTransition)
}

func TestStateForQuestionOverridesMaxScore(t *testing.T) {
	state := NewState("1", "2", "7", Config{MaxScore: 30, Strictness: StrictnessStrict, Subject: "math"})
	state.Mode = ModePremium

	q := state.forQuestion("1. 3+4=7", 10)
	require.Equal(t, 10.0, q.Config.MaxScore)
	require.Equal(t, 30.0, state.Config.MaxScore)
	require.Equal(t, StrictnessStrict, q.Config.Strictness)
	require.Equal(t, ModePremium, q.Mode)
	require.Equal(t, "1. 3+4=7", q.ExtractedText)
	require.Equal(t, StatusGrading, q.Status)
}
