package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStageProgression(t *testing.T) {
	next, ok := StageInitial.Next()
	require.True(t, ok)
	require.Equal(t, StageAmendment1, next)

	next, ok = StageAmendment1.Next()
	require.True(t, ok)
	require.Equal(t, StageAmendment2, next)

	_, ok = StageAmendment2.Next()
	require.False(t, ok)

	_, ok = StageInitial.Prev()
	require.False(t, ok)

	prev, ok := StageAmendment2.Prev()
	require.True(t, ok)
	require.Equal(t, StageAmendment1, prev)
}

func TestParseStage(t *testing.T) {
	for _, s := range []Stage{StageInitial, StageAmendment1, StageAmendment2} {
		parsed, err := ParseStage(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseStage("AMENDMENT_3")
	require.Error(t, err)
}

func TestRecordState(t *testing.T) {
	rec := Record{Stage: StageAmendment1}
	require.Equal(t, "DRAFT_AMENDMENT_1", rec.State())
	rec.IsValidated = true
	require.Equal(t, "VALIDATED_AMENDMENT_1", rec.State())
}

func TestEverValidated(t *testing.T) {
	rec := Record{}
	require.False(t, rec.EverValidated())
	at := time.Now()
	rec.ValidatedAt = &at
	rec.IsValidated = false
	require.True(t, rec.EverValidated())
}
