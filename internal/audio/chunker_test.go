package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunks_TruncatedTail(t *testing.T) {
	spans, err := PlanChunks(37*time.Minute, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, spans, 3)

	assert.Equal(t, Span{Index: 0, Start: 0, Duration: 15 * time.Minute}, spans[0])
	assert.Equal(t, Span{Index: 1, Start: 15 * time.Minute, Duration: 15 * time.Minute}, spans[1])
	assert.Equal(t, Span{Index: 2, Start: 30 * time.Minute, Duration: 7 * time.Minute}, spans[2])
}

func TestPlanChunks_ExactMultiple(t *testing.T) {
	spans, err := PlanChunks(30*time.Minute, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, 15*time.Minute, spans[1].Duration)
}

func TestPlanChunks_ShorterThanOneWindow(t *testing.T) {
	spans, err := PlanChunks(4*time.Minute, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, time.Duration(0), spans[0].Start)
	assert.Equal(t, 4*time.Minute, spans[0].Duration)
}

func TestPlanChunks_CoversWholeStream(t *testing.T) {
	total := 73*time.Minute + 12*time.Second
	spans, err := PlanChunks(total, 15*time.Minute)
	require.NoError(t, err)

	var sum time.Duration
	for i, span := range spans {
		assert.Equal(t, i, span.Index)
		if i > 0 {
			assert.Equal(t, spans[i-1].Start+spans[i-1].Duration, span.Start)
		}
		sum += span.Duration
	}
	assert.Equal(t, total, sum)
}

func TestPlanChunks_ZeroDuration(t *testing.T) {
	_, err := PlanChunks(0, 15*time.Minute)
	assert.ErrorIs(t, err, ErrZeroDuration)

	_, err = PlanChunks(-time.Second, 15*time.Minute)
	assert.ErrorIs(t, err, ErrZeroDuration)
}

func TestPlanChunks_InvalidWindow(t *testing.T) {
	_, err := PlanChunks(10*time.Minute, 0)
	assert.Error(t, err)
}
