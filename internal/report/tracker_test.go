package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollub/guardlink/internal/types"
)

func TestLifecycleHappyPath(t *testing.T) {
	tr := NewTracker()
	require.Equal(t, types.ReportStateNone, tr.State())

	assert.True(t, tr.Apply(types.ReportStateWaiting))
	assert.Equal(t, types.ReportStateWaiting, tr.State())

	assert.True(t, tr.Apply(types.ReportStateConfirmed))
	assert.Equal(t, types.ReportStateConfirmed, tr.State())

	assert.True(t, tr.Apply(types.ReportStateNone))
	assert.Equal(t, types.ReportStateNone, tr.State())
}

func TestConfirmedUnreachableFromNone(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Apply(types.ReportStateConfirmed))
	assert.Equal(t, types.ReportStateNone, tr.State())
}

func TestConfirmedResetsWithoutRevisitingWaiting(t *testing.T) {
	tr := NewTracker()
	tr.Begin()
	require.True(t, tr.Apply(types.ReportStateConfirmed))

	tr.Reset()
	require.Equal(t, types.ReportStateNone, tr.State())

	// After a reset, CONFIRMED requires WAITING again.
	assert.False(t, tr.Apply(types.ReportStateConfirmed))
}

func TestInvalidStateRejected(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Apply(types.ReportState("EXPLODED")))
	assert.Equal(t, types.ReportStateNone, tr.State())
}

func TestObserverSeesEveryChangeOnce(t *testing.T) {
	tr := NewTracker()
	var seen []types.ReportState
	tr.Observe(func(s types.ReportState) { seen = append(seen, s) })

	tr.Begin()
	tr.Begin() // same state, no notification
	tr.Apply(types.ReportStateConfirmed)
	tr.Reset()

	assert.Equal(t, []types.ReportState{
		types.ReportStateWaiting,
		types.ReportStateConfirmed,
		types.ReportStateNone,
	}, seen)
}

func TestObserverSlotIsSingle(t *testing.T) {
	tr := NewTracker()
	var first, second int
	tr.Observe(func(types.ReportState) { first++ })
	tr.Observe(func(types.ReportState) { second++ })

	tr.Begin()

	assert.Zero(t, first, "replaced observer must not fire")
	assert.Equal(t, 1, second)
}
