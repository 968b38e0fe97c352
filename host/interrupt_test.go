package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softhcd/host/hal"
	"github.com/ardnew/softhcd/host/hal/sim"
)

// =============================================================================
// Interrupt Classification Tests
// =============================================================================

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "ATTCH", EventATTCH.String())
	assert.Equal(t, "NRDY", EventNRDY.String())
	assert.Equal(t, "SOF", EventSOF.String())
	assert.Equal(t, "?", EventKind(50).String())
}

func TestClassify_Order(t *testing.T) {
	st := hal.Status{
		Causes: hal.CauseSOF | hal.CauseSIGN | hal.CauseATTCH,
		Port:   1,
		BRDY:   1<<3 | 1<<0,
		NRDY:   1 << 2,
	}

	assert.Equal(t, []Event{
		{Kind: EventATTCH, Port: 1},
		{Kind: EventSIGN, Port: 1},
		{Kind: EventBRDY, Pipe: 0},
		{Kind: EventBRDY, Pipe: 3},
		{Kind: EventNRDY, Pipe: 2},
		{Kind: EventSOF},
	}, Classify(st))
}

func TestClassify_Empty(t *testing.T) {
	assert.Empty(t, Classify(hal.Status{}))
}

func TestClassify_AllPipes(t *testing.T) {
	ev := Classify(hal.Status{BEMP: 1<<MaxPipes - 1})
	require.Len(t, ev, MaxPipes)
	for i, e := range ev {
		assert.Equal(t, EventBEMP, e.Kind)
		assert.Equal(t, i, e.Pipe)
	}
}

func TestHandleInterrupt_NotRunning(t *testing.T) {
	h := New(sim.New(1))
	assert.False(t, h.HandleInterrupt())
}
