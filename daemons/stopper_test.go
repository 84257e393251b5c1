package daemons

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStopReasonString(t *testing.T) {
	assert.Equal(t, "none", StopReasonNone.String())
	assert.Equal(t, "filters-mismatch", StopReasonFiltersMismatch.String())
	assert.Equal(t, "resource-deleted+operator-exiting",
		(StopReasonResourceDeleted | StopReasonOperatorExiting).String())
}

func TestStopperAccumulatesReasons(t *testing.T) {
	s := NewStopper()
	now := time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)

	assert.False(t, s.IsSet())
	_, ok := s.SetAt()
	assert.False(t, ok)

	select {
	case <-s.Done():
		t.Fatal("the stop channel must stay open until the first set")
	default:
	}

	s.Set(StopReasonFiltersMismatch, now)
	assert.True(t, s.IsSet())
	at, ok := s.SetAt()
	assert.True(t, ok)
	assert.Equal(t, now, at)

	select {
	case <-s.Done():
	default:
		t.Fatal("the stop channel must be closed after the first set")
	}

	// A second set only accumulates the reason; the time stays put.
	s.Set(StopReasonOperatorExiting, now.Add(time.Minute))
	at, _ = s.SetAt()
	assert.Equal(t, now, at)
	assert.Equal(t, StopReasonFiltersMismatch|StopReasonOperatorExiting, s.Reason())
}
