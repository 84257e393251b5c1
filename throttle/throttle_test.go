package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottlerBackoff(t *testing.T) {
	th := New(1*time.Second, 8*time.Second)
	assert.False(t, th.Active())

	assert.Equal(t, 1*time.Second, th.Failure())
	assert.True(t, th.Active())
	assert.Equal(t, 2*time.Second, th.Failure())
	assert.Equal(t, 4*time.Second, th.Failure())
	assert.Equal(t, 8*time.Second, th.Failure())
	// Capped.
	assert.Equal(t, 8*time.Second, th.Failure())

	th.Success()
	assert.False(t, th.Active())
	assert.Equal(t, 1*time.Second, th.Failure())
}

func TestThrottlerDefaults(t *testing.T) {
	th := New(0, 0)
	assert.Equal(t, DefaultInitial, th.Failure())
}
