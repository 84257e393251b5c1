package handling

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	perm := &PermanentError{Err: errors.New("bad spec")}

	assert.True(t, IsPermanent(perm))
	assert.True(t, IsPermanent(errors.Wrap(perm, "while handling")))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.False(t, IsPermanent(&TemporaryError{Err: errors.New("x")}))
	assert.False(t, IsPermanent(nil))
}

func TestIsTemporary(t *testing.T) {
	cases := []struct {
		name         string
		err          error
		wantDelay    time.Duration
		wantHasDelay bool
		wantIs       bool
	}{
		{
			name:   "plain error is not temporary",
			err:    errors.New("plain"),
			wantIs: false,
		},
		{
			name:   "temporary without delay",
			err:    &TemporaryError{Err: errors.New("x")},
			wantIs: true,
		},
		{
			name:         "temporary with delay",
			err:          &TemporaryError{Err: errors.New("x"), Delay: 30 * time.Second, HasDelay: true},
			wantDelay:    30 * time.Second,
			wantHasDelay: true,
			wantIs:       true,
		},
		{
			name:         "wrapped temporary keeps the delay",
			err:          errors.Wrap(&TemporaryError{Err: errors.New("x"), Delay: time.Second, HasDelay: true}, "context"),
			wantDelay:    time.Second,
			wantHasDelay: true,
			wantIs:       true,
		},
		{
			name:   "permanent is not temporary",
			err:    &PermanentError{Err: errors.New("x")},
			wantIs: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			delay, hasDelay, is := IsTemporary(tc.err)
			assert.Equal(t, tc.wantIs, is)
			assert.Equal(t, tc.wantHasDelay, hasDelay)
			assert.Equal(t, tc.wantDelay, delay)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	timeout := &TimeoutError{HandlerID: "h", Timeout: time.Minute}
	assert.Contains(t, timeout.Error(), "h")

	exceeded := &RetriesExceededError{HandlerID: "h", Retries: 3}
	assert.Contains(t, exceeded.Error(), "h")
}
