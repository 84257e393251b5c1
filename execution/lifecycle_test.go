package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kubereactor/kreactor/handling"
	"github.com/kubereactor/kreactor/registry"
	"github.com/kubereactor/kreactor/states"
)

func handlersNamed(ids ...string) []*registry.Handler {
	var out []*registry.Handler
	for _, id := range ids {
		out = append(out, &registry.Handler{ID: id})
	}
	return out
}

func cycleWithRetries(retries map[string]int) states.Cycle {
	anchor := time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)
	cycle := states.Cycle{}
	for id, n := range retries {
		state := states.NewFromScratch(anchor)
		for i := 0; i < n; i++ {
			state = state.WithOutcome(handling.Outcome{Err: assert.AnError}, anchor)
		}
		cycle[id] = state
	}
	return cycle
}

func TestPolicySelect(t *testing.T) {
	due := handlersNamed("a", "b", "c")

	t.Run("asap picks the least tried handler", func(t *testing.T) {
		cycle := cycleWithRetries(map[string]int{"a": 2, "b": 0, "c": 1})
		picked := ASAP.Select(due, cycle)
		assert.Len(t, picked, 1)
		assert.Equal(t, "b", picked[0].ID)
	})

	t.Run("asap breaks ties by registration order", func(t *testing.T) {
		cycle := cycleWithRetries(map[string]int{"a": 1, "b": 1, "c": 1})
		picked := ASAP.Select(due, cycle)
		assert.Len(t, picked, 1)
		assert.Equal(t, "a", picked[0].ID)
	})

	t.Run("asap treats unknown handlers as untried", func(t *testing.T) {
		cycle := cycleWithRetries(map[string]int{"a": 1})
		picked := ASAP.Select(due, cycle)
		assert.Equal(t, "b", picked[0].ID)
	})

	t.Run("all-at-once keeps everything in order", func(t *testing.T) {
		picked := AllAtOnce.Select(due, states.Cycle{})
		assert.Equal(t, due, picked)
	})

	t.Run("one-by-one takes the first", func(t *testing.T) {
		picked := OneByOne.Select(due, states.Cycle{})
		assert.Len(t, picked, 1)
		assert.Equal(t, "a", picked[0].ID)
	})

	t.Run("randomized takes exactly one of the due", func(t *testing.T) {
		picked := Randomized.Select(due, states.Cycle{})
		assert.Len(t, picked, 1)
		assert.Contains(t, []string{"a", "b", "c"}, picked[0].ID)
	})

	t.Run("shuffled keeps the full set", func(t *testing.T) {
		picked := Shuffled.Select(due, states.Cycle{})
		assert.Len(t, picked, 3)
		seen := map[string]bool{}
		for _, h := range picked {
			seen[h.ID] = true
		}
		assert.Len(t, seen, 3)
	})

	t.Run("nothing due selects nothing", func(t *testing.T) {
		for _, p := range []Policy{ASAP, AllAtOnce, OneByOne, Randomized, Shuffled} {
			assert.Nil(t, p.Select(nil, states.Cycle{}), p.String())
		}
	})
}
