// Package execution invokes the resolved handlers of one cycle under a
// lifecycle policy, interprets their errors into outcomes, and applies the
// backoff math.
package execution

import (
	"math/rand"
	"sort"

	"github.com/kubereactor/kreactor/registry"
	"github.com/kubereactor/kreactor/states"
)

// Policy selects which subset and order of the due handlers run this cycle.
type Policy int

const (
	// ASAP prioritizes the least-tried handler, so multiple handlers
	// interleave their retries fairly instead of one hogging every cycle.
	// This is the default policy.
	ASAP Policy = iota

	// AllAtOnce runs every due handler, in registration order.
	AllAtOnce

	// OneByOne runs only the first due handler.
	OneByOne

	// Randomized runs one randomly picked due handler.
	Randomized

	// Shuffled runs every due handler, in random order.
	Shuffled
)

func (p Policy) String() string {
	switch p {
	case AllAtOnce:
		return "all-at-once"
	case OneByOne:
		return "one-by-one"
	case Randomized:
		return "randomized"
	case Shuffled:
		return "shuffled"
	default:
		return "asap"
	}
}

// Select applies the policy to the due handlers of a cycle.
func (p Policy) Select(due []*registry.Handler, cycle states.Cycle) []*registry.Handler {
	if len(due) == 0 {
		return nil
	}
	switch p {
	case AllAtOnce:
		return due
	case OneByOne:
		return due[:1]
	case Randomized:
		return []*registry.Handler{due[rand.Intn(len(due))]}
	case Shuffled:
		shuffled := append([]*registry.Handler{}, due...)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		return shuffled
	default:
		sorted := append([]*registry.Handler{}, due...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return retriesOf(sorted[i], cycle) < retriesOf(sorted[j], cycle)
		})
		return sorted[:1]
	}
}

func retriesOf(h *registry.Handler, cycle states.Cycle) int {
	if state, ok := cycle[h.ID]; ok {
		return state.Retries
	}
	return 0
}
