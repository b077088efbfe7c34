package persona

import (
	"math/rand"
	"sync"
	"time"
)

// FlavorSelector picks a flavor line uniformly at random from a fixed pool.
type FlavorSelector struct {
	mu   sync.Mutex
	rnd  *rand.Rand
	pool []string
}

// NewSource returns a deterministic source for a non-zero seed and a
// time-seeded one otherwise.
func NewSource(seed int64) rand.Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.NewSource(seed)
}

func NewFlavorSelector(pool []string, src rand.Source) *FlavorSelector {
	if src == nil {
		src = NewSource(0)
	}
	return &FlavorSelector{
		rnd:  rand.New(src),
		pool: append([]string(nil), pool...),
	}
}

func (f *FlavorSelector) Pick() string {
	if len(f.pool) == 0 {
		return ""
	}
	f.mu.Lock()
	i := f.rnd.Intn(len(f.pool))
	f.mu.Unlock()
	return f.pool[i]
}

func (f *FlavorSelector) Pool() []string {
	return append([]string(nil), f.pool...)
}
