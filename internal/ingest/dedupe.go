package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultFilterSize is the expected number of distinct matches the
// duplicate filter is sized for.
const DefaultFilterSize = 500000

// dedupe detects a second upload of the same match. The bloom filter answers
// "definitely new" without touching the fact store; a possible hit is
// confirmed against the in-memory index, then the store.
type dedupe struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	index  map[string]FileID
	facts  FactStore
	warm   bool
}

func newDedupe(size uint, facts FactStore) *dedupe {
	if size == 0 {
		size = DefaultFilterSize
	}
	return &dedupe{
		filter: bloom.NewWithEstimates(size, 0.001),
		index:  make(map[string]FileID),
		facts:  facts,
	}
}

// load seeds the filter with every match the store already holds. Until it
// has run, filter misses still fall through to the store.
func (d *dedupe) load(ctx context.Context) (int, error) {
	ids, err := d.facts.MatchIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load match ids: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.filter.AddString(id)
	}
	d.warm = true
	return len(ids), nil
}

// reserve claims matchID for file id. If another file already holds it the
// holder is returned with dup set.
func (d *dedupe) reserve(ctx context.Context, matchID string, id FileID) (FileID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.warm || d.filter.TestString(matchID) {
		if holder, ok := d.index[matchID]; ok {
			return holder, true, nil
		}
		holder, ok, err := d.facts.MatchExists(ctx, matchID)
		if err != nil {
			return "", false, fmt.Errorf("match exists: %w", err)
		}
		if ok {
			return holder, true, nil
		}
	}

	d.filter.AddString(matchID)
	d.index[matchID] = id
	return "", false, nil
}

// release drops a reservation held by id. The filter keeps the match id,
// so later lookups fall through to the index and store.
func (d *dedupe) release(matchID string, id FileID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.index[matchID] == id {
		delete(d.index, matchID)
	}
}
