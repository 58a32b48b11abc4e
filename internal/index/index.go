// Package index is an in-memory vector index partitioned by user.
//
// Each user's partition is written as a whole (Replace) and read many times
// (Query, FilterByDay). A partition swap happens inside one critical
// section, so a concurrent reader sees either the complete old partition or
// the complete new one.
package index

import (
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entry is the searchable form of one timetable period.
type Entry struct {
	// ID is a ULID assigned when the entry is built
	ID string `json:"id"`

	// Vector is the embedding of Text
	Vector []float32 `json:"-"`

	// Text is the synthesized description that was embedded
	Text string `json:"text"`

	Day      string `json:"day"`
	Time     string `json:"time"`
	Subject  string `json:"subject"`
	FullName string `json:"full_name,omitempty"`
	Type     string `json:"type,omitempty"`
	Room     string `json:"room,omitempty"`

	// InsertedAt is when the owning partition was built
	InsertedAt time.Time `json:"inserted_at"`
}

// Match is a query result: an entry and its distance to the query vector.
type Match struct {
	Entry
	Distance float64 `json:"distance"`
}

// Index holds one partition of entries per user.
type Index struct {
	mu         sync.RWMutex
	partitions map[string][]Entry
}

// New returns an empty index.
func New() *Index {
	return &Index{partitions: make(map[string][]Entry)}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a ULID for an entry built at t. IDs minted within one
// millisecond increase monotonically.
func NewID(t time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Replace deletes every entry for userID and inserts entries in their given
// order, as one step. An empty entries slice leaves the partition empty.
func (ix *Index) Replace(userID string, entries []Entry) {
	cloned := cloneEntries(entries)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	delete(ix.partitions, userID)
	if len(cloned) > 0 {
		ix.partitions[userID] = cloned
	}
}

// Clear removes the user's partition. Reports whether anything was removed.
func (ix *Index) Clear(userID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, ok := ix.partitions[userID]
	delete(ix.partitions, userID)
	return ok
}

// Count returns the number of entries in the user's partition.
func (ix *Index) Count(userID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.partitions[userID])
}

// Entries returns a copy of the user's partition in insertion order.
func (ix *Index) Entries(userID string) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return cloneEntries(ix.partitions[userID])
}

// Query returns the k entries nearest to vector by squared euclidean
// distance, nearest first. Equal distances keep insertion order.
func (ix *Index) Query(userID string, vector []float32, k int) []Match {
	if k <= 0 {
		return nil
	}

	ix.mu.RLock()
	partition := ix.partitions[userID]
	matches := make([]Match, len(partition))
	for i, e := range partition {
		matches[i] = Match{Entry: cloneEntry(e), Distance: squaredL2(vector, e.Vector)}
	}
	ix.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// FilterByDay returns the user's entries for day in insertion order, which
// is the source timetable's period order. No vector search is involved.
func (ix *Index) FilterByDay(userID, day string) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []Entry
	for _, e := range ix.partitions[userID] {
		if e.Day == day {
			out = append(out, cloneEntry(e))
		}
	}
	return out
}

// squaredL2 treats missing trailing dimensions as zero.
func squaredL2(a, b []float32) float64 {
	n := max(len(a), len(b))
	var sum float64
	for i := range n {
		var x, y float64
		if i < len(a) {
			x = float64(a[i])
		}
		if i < len(b) {
			y = float64(b[i])
		}
		d := x - y
		sum += d * d
	}
	return sum
}

func cloneEntry(e Entry) Entry {
	if e.Vector != nil {
		v := make([]float32, len(e.Vector))
		copy(v, e.Vector)
		e.Vector = v
	}
	return e
}

func cloneEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out
}
