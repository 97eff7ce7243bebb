// Package draw holds the pure draw algorithm: a seeded shuffle of the
// available items paired against participants in join order. Same seed, same
// candidate sets, same output, which is what makes dry-run previews and audit
// replays exact.
package draw

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/calcuttalive/sweep-backend/internal/store"
)

// All is the count sentinel meaning "pair everything that can be paired".
const All = -1

type Pair struct {
	Participant store.Participant `json:"participant"`
	Item        store.Item        `json:"item"`
}

type Summary struct {
	Requested int    `json:"requested"`
	Assigned  int    `json:"assigned"`
	Remaining int    `json:"remaining"` // participants left unassigned
	Capped    bool   `json:"capped"`
	Seed      string `json:"seed"` // effective seed, echoed for replay
}

// NewSeed returns a random seed string from crypto/rand, used when the caller
// does not supply one.
func NewSeed() (string, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

func seedValue(seed string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h.Sum64())
	return int64(binary.BigEndian.Uint64(b[:]))
}

// Draw pairs up to count participants with items. count is either All or a
// positive number; asking for more pairs than exist caps silently and the
// summary reports what was achieved. Empty inputs yield an empty result.
//
// Participants are consumed earliest-joined first (id as tie-break), items are
// shuffled with a seeded Fisher-Yates. Callers needing replay must pass the
// seed from a previous Summary.
func Draw(participants []store.Participant, items []store.Item, count int, seed string) ([]Pair, Summary, error) {
	if seed == "" {
		s, err := NewSeed()
		if err != nil {
			return nil, Summary{}, err
		}
		seed = s
	}

	ps := make([]store.Participant, len(participants))
	copy(ps, participants)
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].ID < ps[j].ID
	})

	its := make([]store.Item, len(items))
	copy(its, items)
	sort.Slice(its, func(i, j int) bool {
		if its[i].Seq != its[j].Seq {
			return its[i].Seq < its[j].Seq
		}
		return its[i].ID < its[j].ID
	})
	shuffle(its, seedValue(seed))

	max := len(ps)
	if len(its) < max {
		max = len(its)
	}
	requested := count
	if count == All {
		requested = max
	}
	n := requested
	if n > max {
		n = max
	}

	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, Pair{Participant: ps[i], Item: its[i]})
	}

	sum := Summary{
		Requested: requested,
		Assigned:  n,
		Remaining: len(ps) - n,
		Capped:    requested > n,
		Seed:      seed,
	}
	return pairs, sum, nil
}

// shuffle is an explicit Fisher-Yates so the permutation depends only on the
// source sequence, not on rand.Shuffle implementation details.
func shuffle(items []store.Item, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := len(items) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}
