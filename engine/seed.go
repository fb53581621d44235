package engine

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/google/uuid"
)

// NewSeed mints a fresh random seed.
func NewSeed() string {
	return uuid.NewString()
}

// Rand returns a deterministic generator for seed. The same seed always
// yields the same sequence, which is what keeps auto-previews and exports
// visually identical to the preview they follow.
func Rand(seed string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(seed))
	sum := h.Sum64()
	return rand.New(rand.NewPCG(sum, sum^0x9e3779b97f4a7c15))
}
