// internal/rng/rng.go
package rng

// Seeded is a xorshift128 generator. Host and guest construct one from the room's
// shared seed and derive the same word order without ever transmitting it, so the
// stream must be identical across platforms: fixed-width 32-bit state, no dependence
// on the ambient math/rand source.
type Seeded struct {
	x, y, z, w uint32
}

// New returns a generator with the documented initial state for seed. Every int32 is
// a valid seed, including zero and negatives.
func New(seed int32) *Seeded {
	return &Seeded{
		x: 123456789,
		y: 362436069,
		z: 521288629,
		w: uint32(seed),
	}
}

// Next advances the state and returns a value in [0, 1).
func (r *Seeded) Next() float64 {
	t := r.x ^ (r.x << 11)
	r.x, r.y, r.z = r.y, r.z, r.w
	r.w = (r.w ^ (r.w >> 19)) ^ (t ^ (t >> 8))
	return float64(r.w) / 4294967296.0
}

// Shuffle performs a Fisher-Yates shuffle over n elements, swapping with the caller's
// swap func. Iteration order (n-1 down to 1) is part of the cross-client contract.
func (r *Seeded) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := int(r.Next() * float64(i+1))
		swap(i, j)
	}
}

// Perm returns a shuffled permutation of [0, n).
func (r *Seeded) Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	r.Shuffle(n, func(i, j int) {
		p[i], p[j] = p[j], p[i]
	})
	return p
}
