package layer

// RNG is a small xorshift64* generator. Layers own one each so weight
// initialisation and dropout masks are reproducible.
type RNG struct {
	state uint64
}

// NewRNG creates a generator from a seed. A zero seed is replaced with a
// fixed odd constant because xorshift never leaves the zero state.
func NewRNG(seed uint64) *RNG {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return &RNG{state: seed}
}

// Uint64 returns the next value of the stream.
func (r *RNG) Uint64() uint64 {
	x := r.state
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	r.state = x
	return x * 2685821657736338717
}

// Float64 returns a value in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// State returns the generator position.
func (r *RNG) State() uint64 { return r.state }

// SetState moves the generator to a position returned by State.
func (r *RNG) SetState(state uint64) { r.state = state }
