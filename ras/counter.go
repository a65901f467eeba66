package ras

// Helpers for the two rolling counters RAS carries: a wrap-aware comparison
// for the 12-bit ranging counter (mod 4096) and the wrap-around increment
// of the 6-bit segment counter (mod 64). The comparison follows the
// "distance less than half the modulus" rule used by RFC 4342's window
// counter; lessMod generalizes the fixed modulus-16 comparison in
// other_examples/petar-GoDCCP__windowcounter.go (lessWindowCounterMod) to
// any modulus.

const (
	rangingCounterMod  = 1 << 12
	segmentCounterMod  = 1 << 6
)

// rangingCounterLess reports whether a precedes b modulo 2^12, i.e. a is
// "older" than b. Ties (a == b) are not less.
func rangingCounterLess(a, b uint16) bool {
	return lessMod(uint32(a&0x0FFF), uint32(b&0x0FFF), rangingCounterMod)
}

// segmentCounterNext returns the next value of a 6-bit rolling segment
// counter.
func segmentCounterNext(c uint8) uint8 {
	return uint8((uint32(c) + 1) % segmentCounterMod)
}

// lessMod reports whether a precedes b in a rolling counter space of the
// given modulus, using half-the-modulus as the ambiguity boundary.
func lessMod(a, b, mod uint32) bool {
	if a == b {
		return false
	}
	diff := (b - a + mod) % mod
	return diff < mod/2
}
