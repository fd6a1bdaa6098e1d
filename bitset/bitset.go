package bitset

// NewBitSet returns a set able to hold indices [0, n).
func NewBitSet(n uint64) BitSet {
	return make(BitSet, (n+63)/64)
}

// BitSet is a fixed-size set of small non-negative integers, used to mark bin ids
// already seen while walking a merge chain.
type BitSet []uint64

// Len returns the number of indices the set can hold.
func (b BitSet) Len() uint64 {
	return uint64(len(b)) * 64
}

// IsSet reports whether index is in the set. Indices past the end are never set.
func (b BitSet) IsSet(index uint64) bool {
	word := index / 64
	if word >= uint64(len(b)) {
		return false
	}
	return b[word]&(uint64(1)<<(index%64)) != 0
}

// Set adds index to the set. It panics if index is past the end.
func (b BitSet) Set(index uint64) {
	b[index/64] |= uint64(1) << (index % 64)
}

// TestAndSet adds index and reports whether it was already present.
func (b BitSet) TestAndSet(index uint64) bool {
	if b.IsSet(index) {
		return true
	}
	b.Set(index)
	return false
}
