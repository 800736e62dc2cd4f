package rib

import (
	"net/netip"
)

// MapTrie has the properties of a prefix trie but stores prefixes in maps.
//
// It is an array of maps, where each index corresponds to a prefix length,
// with an extra slot for the default route (/0).
type MapTrie[V any] [129]map[netip.Prefix]V

// NewMapTrie returns a new MapTrie with the specified initial capacity per
// prefix length.
func NewMapTrie[V any](capacity int) MapTrie[V] {
	trie := MapTrie[V]{}
	for idx := range trie {
		trie[idx] = make(map[netip.Prefix]V, capacity)
	}

	return trie
}

// Lookup searches the MapTrie for a value that matches the longest possible
// prefix for the given address.
//
// If no match is found, the function returns the zero value and false.
func (m *MapTrie[V]) Lookup(addr netip.Addr) (netip.Prefix, V, bool) {
	for bits := addr.BitLen(); bits >= 0; bits-- {
		prefix, _ := addr.Prefix(bits)
		if value, ok := m[bits][prefix]; ok {
			return prefix, value, true
		}
	}

	var zero V
	return netip.Prefix{}, zero, false
}

// Get returns the value stored exactly at the given prefix.
func (m *MapTrie[V]) Get(prefix netip.Prefix) (V, bool) {
	prefix = prefix.Masked()
	value, ok := m[prefix.Bits()][prefix]
	return value, ok
}

// Insert stores the value at the given prefix, replacing any previous one.
func (m *MapTrie[V]) Insert(prefix netip.Prefix, value V) {
	prefix = prefix.Masked()
	m[prefix.Bits()][prefix] = value
}

// Delete removes the value stored at the given prefix.
func (m *MapTrie[V]) Delete(prefix netip.Prefix) {
	prefix = prefix.Masked()
	delete(m[prefix.Bits()], prefix)
}

// Len returns the total number of prefixes stored in the MapTrie.
func (m *MapTrie[V]) Len() int {
	l := 0
	for idx := range m {
		l += len(m[idx])
	}

	return l
}
