package snaphash

import "fmt"

// Algorithm identifies which digest function a manifest was built with.
// The identifier is persisted in the manifest's "hash" record (spec
// tag `hash`), so the numeric values must never be renumbered.
type Algorithm uint8

const (
	AlgorithmMurmur3 Algorithm = 0
	AlgorithmMetro   Algorithm = 1
)

// Func computes the digest of data under the given seed.
func (a Algorithm) Func(seed [16]byte, data []byte) ([16]byte, error) {
	switch a {
	case AlgorithmMurmur3:
		return Murmur3_128(seed, data), nil
	case AlgorithmMetro:
		return MetroHash128(seed, data), nil
	default:
		return [16]byte{}, fmt.Errorf("snaphash: unknown algorithm identifier %d", a)
	}
}

func (a Algorithm) String() string {
	switch a {
	case AlgorithmMurmur3:
		return "murmur3"
	case AlgorithmMetro:
		return "metro"
	default:
		return "unknown"
	}
}
