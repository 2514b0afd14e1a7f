// Package indexname implements the naming convention that binds a global
// secondary index name to its key schema.
//
// Index names are hyphen-delimited and the trailing segment is a suffix like
// "Index". The segments before the suffix name the key attributes:
//
//	"owner-Index"         partition key "owner"
//	"owner-created-Index" partition key "owner", sort key "created"
//
// The number of segments minus one is the key arity, which must be 1 or 2.
// This convention is the only linkage between an index name and the attribute
// definitions of its owning table, so creating an index from a bare
// description depends on it holding.
package indexname

import (
	"fmt"
	"strings"
)

const separator = "-"

// KeySpec is the key schema encoded in an index name.
type KeySpec struct {
	// HashKey is the partition key attribute name. Always set.
	HashKey string
	// RangeKey is the sort key attribute name, empty for hash-only indexes.
	RangeKey string
}

// Arity returns the number of key attributes, 1 or 2.
func (s KeySpec) Arity() int {
	if s.RangeKey == "" {
		return 1
	}
	return 2
}

// Parse derives the key schema from an index name.
//
// It returns an error when the name encodes zero key attributes or more than
// two, which means the name does not follow the "hash-range-suffix"
// convention and no key schema can be derived from it.
func Parse(name string) (KeySpec, error) {
	segments := strings.Split(name, separator)
	arity := len(segments) - 1

	switch arity {
	case 1:
		return KeySpec{HashKey: segments[0]}, nil
	case 2:
		return KeySpec{HashKey: segments[0], RangeKey: segments[1]}, nil
	case 0:
		return KeySpec{}, fmt.Errorf("index name %q encodes no key attributes: expected \"hash-suffix\" or \"hash-range-suffix\"", name)
	default:
		return KeySpec{}, fmt.Errorf("index name %q encodes %d key attributes, at most 2 are allowed", name, arity)
	}
}
