package xisf

import (
	"slices"
	"strings"
)

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsValidIdentifier reports whether s is a C-style identifier.
func IsValidIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if c := s[i]; !isIdentStart(c) && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// IsValidPropertyID reports whether id is a sequence of identifiers
// separated by colons, such as "Observation:Object:Name".
func IsValidPropertyID(id string) bool {
	if id == "" {
		return false
	}
	for tok := range strings.SplitSeq(id, ":") {
		if !IsValidIdentifier(tok) {
			return false
		}
	}
	return true
}

// IsInternalPropertyID reports whether id is in the reserved XISF:
// namespace.
func IsInternalPropertyID(id string) bool {
	return strings.HasPrefix(id, InternalPrefix)
}

// PropertyDescription names a property and its type.
type PropertyDescription struct {
	ID   string
	Type PropertyType
}

type identified interface {
	propertyID() string
}

// propertySet keeps properties ordered by id.
type propertySet[P identified] struct {
	items []P
}

func (s *propertySet[P]) find(id string) (int, bool) {
	return slices.BinarySearchFunc(s.items, id, func(p P, id string) int {
		return strings.Compare(p.propertyID(), id)
	})
}

// put inserts p, replacing any item with the same id. It reports whether
// an item was replaced.
func (s *propertySet[P]) put(p P) bool {
	i, found := s.find(p.propertyID())
	if found {
		s.items[i] = p
		return true
	}
	s.items = slices.Insert(s.items, i, p)
	return false
}

func (s *propertySet[P]) get(id string) (P, bool) {
	if i, found := s.find(id); found {
		return s.items[i], true
	}
	var zero P
	return zero, false
}

func (s *propertySet[P]) has(id string) bool {
	_, found := s.find(id)
	return found
}

func (s *propertySet[P]) len() int { return len(s.items) }
