package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePosition splits a hierarchical ordinal like "1.2.3" into its integer
// components. Components must be non-empty base-10 integers.
func ParsePosition(pos string) ([]int, error) {
	if pos == "" {
		return nil, fmt.Errorf("empty position")
	}
	parts := strings.Split(pos, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("position %q: component %q: %w", pos, p, err)
		}
		out[i] = n
	}
	return out, nil
}

// ComparePositions orders two position strings component-wise numerically,
// so "1.2" < "1.10" and a parent sorts before its children.
// Malformed positions fall back to string comparison.
func ComparePositions(a, b string) int {
	pa, errA := ParsePosition(a)
	pb, errB := ParsePosition(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return 0
}

// ParentPosition returns the position with the last component removed.
// The second return is false for top-level positions, which have no parent.
func ParentPosition(pos string) (string, bool) {
	idx := strings.LastIndex(pos, ".")
	if idx < 0 {
		return "", false
	}
	return pos[:idx], true
}

// SiblingPrefix returns the shared prefix of all siblings of pos, including
// the trailing dot ("1.2.3" -> "1.2."), or "" for top-level positions.
func SiblingPrefix(pos string) string {
	idx := strings.LastIndex(pos, ".")
	if idx < 0 {
		return ""
	}
	return pos[:idx+1]
}

// ChildPosition appends an ordinal component to a parent position.
func ChildPosition(parent string, ordinal int) string {
	if parent == "" {
		return strconv.Itoa(ordinal)
	}
	return parent + "." + strconv.Itoa(ordinal)
}
