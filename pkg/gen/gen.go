// Package gen holds small generic helpers shared by the rest of the module.
package gen

import "cmp"

// Clamp v to the closed range [lo, hi]
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DeleteFromSliceUnordered removes s[i] by swapping in the last element.
func DeleteFromSliceUnordered[T any](s []T, i int) []T {
	last := len(s) - 1
	s[i] = s[last]
	var zero T
	s[last] = zero
	return s[:last]
}

// DrainChannel reads whatever is currently buffered in ch, without blocking.
func DrainChannel[T any](ch chan T) []T {
	out := make([]T, 0, len(ch))
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
