// Package loader adapts finite batch sequences for step-based training loops.
package loader

import "iter"

// Loop yields the items of seq over and over, starting a new pass each time
// seq is exhausted. It stops when a pass yields nothing.
func Loop[T any](seq iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range LoopEpochs(seq) {
			if !yield(item) {
				return
			}
		}
	}
}

// LoopEpochs is Loop that also yields the zero-based pass number of each item.
func LoopEpochs[T any](seq iter.Seq[T]) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for epoch := 0; ; epoch++ {
			empty := true
			for item := range seq {
				empty = false
				if !yield(epoch, item) {
					return
				}
			}
			if empty {
				return
			}
		}
	}
}

// Take yields at most n items of seq.
func Take[T any](seq iter.Seq[T], n int) iter.Seq[T] {
	return func(yield func(T) bool) {
		if n <= 0 {
			return
		}
		i := 0
		for item := range seq {
			if !yield(item) {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}

// Batches splits items into consecutive batches of at most size elements.
func Batches[T any](items []T, size int) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		if size <= 0 {
			return
		}
		for start := 0; start < len(items); start += size {
			end := min(start+size, len(items))
			if !yield(items[start:end]) {
				return
			}
		}
	}
}
