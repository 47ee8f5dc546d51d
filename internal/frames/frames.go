// Package frames provides frame-count arithmetic for the chunk generator.
// The generator only accepts frame counts of the form 8k+1.
package frames

// Align normalises a requested frame count to the generator's stride.
// Counts below 1 become 1; everything else is rounded up to the next
// value of the form 8k+1.
func Align(n int) int {
	if n < 1 {
		return 1
	}
	if (n-1)%8 == 0 {
		return n
	}
	return ((n-1)/8+1)*8 + 1
}

// RoundDownToMultiple snaps value down to the nearest multiple, but never
// below the multiple itself. A multiple of zero or less returns value
// unchanged.
func RoundDownToMultiple(value, multiple int) int {
	if multiple <= 0 {
		return value
	}
	rounded := (value / multiple) * multiple
	if rounded < multiple {
		return multiple
	}
	return rounded
}
