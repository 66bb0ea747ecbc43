package bytecode

import "strconv"

// Value is the single numeric kind the VM operates on.
type Value float64

// String renders the value with the shortest representation that
// round-trips, so the same value always prints the same way.
func (v Value) String() string {
	return strconv.FormatFloat(float64(v), 'g', -1, 64)
}

// MaxConstantIndex is the largest index OP_CONSTANT_LONG can address.
const MaxConstantIndex = 1<<24 - 1

// ConstantPool is an append-only sequence of values addressed by index.
// Indices never change once assigned.
type ConstantPool struct {
	values []Value
}

// Append adds a value and returns its index. Identical values are not
// deduplicated.
func (p *ConstantPool) Append(v Value) int {
	p.values = grow(p.values, 1)
	p.values = append(p.values, v)
	return len(p.values) - 1
}

// At returns the value at index i and whether i is in range.
func (p *ConstantPool) At(i int) (Value, bool) {
	if i < 0 || i >= len(p.values) {
		return 0, false
	}
	return p.values[i], true
}

// Len returns the number of constants.
func (p *ConstantPool) Len() int {
	return len(p.values)
}

// Values returns the pool contents. The slice must not be modified.
func (p *ConstantPool) Values() []Value {
	return p.values
}

func (p *ConstantPool) free() {
	p.values = nil
}

// growCapacity is the doubling policy shared by every chunk buffer.
func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}

// grow returns s with room for at least n more elements, reallocating
// with growCapacity when the current capacity is exhausted.
func grow[T any](s []T, n int) []T {
	if cap(s)-len(s) >= n {
		return s
	}
	newCap := growCapacity(cap(s))
	for newCap < len(s)+n {
		newCap = growCapacity(newCap)
	}
	grown := make([]T, len(s), newCap)
	copy(grown, s)
	return grown
}
