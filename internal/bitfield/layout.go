package bitfield

import (
	"fmt"

	"github.com/holiman/uint256"
)

// WordBits is the width of a packed word.
const WordBits = 256

// DefaultFieldBits is the field width used when none is configured.
// Eight 32-bit fields per word.
const DefaultFieldBits = 32

// ValidFieldBits lists the supported field widths. Each divides WordBits and
// fits in a uint64.
var ValidFieldBits = []uint{8, 16, 32, 64}

// Layout describes how fields are packed into a word.
// It is fixed when a store is created and never changes afterwards.
type Layout struct {
	bits      uint
	perWord   uint64
	valueMask uint64
}

// NewLayout returns the layout for fields of the given bit width.
func NewLayout(fieldBits uint) (Layout, error) {
	if !IsValidFieldBits(fieldBits) {
		return Layout{}, fmt.Errorf("unsupported field width %d: must be one of %v", fieldBits, ValidFieldBits)
	}
	mask := ^uint64(0)
	if fieldBits < 64 {
		mask = (uint64(1) << fieldBits) - 1
	}
	return Layout{
		bits:      fieldBits,
		perWord:   uint64(WordBits / fieldBits),
		valueMask: mask,
	}, nil
}

// MustLayout is like NewLayout but panics on an unsupported width.
func MustLayout(fieldBits uint) Layout {
	l, err := NewLayout(fieldBits)
	if err != nil {
		panic(err)
	}
	return l
}

// IsValidFieldBits reports whether fieldBits is a supported width.
func IsValidFieldBits(fieldBits uint) bool {
	for _, b := range ValidFieldBits {
		if b == fieldBits {
			return true
		}
	}
	return false
}

// FieldBits returns the width of one field.
func (l Layout) FieldBits() uint { return l.bits }

// FieldsPerWord returns how many fields one word holds.
func (l Layout) FieldsPerWord() uint64 { return l.perWord }

// MaxValue returns the largest value a field can hold.
func (l Layout) MaxValue() uint64 { return l.valueMask }

// Truncate reduces v to the field width.
func (l Layout) Truncate(v uint64) uint64 { return v & l.valueMask }

// Locate maps an ordinal field index to its word index and slot.
func (l Layout) Locate(index uint64) (word uint64, slot uint) {
	return index / l.perWord, uint(index % l.perWord)
}

// shift returns the bit offset of a slot within its word.
func (l Layout) shift(slot uint) uint {
	return slot * l.bits
}

// fieldMask returns a word with the bits of slot set and every other bit clear.
func (l Layout) fieldMask(slot uint) *uint256.Int {
	m := new(uint256.Int).SetUint64(l.valueMask)
	return m.Lsh(m, l.shift(slot))
}

// Read extracts the field at slot from word.
// Panics if slot is out of range for the layout.
func (l Layout) Read(word *uint256.Int, slot uint) uint64 {
	l.checkSlot(slot)
	v := new(uint256.Int).Rsh(word, l.shift(slot))
	return v.Uint64() & l.valueMask
}

// Write returns a copy of word with the field at slot replaced by value,
// truncated to the field width. All other fields are left bit-for-bit unchanged.
// Panics if slot is out of range for the layout.
func (l Layout) Write(word *uint256.Int, slot uint, value uint64) uint256.Int {
	l.checkSlot(slot)
	out := new(uint256.Int).Not(l.fieldMask(slot))
	out.And(out, word)

	v := new(uint256.Int).SetUint64(value & l.valueMask)
	v.Lsh(v, l.shift(slot))
	out.Or(out, v)
	return *out
}

func (l Layout) checkSlot(slot uint) {
	if uint64(slot) >= l.perWord {
		panic(fmt.Sprintf("bitfield: slot %d out of range for %d-bit fields", slot, l.bits))
	}
}
