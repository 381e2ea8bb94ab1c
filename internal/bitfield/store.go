package bitfield

import "github.com/holiman/uint256"

// Store is an indexable array of packed fields backed by a growable slice of
// words. The zero value is not usable; construct with NewStore or FromWords.
//
// Store is not safe for concurrent use. The keeper serializes access and
// stages writes on a Clone before committing them.
type Store struct {
	layout Layout
	words  []uint256.Int
}

// NewStore creates an empty store. Every field reads as zero.
func NewStore(layout Layout) *Store {
	return &Store{layout: layout}
}

// FromWords creates a store over a copy of previously persisted words.
func FromWords(layout Layout, words []uint256.Int) *Store {
	s := &Store{layout: layout, words: make([]uint256.Int, len(words))}
	copy(s.words, words)
	return s
}

// Layout returns the store's field layout.
func (s *Store) Layout() Layout { return s.layout }

// Get returns the field at ordinal index, or zero if its word was never written.
func (s *Store) Get(index uint64) uint64 {
	w, slot := s.layout.Locate(index)
	if w >= uint64(len(s.words)) {
		return 0
	}
	return s.layout.Read(&s.words[w], slot)
}

// Set writes value, truncated to the field width, at ordinal index.
// The backing word is allocated on first write.
func (s *Store) Set(index uint64, value uint64) {
	w, slot := s.layout.Locate(index)
	s.grow(w + 1)
	s.words[w] = s.layout.Write(&s.words[w], slot, value)
}

// Len returns the number of allocated words.
func (s *Store) Len() int { return len(s.words) }

// Words returns a copy of the allocated words, in word-index order.
func (s *Store) Words() []uint256.Int {
	out := make([]uint256.Int, len(s.words))
	copy(out, s.words)
	return out
}

// Clone returns an independent copy of the store.
func (s *Store) Clone() *Store {
	return FromWords(s.layout, s.words)
}

func (s *Store) grow(n uint64) {
	if n <= uint64(len(s.words)) {
		return
	}
	words := make([]uint256.Int, n)
	copy(words, s.words)
	s.words = words
}
