// Package bitfield packs fixed-width unsigned fields into 256-bit words.
//
// The keeper records the height at which each resource was last serviced.
// Rather than one persisted record per resource, heights are truncated to a
// fixed field width and packed side by side into 256-bit words:
//
//	word 0: | f7 | f6 | f5 | f4 | f3 | f2 | f1 | f0 |   (32-bit fields)
//	word 1: | f15| f14| ...                     | f8 |
//
// Field i lives in word i / FieldsPerWord at slot i % FieldsPerWord, with
// slot 0 in the least significant bits.
//
// # Field Independence
//
// Every write is expressed as
//
//	(old &^ fieldMask(slot)) | ((value & valueMask) << fieldShift(slot))
//
// so a write to one field never disturbs the bits of any other field. Values
// wider than the field are truncated, not rejected: with 32-bit fields a height
// of 2^32+5 is stored as 5. Callers comparing heights must do so in the
// truncated domain (see package gate).
//
// Words that were never written read as zero. Store grows its word slice
// lazily on the first write past the end.
package bitfield
