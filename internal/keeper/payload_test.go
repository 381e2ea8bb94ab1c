package keeper

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePlan_Deterministic(t *testing.T) {
	p := Plan{Height: 1200, Cursor: 8, Next: 2, Indices: []uint64{8, 9, 0, 1}}

	a, err := EncodePlan(p)
	require.NoError(t, err)
	b, err := EncodePlan(p)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Integer keys, map of four entries.
	assert.Equal(t, byte(0xa4), a[0])

	got, err := DecodePlan(a)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestDecodePlan_Rejects(t *testing.T) {
	dup, err := cbor.Marshal(map[int]any{1: 5})
	require.NoError(t, err)
	// Turn {1: 5} into {1: 5, 1: 5}.
	dup = append([]byte{0xa2}, append(dup[1:], dup[1:]...)...)

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0xff}},
		{"truncated", []byte{0xa1, 0x01}},
		{"wrong type", []byte{0x63, 'a', 'b', 'c'}},
		{"duplicate key", dup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePlan(tt.data)
			require.Error(t, err)
			assert.Equal(t, CodeMalformedPayload, CodeOf(err))
		})
	}
}

func TestPlan_Same(t *testing.T) {
	a := Plan{Height: 1, Cursor: 0, Next: 2, Indices: []uint64{0, 1}}
	b := a
	b.Height = 9
	assert.True(t, a.Same(b))

	b.Indices = []uint64{0}
	assert.False(t, a.Same(b))
}
