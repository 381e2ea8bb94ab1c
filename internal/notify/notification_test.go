package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	out, err := MarshalCanonical(Fields{
		"zeta":  Uint(1),
		"alpha": String("a"),
		"mid":   Bool(true),
		"neg":   Int(-4),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","mid":true,"neg":-4,"zeta":1}`, string(out))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical(String("<a&b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	out, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(out))

	out, err = MarshalCanonical(String(`x\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(out), "literal backslash text stays escaped")
}

func TestMarshalCanonical_NFC(t *testing.T) {
	decomposed := "e\u0301"
	out, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))
}

func TestMarshalCanonical_RejectsNil(t *testing.T) {
	_, err := MarshalCanonical(Fields{"x": nil})
	assert.Error(t, err)
}

func TestNew_ComputesStableID(t *testing.T) {
	a, err := New(KindIntervalUpdated, 10, 1, Fields{"interval": Uint(6)})
	require.NoError(t, err)
	b, err := New(KindIntervalUpdated, 10, 1, Fields{"interval": Uint(6)})
	require.NoError(t, err)

	assert.Len(t, a.ID, 64)
	assert.Equal(t, a.ID, b.ID)
	assert.True(t, a.Verify())
}

func TestNew_IDDependsOnEveryInput(t *testing.T) {
	base, err := New(KindIntervalUpdated, 10, 1, Fields{"interval": Uint(6)})
	require.NoError(t, err)

	variants := []struct {
		kind   Kind
		height uint64
		nonce  uint64
		fields Fields
	}{
		{KindBatchLimitUpdated, 10, 1, Fields{"interval": Uint(6)}},
		{KindIntervalUpdated, 11, 1, Fields{"interval": Uint(6)}},
		{KindIntervalUpdated, 10, 2, Fields{"interval": Uint(6)}},
		{KindIntervalUpdated, 10, 1, Fields{"interval": Uint(7)}},
	}
	for _, v := range variants {
		n, err := New(v.kind, v.height, v.nonce, v.fields)
		require.NoError(t, err)
		assert.NotEqual(t, base.ID, n.ID)
	}
}

func TestNotification_VerifyDetectsTampering(t *testing.T) {
	n, err := New(KindPaused, 3, 0, nil)
	require.NoError(t, err)
	require.True(t, n.Verify())

	n.Height = 4
	assert.False(t, n.Verify())
}

func TestFields_JSONRoundTrip(t *testing.T) {
	in := Fields{
		"registry": String("pods"),
		"interval": Uint(200),
		"delta":    Int(-3),
		"paused":   Bool(false),
		"nested":   Fields{"cursor": Uint(5)},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Fields
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestFields_UnmarshalRejectsFloats(t *testing.T) {
	var out Fields
	assert.Error(t, json.Unmarshal([]byte(`{"x":1.5}`), &out))
	assert.Error(t, json.Unmarshal([]byte(`{"x":null}`), &out))
}
