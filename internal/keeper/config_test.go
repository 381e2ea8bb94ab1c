package keeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePerResource, m)

	m, err = ParseMode("global")
	require.NoError(t, err)
	assert.Equal(t, ModeGlobal, m)

	_, err = ParseMode("hourly")
	assert.Error(t, err)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{Owner: owner}.WithDefaults()
	assert.Equal(t, ModePerResource, cfg.Mode)
	assert.Equal(t, uint(32), cfg.FieldBits)
	assert.Zero(t, cfg.BatchLimit)
	assert.True(t, IsInvalidConfig(cfg.Validate()))
}

func TestConfig_ValidateInterval(t *testing.T) {
	base := Config{Owner: owner, BatchLimit: 1, Mode: ModePerResource, FieldBits: 16}

	cfg := base
	cfg.Interval = 0xffff
	assert.NoError(t, cfg.Validate())

	cfg.Interval = 0x10000
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "16-bit")

	cfg.Mode = ModeGlobal
	assert.NoError(t, cfg.Validate())
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: CodeResourceFailed, Message: "maintenance failed", Index: 3, Resource: resource(3), Err: errDownstream}
	assert.Equal(t,
		"RESOURCE_FAILED: maintenance failed (index=3, resource="+resource(3).Hex()+"): downstream exploded",
		err.Error())

	assert.Equal(t, "UNAUTHORIZED: caller is not the owner", unauthorized().Error())
	assert.Equal(t, ErrorCode(""), CodeOf(errDownstream))
}
