package store

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/upkeep/internal/keeper"
)

var (
	testOwner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testAddress(i int) common.Address {
	return common.BytesToAddress([]byte{0xee, byte(i)})
}

func testState() keeper.State {
	return keeper.State{
		Config: keeper.Config{
			Owner:      testOwner,
			Interval:   200,
			BatchLimit: 5,
			Mode:       keeper.ModePerResource,
			FieldBits:  32,
		},
		RegistryRef: "pods",
	}
}

// fixedHeight is a keeper.HeightSource that never moves.
type fixedHeight uint64

func (h fixedHeight) Height() uint64 { return uint64(h) }
