package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/notify"
)

func TestKeeper_CreateAndLoad(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("main")

	ok, err := k.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = k.Load(ctx)
	assert.True(t, IsNotFound(err))

	require.NoError(t, k.Create(ctx, testState()))
	err = k.Create(ctx, testState())
	assert.ErrorIs(t, err, ErrExists)

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, testState(), got)

	names, err := s.Keepers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)
}

func TestKeeper_CommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("main")
	require.NoError(t, k.Create(ctx, testState()))

	st := testState()
	st.Cursor = 3
	st.LastSweep = 1 << 63
	st.Nonce = 2
	st.Config.Paused = true
	st.Words = []uint256.Int{
		*uint256.MustFromHex("0xffffffffffffffffffffffffffffffffffffffffffffffff00000000ffffffff"),
		*uint256.NewInt(0),
		*uint256.NewInt(0x1e),
	}

	n, err := notify.New(notify.KindUpkeepPerformed, 10, 1, notify.Fields{"serviced": notify.Uint(2)})
	require.NoError(t, err)

	err = k.Commit(ctx, keeper.Commit{
		State:        st,
		WritesConfig: true,
		Serviced: []keeper.Service{
			{Index: 1, Resource: testAddress(1), Height: 10},
			{Index: 2, Resource: testAddress(2), Height: 10},
		},
		Notifications: []notify.Notification{n},
	})
	require.NoError(t, err)

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	services, err := k.Services(ctx, 0)
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, testAddress(2), services[1].Resource)
	assert.Equal(t, uint64(2), services[1].Index)

	notes, err := k.Notifications(ctx, "")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, n, notes[0])
	assert.True(t, notes[0].Verify())
}

func TestKeeper_CommitTrimsWords(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("main")

	st := testState()
	st.Words = []uint256.Int{*uint256.NewInt(1), *uint256.NewInt(2)}
	require.NoError(t, k.Commit(ctx, keeper.Commit{State: st}))

	st.Words = st.Words[:1]
	require.NoError(t, k.Commit(ctx, keeper.Commit{State: st}))

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Words, 1)
}

func TestKeeper_CommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("main")
	require.NoError(t, k.Create(ctx, testState()))

	st := testState()
	st.Cursor = 4
	st.Config.BatchLimit = 0 // violates CHECK (batch_limit > 0)

	n, err := notify.New(notify.KindUpkeepPerformed, 10, 0, nil)
	require.NoError(t, err)

	err = k.Commit(ctx, keeper.Commit{
		State:         st,
		WritesConfig:  true,
		Serviced:      []keeper.Service{{Index: 0, Resource: testAddress(0), Height: 10}},
		Notifications: []notify.Notification{n},
	})
	require.Error(t, err)

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Cursor)

	services, err := k.Services(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, services)
	notes, err := k.Notifications(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestKeeper_NotificationsFilterAndDedup(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("main")
	require.NoError(t, k.Create(ctx, testState()))

	paused, err := notify.New(notify.KindPaused, 5, 0, notify.Fields{"account": notify.String(testOwner.Hex())})
	require.NoError(t, err)
	unpaused, err := notify.New(notify.KindUnpaused, 6, 1, notify.Fields{"account": notify.String(testOwner.Hex())})
	require.NoError(t, err)

	require.NoError(t, k.Commit(ctx, keeper.Commit{State: testState(), Notifications: []notify.Notification{paused}}))
	require.NoError(t, k.Commit(ctx, keeper.Commit{State: testState(), Notifications: []notify.Notification{paused, unpaused}}))

	all, err := k.Notifications(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []notify.Notification{paused, unpaused}, all)

	only, err := k.Notifications(ctx, notify.KindUnpaused)
	require.NoError(t, err)
	assert.Equal(t, []notify.Notification{unpaused}, only)
}

func TestKeeper_ServicesLimitAndHistory(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("main")
	require.NoError(t, k.Create(ctx, testState()))

	for h := uint64(1); h <= 4; h++ {
		err := k.Commit(ctx, keeper.Commit{
			State: testState(),
			Serviced: []keeper.Service{
				{Index: 0, Resource: testAddress(0), Height: h},
				{Index: 1, Resource: testAddress(1), Height: h},
			},
		})
		require.NoError(t, err)
	}

	last, err := k.Services(ctx, 3)
	require.NoError(t, err)
	require.Len(t, last, 3)
	assert.Equal(t, uint64(3), last[0].Height)
	assert.Equal(t, testAddress(1), last[0].Resource)
	assert.Equal(t, uint64(4), last[2].Height)
	assert.Less(t, last[0].Seq, last[2].Seq)

	history, err := k.ResourceHistory(ctx, testAddress(0))
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, rec := range history {
		assert.Equal(t, uint64(i+1), rec.Height)
	}
}

func TestKeeper_RestoresController(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keeper.db")

	s, err := Open(path)
	require.NoError(t, err)
	reg, err := s.CreateRegistry(ctx, "pods", testOwner)
	require.NoError(t, err)
	require.NoError(t, reg.AddAddresses(ctx, testOwner, testAddress(0), testAddress(1), testAddress(2)))

	var maintained []string
	maint := keeper.MaintainerFunc(func(_ context.Context, addr common.Address) error {
		maintained = append(maintained, addr.Hex())
		return nil
	})

	k := s.Keeper("main")
	cfg := testState().Config
	cfg.BatchLimit = 2
	ctl, err := keeper.New(cfg, reg, maint, fixedHeight(1000), keeper.WithPersister(k))
	require.NoError(t, err)
	_, err = ctl.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	k = s.Keeper("main")
	st, err := k.Load(ctx)
	require.NoError(t, err)
	reg, err = s.OpenRegistry(ctx, st.RegistryRef)
	require.NoError(t, err)

	ctl, err = keeper.Restore(st, reg, maint, fixedHeight(1000), keeper.WithPersister(k))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), ctl.LastServiced(1))

	report, err := ctl.PerformUpkeep(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Serviced, 1)
	assert.Equal(t, uint64(2), report.Serviced[0].Index)
	assert.Len(t, maintained, 3)

	_, err = ctl.PerformUpkeep(ctx, nil)
	assert.True(t, keeper.IsNotDue(err))
}

func TestKeeper_CommitRejectsStaleBase(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("main")
	require.NoError(t, k.Create(ctx, testState()))

	st := testState()
	st.Cursor = 2
	st.Nonce = 1
	require.NoError(t, k.Commit(ctx, keeper.Commit{State: st, Base: 0}))

	n, err := notify.New(notify.KindUpkeepPerformed, 10, 0, nil)
	require.NoError(t, err)
	stale := testState()
	stale.Cursor = 4
	stale.Nonce = 1
	err = k.Commit(ctx, keeper.Commit{
		State:         stale,
		Base:          0,
		Serviced:      []keeper.Service{{Index: 0, Resource: testAddress(0), Height: 10}},
		Notifications: []notify.Notification{n},
	})
	require.ErrorIs(t, err, keeper.ErrStale)

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Cursor)
	assert.Equal(t, uint64(1), got.Nonce)

	services, err := k.Services(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, services)
	notes, err := k.Notifications(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestKeeper_CommitWithoutConfigKeepsConfig(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("main")

	stored := testState()
	stored.Config.Paused = true
	require.NoError(t, k.Create(ctx, stored))

	st := testState() // Paused false, as a controller loaded earlier would have it
	st.Config.BatchLimit = 9
	st.RegistryRef = "other"
	st.Cursor = 3
	st.Nonce = 1
	require.NoError(t, k.Commit(ctx, keeper.Commit{State: st, Base: 0}))

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Config.Paused)
	assert.Equal(t, uint64(5), got.Config.BatchLimit)
	assert.Equal(t, "pods", got.RegistryRef)
	assert.Equal(t, uint64(3), got.Cursor)
}

func TestKeeper_CommitMissingKeeperWithBase(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	k := s.Keeper("ghost")

	st := testState()
	st.Nonce = 4
	err := k.Commit(ctx, keeper.Commit{State: st, Base: 3})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	ok, err := k.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

// raceFixture opens two controllers on the same stored keeper, as two
// processes started at the same time would.
func raceFixture(t *testing.T) (a, b *keeper.Controller, k *Keeper, calls *int) {
	t.Helper()
	ctx := context.Background()
	s := createTestStore(t)
	reg, err := s.CreateRegistry(ctx, "pods", testOwner)
	require.NoError(t, err)
	require.NoError(t, reg.AddAddresses(ctx, testOwner, testAddress(0), testAddress(1), testAddress(2)))

	k = s.Keeper("main")
	require.NoError(t, k.Create(ctx, testState()))

	calls = new(int)
	maint := keeper.MaintainerFunc(func(context.Context, common.Address) error {
		*calls++
		return nil
	})
	open := func() *keeper.Controller {
		st, err := k.Load(ctx)
		require.NoError(t, err)
		ctl, err := keeper.Restore(st, reg, maint, fixedHeight(1000), keeper.WithPersister(k))
		require.NoError(t, err)
		return ctl
	}
	return open(), open(), k, calls
}

func TestKeeper_RacingPerformsApplyOnce(t *testing.T) {
	ctx := context.Background()
	a, b, k, calls := raceFixture(t)

	_, err := a.PerformUpkeep(ctx, nil)
	require.NoError(t, err)

	_, err = b.PerformUpkeep(ctx, nil)
	require.Error(t, err)
	assert.True(t, keeper.IsConflict(err), "got %v", err)
	assert.ErrorIs(t, err, keeper.ErrStale)

	services, err := k.Services(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, services, 3)

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Nonce)
	assert.Equal(t, uint64(1000), a.LastServiced(0))
	assert.Equal(t, uint64(0), b.LastServiced(0), "losing controller keeps its old view")
	// Both ran maintenance; only the first commit applied.
	assert.Equal(t, 6, *calls)
}

func TestKeeper_PerformCannotUndoPause(t *testing.T) {
	ctx := context.Background()
	a, b, k, _ := raceFixture(t)

	require.NoError(t, b.Pause(ctx, testOwner))

	_, err := a.PerformUpkeep(ctx, nil)
	require.Error(t, err)
	assert.True(t, keeper.IsConflict(err), "got %v", err)

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Config.Paused)
	assert.Equal(t, uint64(1), got.Nonce)

	services, err := k.Services(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestKeeper_RacingAdminCallsApplyOnce(t *testing.T) {
	ctx := context.Background()
	a, b, k, _ := raceFixture(t)

	require.NoError(t, a.SetInterval(ctx, testOwner, 50))
	err := b.SetBatchLimit(ctx, testOwner, 1)
	assert.True(t, keeper.IsConflict(err), "got %v", err)

	got, err := k.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Config.Interval)
	assert.Equal(t, uint64(5), got.Config.BatchLimit)
}
