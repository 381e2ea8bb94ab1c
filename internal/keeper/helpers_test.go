package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/roach88/upkeep/internal/notify"
	"github.com/roach88/upkeep/internal/testutil"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// resource returns a distinct, recognizable address for index i.
func resource(i int) common.Address {
	return common.BytesToAddress([]byte{0xee, byte(i >> 8), byte(i)})
}

// sliceDirectory is an in-memory Directory.
type sliceDirectory struct {
	mu    sync.Mutex
	ref   string
	addrs []common.Address
}

func newDirectory(ref string, n int) *sliceDirectory {
	d := &sliceDirectory{ref: ref}
	for i := 0; i < n; i++ {
		d.addrs = append(d.addrs, resource(i))
	}
	return d
}

func (d *sliceDirectory) Ref() string { return d.ref }

func (d *sliceDirectory) Size(context.Context) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint64(len(d.addrs)), nil
}

func (d *sliceDirectory) AddressAt(_ context.Context, index uint64) (common.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index >= uint64(len(d.addrs)) {
		return common.Address{}, fmt.Errorf("index %d out of range", index)
	}
	return d.addrs[index], nil
}

func (d *sliceDirectory) truncate(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = d.addrs[:n]
}

// recorder is a Maintainer that records every call and can be told to fail
// on a specific resource.
type recorder struct {
	mu     sync.Mutex
	calls  []common.Address
	failOn map[common.Address]error
}

func (r *recorder) Maintain(_ context.Context, addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, addr)
	if err, ok := r.failOn[addr]; ok {
		return err
	}
	return nil
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// memPersister keeps every commit, or fails them all when err is set.
type memPersister struct {
	commits []Commit
	err     error
}

func (p *memPersister) Commit(_ context.Context, c Commit) error {
	if p.err != nil {
		return p.err
	}
	p.commits = append(p.commits, c)
	return nil
}

func (p *memPersister) last() Commit {
	return p.commits[len(p.commits)-1]
}

var errDownstream = errors.New("downstream exploded")

type fixture struct {
	ctl       *Controller
	dir       *sliceDirectory
	maint     *recorder
	clock     *testutil.HeightClock
	persister *memPersister
	notes     []notify.Notification
}

func newFixture(t *testing.T, cfg Config, size int, height uint64) *fixture {
	t.Helper()
	f := &fixture{
		dir:       newDirectory("main", size),
		maint:     &recorder{},
		clock:     testutil.NewHeightClock(height),
		persister: &memPersister{},
	}
	if cfg.Owner == (common.Address{}) {
		cfg.Owner = owner
	}
	ctl, err := New(cfg, f.dir, f.maint, f.clock,
		WithPersister(f.persister),
		WithObserver(func(n notify.Notification) { f.notes = append(f.notes, n) }),
	)
	require.NoError(t, err)
	f.ctl = ctl
	return f
}

func indicesOf(services []Service) []uint64 {
	out := make([]uint64, len(services))
	for i, s := range services {
		out[i] = s.Index
	}
	return out
}
