package keeper

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/upkeep/internal/notify"
)

//go:generate mockgen -destination mock_keeper_test.go -package keeper -write_package_comment=false github.com/roach88/upkeep/internal/keeper Directory,Maintainer

// Directory supplies the ordered, mutable list of resources the keeper walks.
// Membership and ordering belong to the directory; the keeper only indexes it.
type Directory interface {
	// Ref names the directory so it can be persisted and resolved again.
	Ref() string
	Size(ctx context.Context) (uint64, error)
	AddressAt(ctx context.Context, index uint64) (common.Address, error)
}

// Maintainer performs the opaque maintenance operation on one resource.
type Maintainer interface {
	Maintain(ctx context.Context, resource common.Address) error
}

// MaintainerFunc adapts a function to Maintainer.
type MaintainerFunc func(ctx context.Context, resource common.Address) error

// Maintain calls f.
func (f MaintainerFunc) Maintain(ctx context.Context, resource common.Address) error {
	return f(ctx, resource)
}

// HeightSource supplies the current execution height.
type HeightSource interface {
	Height() uint64
}

// Service records one resource serviced by a successful upkeep.
type Service struct {
	Index    uint64         `json:"index"`
	Resource common.Address `json:"resource"`
	Height   uint64         `json:"height"`
}

// Commit is the full set of changes one operation makes. A Persister must
// apply it atomically: all of it or none of it.
type Commit struct {
	State State

	// Base is the nonce the change was computed from. The commit applies
	// only if the stored nonce still equals Base.
	Base uint64

	// WritesConfig is set by admin operations. Other commits leave the
	// stored config and registry untouched.
	WritesConfig bool

	Serviced      []Service
	Notifications []notify.Notification
}

// Persister durably records commits. Commit must fail with an error wrapping
// ErrStale when the stored nonce differs from Commit.Base.
type Persister interface {
	Commit(ctx context.Context, c Commit) error
}
