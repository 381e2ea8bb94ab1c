package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainNotification prefixes every notification hash.
// The version suffix allows the hashed layout to change later.
const DomainNotification = "upkeep/notification/v1"

// Kind names a notification type.
type Kind string

const (
	KindIntervalUpdated      Kind = "IntervalUpdated"
	KindBatchLimitUpdated    Kind = "BatchLimitUpdated"
	KindRegistryUpdated      Kind = "RegistryUpdated"
	KindPaused               Kind = "Paused"
	KindUnpaused             Kind = "Unpaused"
	KindOwnershipTransferred Kind = "OwnershipTransferred"
	KindUpkeepPerformed      Kind = "UpkeepPerformed"
)

// Notification records one observable state change.
type Notification struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Height uint64 `json:"height"`
	// Nonce is a per-keeper counter that keeps IDs distinct when the same
	// change is made twice at the same height.
	Nonce  uint64 `json:"nonce"`
	Fields Fields `json:"fields"`
}

// New builds a notification and computes its ID.
func New(kind Kind, height, nonce uint64, fields Fields) (Notification, error) {
	if fields == nil {
		fields = Fields{}
	}
	id, err := ComputeID(kind, height, nonce, fields)
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		ID:     id,
		Kind:   kind,
		Height: height,
		Nonce:  nonce,
		Fields: fields,
	}, nil
}

// ComputeID returns the content-addressed ID for a notification.
func ComputeID(kind Kind, height, nonce uint64, fields Fields) (string, error) {
	canonical, err := MarshalCanonical(Fields{
		"kind":   String(kind),
		"height": Uint(height),
		"nonce":  Uint(nonce),
		"fields": fields,
	})
	if err != nil {
		return "", fmt.Errorf("notification id: %w", err)
	}
	return hashWithDomain(DomainNotification, canonical), nil
}

// Verify recomputes the ID and reports whether it matches.
func (n Notification) Verify() bool {
	id, err := ComputeID(n.Kind, n.Height, n.Nonce, n.Fields)
	return err == nil && id == n.ID
}

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator keeps domain and data boundaries unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
