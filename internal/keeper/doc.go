// Package keeper implements the upkeep controller.
//
// A Controller decides cheaply whether maintenance is due over the resources
// listed by a Directory, and when it is, services one bounded batch of them
// per invocation. It persists just enough state to resume fairly: the
// configuration, a circular batch cursor, and a packed array of last-serviced
// heights (package bitfield).
//
// # Entry Points
//
//	CheckDue       read-only, callable by anyone; returns a CBOR plan payload
//	PerformUpkeep  mutating, callable by anyone; re-validates every precondition
//	SetInterval, SetBatchLimit, SetRegistry, Pause, Unpause, TransferOwnership
//	               owner-only admin surface; each emits a notification
//
// # Modes
//
// ModePerResource (the default) gates each resource on its own packed
// last-serviced height; CheckDue is true when any resource is due. ModeGlobal
// gates the whole registry on the height at which the last full sweep
// finished, so one "due" window may take several invocations to drain.
//
// # Atomicity
//
// PerformUpkeep stages every write. If any maintenance call fails, or the
// commit to the Persister fails, the cursor, packed heights and nonce stay
// exactly as they were and the error is returned. The downstream error is
// wrapped unmodified so callers can see which resource failed and why.
//
// # Concurrency
//
// Controller methods are serialized by a mutex. Racing callers that both saw
// CheckDue report true will find that only the first PerformUpkeep succeeds
// if the batch it serviced closed the gate.
package keeper
