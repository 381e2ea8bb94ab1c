// Package notify defines the structured notifications a keeper emits.
//
// Every admin mutation and every successful upkeep produces a Notification
// carrying the new value. Notifications are content-addressed: the ID is a
// domain-separated SHA-256 over the RFC 8785 canonical JSON of the kind,
// height, nonce and fields, so replaying the same history yields the same IDs.
//
// Field values are restricted to a small sealed set (String, Int, Uint, Bool,
// Fields). Floats and nulls are not representable.
package notify
