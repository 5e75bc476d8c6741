// Package rendezvous implements the out-of-band bootstrap for a transfer:
// the compact shareable code that carries the negotiation blob and the
// peer's public key, and the rotating session key that authenticates blobs
// exchanged through a shared rendezvous point.
//
// The code is base64url-encoded JSON with short field names so it stays
// pasteable. The session key is replaced, never mutated, on rotation; any
// unreadable or expired key state rotates immediately (fail-safe).
package rendezvous
