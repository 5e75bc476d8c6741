// Package crypto implements the key management and encryption primitives
// for peer-to-peer file transfers.
//
// Three layers of key material are involved in a transfer: the file bytes
// are encrypted under a per-transfer AES-256-GCM key, that key is wrapped
// with the recipient's RSA-OAEP public key for delivery, and a separately
// rotated session key (see the rendezvous package) authenticates the
// negotiation channel.
//
// The Manager owns a cache mapping exported key bytes to imported cipher
// handles so identical keys are never imported twice.
package crypto
