// Package transfer implements the sender and receiver engines that move a
// file across an open data channel as encrypted chunks.
//
// The sender picks a chunk size, encrypts chunks in bounded-concurrency
// batches, and admits them to the channel in sequence order while observing
// the channel's backpressure signal. The receiver accumulates frames keyed
// by sequence index, so an unordered channel configuration needs no
// cooperation from the wire; completion is detected by byte count and the
// stream is decrypted and delivered in one assembled piece, or chunk by
// chunk in index order when streaming delivery is enabled.
//
// Both engines drive a Session through its state machine:
//
//	Pending → WaitingAccept → Processing → {Succeeded, Failed, Cancelled}
//
// Local recovery (retry with exponential backoff) is confined to the
// sender; every other component surfaces errors immediately.
package transfer
