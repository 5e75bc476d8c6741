// Package chunker implements chunk sizing and wire framing for file transfers.
//
// The chunk size for a transfer is chosen from the file size by
// OptimalChunkSize and may be scaled afterwards by the sender's throughput
// probe. Split produces zero-copy views over the file contents, and the
// frame codec carries each encrypted chunk together with its header using a
// length-prefixed dual-buffer layout.
//
// Example:
//
//	size := chunker.OptimalChunkSize(int64(len(data)))
//	s := chunker.Split(data, size)
//	for chunk, ok := s.Next(); ok; chunk, ok = s.Next() {
//	    // encrypt and send chunk
//	}
package chunker
