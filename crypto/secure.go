package crypto

import "runtime"

// ZeroBytes overwrites key material in place. Sessions and the rendezvous
// key store call this when a key generation is retired; a nil or empty
// slice is a no-op.
func ZeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
	// Keep the slice reachable past the stores so the compiler cannot
	// drop them as dead writes.
	runtime.KeepAlive(data)
}
