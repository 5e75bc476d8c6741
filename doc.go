// Package peerdrop implements encrypted chunked peer-to-peer file
// transfers over a data channel.
//
// A PeerDrop instance owns the local RSA key pair, the symmetric key
// cache, and the rotating rendezvous session key. Peers exchange
// rendezvous codes (base64url-encoded JSON carrying a sealed signaling
// blob, the public key, and transfer preferences), establish a data
// channel through a caller-supplied Negotiator, and then stream the file
// as framed chunks: a metadata frame, AES-256-GCM encrypted data frames
// keyed by sequence index, and a done frame. The receiver tolerates
// arbitrary frame reordering and delivers the assembled plaintext in one
// piece.
//
// Basic usage:
//
//	opts := peerdrop.NewOptions()
//	pd, err := peerdrop.New(opts, negotiate)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	code, err := pd.GenerateCode(signal)
//	// share code with the peer out of band
//
//	session, err := pd.InitiateSend(ctx, peerdrop.FileMetadata{Name: "a.bin"}, data, peerCode)
//	<-session.Done()
//
// Channel establishment (SDP exchange, ICE) is outside this library's
// scope; the channel package provides an adapter for pion WebRTC data
// channels and an in-memory pipe for tests.
package peerdrop
