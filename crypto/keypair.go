package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultRSABits is the modulus size used when generating key pairs.
	DefaultRSABits = 2048

	// MinRSABits is the smallest modulus accepted on import. Smaller keys
	// cannot wrap a 256-bit key under OAEP with SHA-256.
	MinRSABits = 1024

	rsaPrivatePEMType = "RSA PRIVATE KEY"
)

// KeyPair holds an RSA-OAEP key pair used to wrap transfer keys.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a new RSA key pair for key wrapping.
// A bits value of zero uses DefaultRSABits.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	if bits < MinRSABits {
		return nil, fmt.Errorf("%w: %d bits below minimum %d", ErrKeyGeneration, bits, MinRSABits)
	}

	private, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "GenerateKeyPair",
		"bits":     bits,
	}).Info("Generated asymmetric key pair")

	return &KeyPair{Public: &private.PublicKey, Private: private}, nil
}

// ExportPublicKey serializes a public key to PKIX DER bytes for inclusion
// in a rendezvous code.
func ExportPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrKeyImport)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImport, err)
	}
	return der, nil
}

// ImportPublicKey parses PKIX DER bytes back into an RSA public key.
// Keys below MinRSABits are rejected.
func ImportPublicKey(der []byte) (*rsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImport, err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrKeyImport)
	}
	if pub.Size()*8 < MinRSABits {
		return nil, fmt.Errorf("%w: modulus too small (%d bits)", ErrKeyImport, pub.Size()*8)
	}

	return pub, nil
}

// MarshalPrivateKeyPEM serializes a private key as a PEM block for
// persistence by the caller.
func MarshalPrivateKeyPEM(kp *KeyPair) ([]byte, error) {
	if kp == nil || kp.Private == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrKeyImport)
	}

	block := &pem.Block{
		Type:  rsaPrivatePEMType,
		Bytes: x509.MarshalPKCS1PrivateKey(kp.Private),
	}
	return pem.EncodeToMemory(block), nil
}

// ParsePrivateKeyPEM parses a PEM block produced by MarshalPrivateKeyPEM.
func ParsePrivateKeyPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrKeyImport)
	}
	if block.Type != rsaPrivatePEMType {
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrKeyImport, block.Type)
	}

	private, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImport, err)
	}

	return &KeyPair{Public: &private.PublicKey, Private: private}, nil
}
