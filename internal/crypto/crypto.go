// Package crypto implements the Fenris crypto suite: AEAD seal/open,
// X25519 ECDH key exchange, and HKDF-SHA256 key derivation, each behind
// a small interface so the algorithm can be swapped at build time
// without touching the secure channel that composes them.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"strconv"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/fenrisnet/fenris/internal/ferr"
)

const (
	// KeySize is the size of AEAD keys and X25519 key-pair halves, in bytes.
	KeySize = 32

	// NonceSize is the size of AEAD nonces in bytes.
	NonceSize = 12

	// TagSize is the size of the AEAD authentication tag, in bytes.
	TagSize = 16

	// defaultSalt is used by the key deriver when no override is given.
	defaultSalt = "fenris-encryption-salt-v1"
)

// AEAD seals and opens messages with a symmetric key and a per-message
// nonce. Implementations must reject undersized keys/nonces rather than
// silently truncating or panicking.
type AEAD interface {
	Encrypt(plaintext, key, nonce []byte) ([]byte, error)
	Decrypt(ciphertext, key, nonce []byte) ([]byte, error)
	GenerateNonce() ([]byte, error)
	KeySize() int
	NonceSize() int
}

// KeyExchanger performs Diffie-Hellman key agreement.
type KeyExchanger interface {
	GenerateKeypair() (priv, pub []byte, err error)
	ComputeSharedSecret(priv, peerPub []byte) ([]byte, error)
	KeySize() int
}

// KeyDeriver expands a shared secret plus a context label into a fixed
// size output key.
type KeyDeriver interface {
	Derive(sharedSecret, context []byte, outLen int) ([]byte, error)
}

// ChaCha20Poly1305AEAD is the default AEAD implementation.
type ChaCha20Poly1305AEAD struct{}

func (ChaCha20Poly1305AEAD) KeySize() int   { return KeySize }
func (ChaCha20Poly1305AEAD) NonceSize() int { return NonceSize }

func (ChaCha20Poly1305AEAD) Encrypt(plaintext, key, nonce []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ferr.New(ferr.KindInvalidKeySize, invalidSizeMsg("key", KeySize, len(key)))
	}
	if len(nonce) != NonceSize {
		return nil, ferr.New(ferr.KindInvalidIVSize, invalidSizeMsg("nonce", NonceSize, len(nonce)))
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindEncryption, "construct cipher", err)
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (ChaCha20Poly1305AEAD) Decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ferr.New(ferr.KindInvalidKeySize, invalidSizeMsg("key", KeySize, len(key)))
	}
	if len(nonce) != NonceSize {
		return nil, ferr.New(ferr.KindInvalidIVSize, invalidSizeMsg("nonce", NonceSize, len(nonce)))
	}
	if len(ciphertext) < TagSize {
		return nil, ferr.New(ferr.KindDecryption, "ciphertext shorter than auth tag")
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindEncryption, "construct cipher", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// AEAD failures always surface as a decryption error, never as a
		// decompression error, regardless of what runs after Open.
		return nil, ferr.Wrap(ferr.KindDecryption, "authentication failed", err)
	}
	return plaintext, nil
}

func (ChaCha20Poly1305AEAD) GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, ferr.Wrap(ferr.KindEncryption, "generate nonce", err)
	}
	return nonce, nil
}

func invalidSizeMsg(what string, want, got int) string {
	return what + ": expected " + strconv.Itoa(want) + " bytes, got " + strconv.Itoa(got)
}

// X25519Exchanger implements Curve25519-style ECDH.
type X25519Exchanger struct{}

func (X25519Exchanger) KeySize() int { return KeySize }

func (X25519Exchanger) GenerateKeypair() (priv, pub []byte, err error) {
	priv = make([]byte, KeySize)
	if _, err = io.ReadFull(rand.Reader, priv); err != nil {
		return nil, nil, ferr.Wrap(ferr.KindEncryption, "generate private key", err)
	}

	// Clamp per the X25519 spec.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, ferr.Wrap(ferr.KindEncryption, "derive public key", err)
	}
	return priv, pub, nil
}

func (X25519Exchanger) ComputeSharedSecret(priv, peerPub []byte) ([]byte, error) {
	if len(priv) != KeySize {
		return nil, ferr.New(ferr.KindInvalidKeySize, invalidSizeMsg("private key", KeySize, len(priv)))
	}
	if len(peerPub) != KeySize {
		return nil, ferr.New(ferr.KindInvalidKeySize, invalidSizeMsg("peer public key", KeySize, len(peerPub)))
	}

	secret, err := curve25519.X25519(priv, peerPub)
	if err != nil {
		return nil, ferr.Wrap(ferr.KindEncryption, "compute shared secret", err)
	}

	var zero [KeySize]byte
	if constantTimeEqual(secret, zero[:]) {
		return nil, ferr.New(ferr.KindEncryption, "low-order ECDH result")
	}
	return secret, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// HKDFSHA256Deriver derives keys with HKDF-SHA256, defaulting to the
// spec-mandated salt when none is configured.
type HKDFSHA256Deriver struct {
	// Salt overrides the default salt when non-empty.
	Salt []byte
}

func (d HKDFSHA256Deriver) Derive(sharedSecret, context []byte, outLen int) ([]byte, error) {
	salt := d.Salt
	if len(salt) == 0 {
		salt = []byte(defaultSalt)
	}

	reader := hkdf.New(sha256.New, sharedSecret, salt, context)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, ferr.Wrap(ferr.KindEncryption, "HKDF expand", err)
	}
	return out, nil
}

// Suite composes the three capabilities into the bundle the secure
// channel needs.
type Suite struct {
	AEAD         AEAD
	KeyExchanger KeyExchanger
	KeyDeriver   KeyDeriver
}

// Default returns the production crypto suite: ChaCha20-Poly1305 AEAD,
// X25519 ECDH, HKDF-SHA256 key derivation.
func Default() Suite {
	return Suite{
		AEAD:         ChaCha20Poly1305AEAD{},
		KeyExchanger: X25519Exchanger{},
		KeyDeriver:   HKDFSHA256Deriver{},
	}
}

// GenerateKeypair generates an ephemeral ECDH keypair.
func (s Suite) GenerateKeypair() (priv, pub []byte, err error) {
	return s.KeyExchanger.GenerateKeypair()
}

// DeriveSessionKey computes the shared secret and expands it with the
// given context label into an AEAD-sized session key.
func (s Suite) DeriveSessionKey(priv, peerPub, context []byte) ([]byte, error) {
	secret, err := s.KeyExchanger.ComputeSharedSecret(priv, peerPub)
	if err != nil {
		return nil, err
	}
	return s.KeyDeriver.Derive(secret, context, s.AEAD.KeySize())
}

// Seal produces nonce ‖ aead_ciphertext_with_tag for one message.
func (s Suite) Seal(plaintext, key []byte) ([]byte, error) {
	nonce, err := s.AEAD.GenerateNonce()
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.AEAD.Encrypt(plaintext, key, nonce)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(nonce)+len(ciphertext))
	sealed = append(sealed, nonce...)
	sealed = append(sealed, ciphertext...)
	return sealed, nil
}

// Open splits a sealed packet's leading nonce from its ciphertext and
// decrypts it.
func (s Suite) Open(sealed, key []byte) ([]byte, error) {
	if len(sealed) < s.AEAD.NonceSize() {
		return nil, ferr.New(ferr.KindDecryption, "sealed packet shorter than nonce")
	}
	nonce := sealed[:s.AEAD.NonceSize()]
	ciphertext := sealed[s.AEAD.NonceSize():]
	return s.AEAD.Decrypt(ciphertext, key, nonce)
}
