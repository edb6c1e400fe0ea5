package httpsignature

import (
	"crypto"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"
)

// Ed25519PubKey is a wrapper type around ed25519.PublicKey to fulfill interface Verifier
type Ed25519PubKey ed25519.PublicKey

// Ed25519PrivKey is a wrapper type around ed25519.PrivateKey to fulfill interface Signator
type Ed25519PrivKey ed25519.PrivateKey

// Verify the signature sig for message using the ed25519 public key pk
// Returns true if the signature is valid, false if not and error if the key provided is not valid
func (pk Ed25519PubKey) Verify(message, sig []byte, opts crypto.SignerOpts) (bool, error) {
	if l := len(pk); l != ed25519.PublicKeySize {
		return false, fmt.Errorf("ed25519: bad public key length: %d", l)
	}
	return ed25519.Verify(ed25519.PublicKey(pk), message, sig), nil
}

func (pk Ed25519PubKey) String() string {
	return hex.EncodeToString(pk)
}

// Sign the message using the ed25519 private key
func (privKey Ed25519PrivKey) Sign(rand io.Reader, message []byte, opts crypto.SignerOpts) ([]byte, error) {
	return ed25519.PrivateKey(privKey).Sign(rand, message, crypto.Hash(0))
}

// Public returns the corresponding public key
func (privKey Ed25519PrivKey) Public() Ed25519PubKey {
	pubKey := ed25519.PrivateKey(privKey).Public().(ed25519.PublicKey)
	return Ed25519PubKey(pubKey)
}

// PublicHex gets the public key encoded as hexadecimal string
func (privKey Ed25519PrivKey) PublicHex() string {
	return privKey.Public().String()
}

// GenerateEd25519Key generate an ed25519 private key
func GenerateEd25519Key() (Ed25519PrivKey, error) {
	_, privateKey, err := ed25519.GenerateKey(nil)
	return Ed25519PrivKey(privateKey), err
}
