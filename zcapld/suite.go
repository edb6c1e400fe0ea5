package zcapld

import (
	"crypto/ed25519"
	"net/http"

	"github.com/hyperledger/aries-framework-go/pkg/doc/signature/suite"
	"github.com/hyperledger/aries-framework-go/pkg/doc/signature/suite/ed25519signature2018"
	ariesverifier "github.com/hyperledger/aries-framework-go/pkg/doc/signature/verifier"
)

// SuiteFactory produces the signature suites used to verify delegation
// proofs for one request. Hosts may vary suites per request; the factory
// must be reentrant.
type SuiteFactory func(req *http.Request) ([]ariesverifier.SignatureSuite, error)

// DefaultSuites returns the suites accepted when no factory is supplied:
// Ed25519Signature2018 delegation proofs.
func DefaultSuites() []ariesverifier.SignatureSuite {
	return []ariesverifier.SignatureSuite{
		ed25519signature2018.New(suite.WithVerifier(ed25519signature2018.NewPublicKeyVerifier())),
	}
}

// DefaultSuiteFactory supplies DefaultSuites for every request
func DefaultSuiteFactory(_ *http.Request) ([]ariesverifier.SignatureSuite, error) {
	return DefaultSuites(), nil
}

// Ed25519Signer adapts an ed25519 private key to the signer interface
// the aries signature suites expect. Used when creating delegations.
type Ed25519Signer struct {
	PrivateKey ed25519.PrivateKey
}

// Sign the data with the ed25519 private key
func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.PrivateKey, data), nil
}

// NewDelegationSigner builds a zcap delegation signer around an ed25519
// key, signing with Ed25519Signature2018 under the key's did:key id.
func NewDelegationSigner(privateKey ed25519.PrivateKey) *Signer {
	did := DIDKeyID(privateKey.Public().(ed25519.PublicKey))
	return &Signer{
		SignatureSuite:     ed25519signature2018.New(suite.WithSigner(&Ed25519Signer{PrivateKey: privateKey})),
		SuiteType:          ed25519signature2018.SignatureType,
		VerificationMethod: did,
	}
}
