package zcapld

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	ariesverifier "github.com/hyperledger/aries-framework-go/pkg/doc/signature/verifier"
	"github.com/piprate/json-gold/ld"
	"github.com/shengdoushi/base58"

	"github.com/veracred/zcap-go/httpsignature"
)

const (
	didKeyPrefix = "did:key:"

	// ed25519pubCodec is the multicodec prefix for an ed25519 public key
	ed25519pubCodec = 0xed
)

// VerificationMethod is the resolved document describing a signing key.
type VerificationMethod struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller"`
	PublicKeyBase58 string `json:"publicKeyBase58,omitempty"`
}

// DIDKeyVerificationMethod resolves a did:key key id locally, without any
// document loading. The controller of a did:key verification method is the
// did itself.
func DIDKeyVerificationMethod(keyID string) (*VerificationMethod, ed25519.PublicKey, error) {
	did := keyID
	if idx := strings.Index(did, "#"); idx >= 0 {
		did = did[:idx]
	}

	if !strings.HasPrefix(did, didKeyPrefix) {
		return nil, nil, fmt.Errorf("not a did:key identifier: %s", keyID)
	}

	fingerprint := strings.TrimPrefix(did, didKeyPrefix)
	if len(fingerprint) == 0 || fingerprint[0] != 'z' {
		return nil, nil, fmt.Errorf("unsupported multibase encoding in %s", keyID)
	}

	decoded, err := base58.Decode(fingerprint[1:], base58.BitcoinAlphabet)
	if err != nil {
		return nil, nil, fmt.Errorf("decode did:key fingerprint: %w", err)
	}

	if len(decoded) != ed25519.PublicKeySize+2 || decoded[0] != ed25519pubCodec || decoded[1] != 0x01 {
		return nil, nil, fmt.Errorf("did:key %s is not an ed25519 key", keyID)
	}

	pubKey := ed25519.PublicKey(decoded[2:])

	return &VerificationMethod{
		ID:              did + "#" + fingerprint,
		Type:            "Ed25519VerificationKey2018",
		Controller:      did,
		PublicKeyBase58: base58.Encode(pubKey, base58.BitcoinAlphabet),
	}, pubKey, nil
}

// DIDKeyID derives the did:key identifier for an ed25519 public key.
func DIDKeyID(pubKey ed25519.PublicKey) string {
	fingerprint := "z" + base58.Encode(append([]byte{ed25519pubCodec, 0x01}, pubKey...), base58.BitcoinAlphabet)
	return didKeyPrefix + fingerprint
}

// ResolveVerificationMethod resolves a verification method id to its
// document: did:key ids resolve locally, anything else loads through the
// document loader.
func ResolveVerificationMethod(loader ld.DocumentLoader, id string) (*VerificationMethod, error) {
	if strings.HasPrefix(id, didKeyPrefix) {
		vm, _, err := DIDKeyVerificationMethod(id)
		return vm, err
	}

	doc, err := loader.LoadDocument(id)
	if err != nil {
		return nil, fmt.Errorf("load verification method %s: %w", id, err)
	}

	docBytes, err := json.Marshal(doc.Document)
	if err != nil {
		return nil, fmt.Errorf("marshal verification method %s: %w", id, err)
	}

	var vm VerificationMethod
	if err := json.Unmarshal(docBytes, &vm); err != nil {
		return nil, fmt.Errorf("parse verification method %s: %w", id, err)
	}

	return &vm, nil
}

// VerificationKeyResolver resolves verification method ids to public keys
// for delegation proof checking: did:key ids locally, others through the
// document loader.
type VerificationKeyResolver struct {
	Loader ld.DocumentLoader
}

// Resolve the verification method id to a public key
func (r *VerificationKeyResolver) Resolve(id string) (*ariesverifier.PublicKey, error) {
	vm, err := ResolveVerificationMethod(r.Loader, id)
	if err != nil {
		return nil, err
	}

	if vm.PublicKeyBase58 == "" {
		return nil, fmt.Errorf("verification method %s carries no public key", id)
	}

	value, err := base58.Decode(vm.PublicKeyBase58, base58.BitcoinAlphabet)
	if err != nil {
		return nil, fmt.Errorf("decode public key of %s: %w", id, err)
	}

	return &ariesverifier.PublicKey{
		Type:  vm.Type,
		Value: value,
	}, nil
}

// DIDKeyGetVerifier is a ready made GetVerifier for hosts whose clients
// sign with did:key identifiers: the key material is embedded in the key
// id, so no document loading is involved.
func DIDKeyGetVerifier() GetVerifier {
	return func(_ context.Context, keyID string, _ ld.DocumentLoader) (httpsignature.Verifier, *VerificationMethod, error) {
		vm, pubKey, err := DIDKeyVerificationMethod(keyID)
		if err != nil {
			return nil, nil, err
		}
		return httpsignature.Ed25519PubKey(pubKey), vm, nil
	}
}
