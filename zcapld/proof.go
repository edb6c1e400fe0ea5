package zcapld

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/pkg/doc/signature/jsonld"
	ariesverifier "github.com/hyperledger/aries-framework-go/pkg/doc/signature/verifier"
)

// Proof is the cryptographic delegation proof attached to a non-root
// capability.
type Proof struct {
	Type               string
	Created            *time.Time
	Creator            string
	VerificationMethod string
	ProofPurpose       string
	CapabilityChain    []string
	ProofValue         string
	JWS                string
}

type proofEnvelope struct {
	Type               string          `json:"type,omitempty"`
	Created            string          `json:"created,omitempty"`
	Creator            string          `json:"creator,omitempty"`
	VerificationMethod string          `json:"verificationMethod,omitempty"`
	ProofPurpose       string          `json:"proofPurpose,omitempty"`
	CapabilityChain    json.RawMessage `json:"capabilityChain,omitempty"`
	ProofValue         string          `json:"proofValue,omitempty"`
	JWS                string          `json:"jws,omitempty"`
}

// UnmarshalJSON decodes a proof, tolerating the chain reference shapes
// JSON-LD permits (bare ids or objects with an id).
func (p *Proof) UnmarshalJSON(data []byte) error {
	var env proofEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	p.Type = env.Type
	p.Creator = env.Creator
	p.VerificationMethod = env.VerificationMethod
	p.ProofPurpose = env.ProofPurpose
	p.ProofValue = env.ProofValue
	p.JWS = env.JWS

	if env.Created != "" {
		t, err := time.Parse(time.RFC3339, env.Created)
		if err != nil {
			return fmt.Errorf("invalid proof created: %w", err)
		}
		p.Created = &t
	}

	if len(env.CapabilityChain) > 0 {
		var entries []interface{}
		if err := json.Unmarshal(env.CapabilityChain, &entries); err != nil {
			return fmt.Errorf("invalid capabilityChain: %w", err)
		}
		for _, entry := range entries {
			switch v := entry.(type) {
			case string:
				p.CapabilityChain = append(p.CapabilityChain, v)
			case map[string]interface{}:
				id, _ := v["id"].(string)
				if id == "" {
					return fmt.Errorf("capabilityChain entry has no id: %v", entry)
				}
				p.CapabilityChain = append(p.CapabilityChain, id)
			default:
				return fmt.Errorf("invalid capabilityChain entry: %v", entry)
			}
		}
	}

	return nil
}

// VerifierID is the identity the proof claims signed it: the creator when
// set, otherwise the verification method.
func (p *Proof) VerifierID() string {
	if p.Creator != "" {
		return p.Creator
	}
	return p.VerificationMethod
}

func parseProofs(raw json.RawMessage) ([]Proof, error) {
	var one Proof
	if err := json.Unmarshal(raw, &one); err == nil {
		return []Proof{one}, nil
	}
	var many []Proof
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("invalid proof: %w", err)
	}
	return many, nil
}

// ProofChecker verifies the delegation proofs over a capability document.
// Implementations must be safe for concurrent use across requests.
type ProofChecker interface {
	CheckProof(ctx context.Context, capability []byte) error
}

// KeyResolver resolves a verification method id to a public key.
type KeyResolver interface {
	Resolve(id string) (*ariesverifier.PublicKey, error)
}

// AriesProofChecker checks JSON-LD delegation proofs with a set of aries
// signature suites, typically produced per request by a host suite factory.
type AriesProofChecker struct {
	Suites        []ariesverifier.SignatureSuite
	KeyResolver   KeyResolver
	ProcessorOpts []jsonld.ProcessorOpts
}

// CheckProof verifies all proofs on the capability document
func (c *AriesProofChecker) CheckProof(ctx context.Context, capability []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v, err := ariesverifier.New(c.KeyResolver, c.Suites...)
	if err != nil {
		return fmt.Errorf("construct document verifier: %w", err)
	}

	return v.Verify(capability, c.ProcessorOpts...)
}
