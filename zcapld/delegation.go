package zcapld

import (
	"context"
	"strings"
)

// RevocationContext is the outcome of verifying a capability submitted
// for revocation: who delegated it last, the dereferenced chain, and the
// transitive set of controllers appearing anywhere in the chain.
type RevocationContext struct {
	Delegator        string
	Chain            []*Capability
	ChainControllers []string
}

// DelegationVerifier verifies a zcap delegation document submitted as a
// request body, without any HTTP signature involvement.
type DelegationVerifier struct {
	Chain *ChainVerifier
}

// VerifyDelegation verifies the submitted capability delegation and
// collects its revocation context. Roots are rejected outright: they are
// synthesized, not delegated, so there is nothing to revoke.
func (d *DelegationVerifier) VerifyDelegation(ctx context.Context, capabilityBytes []byte) (*RevocationContext, error) {
	capability, err := ParseCapability(capabilityBytes)
	if err != nil {
		return nil, ErrInvalidDelegation.WithCause(err)
	}

	if IsRootCapabilityID(capability.ID) {
		return nil, ErrRootNotRevocable
	}
	if capability.IsRoot() {
		return nil, ErrInvalidDelegation.WithCause(NotAuthorizedf("the submitted capability is not a delegation"))
	}

	chain, err := d.Chain.VerifyChain(ctx, capability, nil)
	if err != nil {
		return nil, ErrInvalidDelegation.WithCause(err)
	}

	return &RevocationContext{
		Delegator:        delegatorOf(capability),
		Chain:            chain,
		ChainControllers: chainControllers(chain),
	}, nil
}

// chainControllers collects the transitive controller set of a chain,
// deduplicated, insertion order preserved root first.
func chainControllers(chain []*Capability) []string {
	var out []string
	seen := map[string]struct{}{}

	for _, capability := range chain {
		for _, c := range capability.Controllers() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}

	return out
}

// delegatorOf names the last signer in the chain, by its DID when the
// verification method carries a fragment.
func delegatorOf(capability *Capability) string {
	p := findDelegationProof(capability.Proof)
	if p == nil {
		return ""
	}
	id := p.VerifierID()
	if idx := strings.Index(id, "#"); idx >= 0 {
		return id[:idx]
	}
	return id
}
