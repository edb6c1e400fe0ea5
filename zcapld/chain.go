package zcapld

import (
	"context"
	"strings"
	"time"

	"github.com/piprate/json-gold/ld"
)

const (
	// DefaultMaxChainLength bounds the delegation chain, root included
	DefaultMaxChainLength = 10
	// DefaultMaxDelegationTTL bounds the lifetime of any single delegation
	DefaultMaxDelegationTTL = 90 * 24 * time.Hour
	// DefaultMaxClockSkew is the tolerance applied to all time comparisons
	DefaultMaxClockSkew = 300 * time.Second
)

// Expected carries the per-request values verification must enforce.
type Expected struct {
	Host              string
	Action            string
	Target            string
	RootCapabilityIDs []string
}

// ChainInspector may veto an otherwise valid chain, e.g. against a
// revocation list. It receives the dereferenced chain ordered root first.
type ChainInspector func(chain []*Capability) error

// ChainVerifier walks and verifies a capability delegation chain. The
// zero value of each policy field falls back to the package default; Now
// is sampled once per request so every check in a pass agrees on the
// time.
type ChainVerifier struct {
	Loader                 ld.DocumentLoader
	Proofs                 ProofChecker
	MaxChainLength         int
	MaxDelegationTTL       time.Duration
	MaxClockSkew           time.Duration
	AllowTargetAttenuation bool
	Inspect                ChainInspector
	Now                    time.Time
}

func (v *ChainVerifier) maxChainLength() int {
	if v.MaxChainLength > 0 {
		return v.MaxChainLength
	}
	return DefaultMaxChainLength
}

func (v *ChainVerifier) maxDelegationTTL() time.Duration {
	if v.MaxDelegationTTL > 0 {
		return v.MaxDelegationTTL
	}
	return DefaultMaxDelegationTTL
}

func (v *ChainVerifier) maxClockSkew() time.Duration {
	if v.MaxClockSkew > 0 {
		return v.MaxClockSkew
	}
	return DefaultMaxClockSkew
}

func (v *ChainVerifier) now() time.Time {
	if !v.Now.IsZero() {
		return v.Now
	}
	return time.Now()
}

// VerifyChain dereferences the chain from the given capability up to its
// root and enforces the delegation policy. On success it returns the
// chain ordered root first, invoked capability last.
func (v *ChainVerifier) VerifyChain(ctx context.Context, capability *Capability, expected *Expected) ([]*Capability, error) {
	chain, err := v.dereferenceChain(ctx, capability)
	if err != nil {
		return nil, err
	}

	root := chain[0]
	if err := v.verifyRoot(root, expected); err != nil {
		return nil, err
	}

	now := v.now()
	for i := 1; i < len(chain); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := v.verifyDelegation(ctx, chain[i], chain[i-1], now); err != nil {
			return nil, err
		}
	}

	if v.Inspect != nil {
		if err := v.Inspect(chain); err != nil {
			return nil, NotAuthorized(err)
		}
	}

	return chain, nil
}

// dereferenceChain walks parentCapability links root-ward, bounding the
// walk and rejecting cycles by id.
func (v *ChainVerifier) dereferenceChain(ctx context.Context, capability *Capability) ([]*Capability, error) {
	chain := []*Capability{capability}
	seen := map[string]struct{}{capability.ID: {}}

	cur := capability
	for !cur.IsRoot() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(chain) >= v.maxChainLength() {
			return nil, NotAuthorizedf("the capability chain exceeds the maximum allowed length of %d", v.maxChainLength())
		}

		parentID := cur.ParentCapability
		if parentID == "" {
			return nil, NotAuthorizedf("capability %s has no parent and is not a root capability", cur.ID)
		}
		if _, ok := seen[parentID]; ok {
			return nil, NotAuthorizedf("the capability chain contains a cycle at %s", parentID)
		}
		seen[parentID] = struct{}{}

		parent, err := LoadCapability(v.Loader, parentID)
		if err != nil {
			return nil, NotAuthorized(err)
		}
		if parent.ID != "" && parent.ID != parentID {
			return nil, NotAuthorizedf("dereferenced capability id %s does not match reference %s", parent.ID, parentID)
		}

		chain = append(chain, parent)
		cur = parent
	}

	// reverse to root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}

func (v *ChainVerifier) verifyRoot(root *Capability, expected *Expected) error {
	if !root.IsRoot() {
		return NotAuthorizedf("capability chain does not terminate in a root capability")
	}

	if expected != nil && len(expected.RootCapabilityIDs) > 0 {
		found := false
		for _, id := range expected.RootCapabilityIDs {
			if root.ID == id {
				found = true
				break
			}
		}
		if !found {
			return NotAuthorizedf("the root capability %s is not an expected root capability", root.ID)
		}
	}

	return nil
}

// verifyDelegation enforces the policy for one delegation link between a
// capability and its parent.
func (v *ChainVerifier) verifyDelegation(ctx context.Context, capability, parent *Capability, now time.Time) error {
	delegationProof := findDelegationProof(capability.Proof)
	if delegationProof == nil {
		return NotAuthorizedf("capability %s carries no delegation proof", capability.ID)
	}

	// the delegation must be signed by a controller of the parent
	if !v.matchesController(delegationProof.VerifierID(), parent.Controllers()) {
		return NotAuthorizedf("the delegator of %s is not a controller of its parent capability", capability.ID)
	}

	skew := v.maxClockSkew()

	if capability.Expires == nil {
		return NotAuthorizedf("delegated capability %s must have an expires date", capability.ID)
	}
	if capability.Expires.Before(now.Add(-skew)) {
		return NotAuthorizedf("capability %s expired at %s", capability.ID, capability.Expires)
	}

	if created := delegationProof.Created; created != nil {
		if created.After(now.Add(skew)) {
			return NotAuthorizedf("capability %s delegation proof was created in the future", capability.ID)
		}
		if capability.Expires.Sub(*created) > v.maxDelegationTTL() {
			return NotAuthorizedf("capability %s lifetime exceeds the maximum delegation time to live", capability.ID)
		}
	}

	if err := v.verifyAttenuation(capability, parent); err != nil {
		return err
	}

	capabilityBytes, err := capability.Bytes()
	if err != nil {
		return NotAuthorized(err)
	}

	if err := v.Proofs.CheckProof(ctx, capabilityBytes); err != nil {
		return NotAuthorized(err)
	}

	return nil
}

// verifyAttenuation enforces the target policy between a capability and
// its parent: byte equality, or hierarchical path attenuation when the
// policy allows it.
func (v *ChainVerifier) verifyAttenuation(capability, parent *Capability) error {
	childTarget := capability.InvocationTarget.ID
	parentTarget := parent.InvocationTarget.ID

	if childTarget == parentTarget {
		return nil
	}
	if v.AllowTargetAttenuation && IsPathPrefix(parentTarget, childTarget) {
		return nil
	}

	return NotAuthorizedf(
		"the invocation target %s of %s is not permitted by its parent target %s",
		childTarget, capability.ID, parentTarget)
}

// matchesController reports whether the verifier id names one of the
// controllers, directly, by DID prefix, or via its resolved controller.
func (v *ChainVerifier) matchesController(verifierID string, controllers []string) bool {
	if verifierID == "" {
		return false
	}

	did := verifierID
	if idx := strings.Index(did, "#"); idx >= 0 {
		did = did[:idx]
	}

	for _, c := range controllers {
		if verifierID == c || did == c {
			return true
		}
	}

	// fall back to the verification method document's controller
	vm, err := ResolveVerificationMethod(v.Loader, verifierID)
	if err != nil || vm.Controller == "" {
		return false
	}
	for _, c := range controllers {
		if vm.Controller == c {
			return true
		}
	}

	return false
}

func findDelegationProof(proofs []Proof) *Proof {
	for i := range proofs {
		if proofs[i].ProofPurpose == ProofPurposeDelegation {
			return &proofs[i]
		}
	}
	return nil
}

// IsPathPrefix reports whether child equals parent or descends from it by
// url path hierarchy.
func IsPathPrefix(parent, child string) bool {
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, strings.TrimSuffix(parent, "/")+"/")
}
