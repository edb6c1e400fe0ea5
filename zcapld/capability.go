// Package zcapld implements verification of Authorization Capabilities
// (zcaps) delegated and invoked as JSON-LD documents over signed HTTP
// requests.
package zcapld

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/pkg/doc/signature/jsonld"
	"github.com/hyperledger/aries-framework-go/pkg/doc/signature/proof"
	docsigner "github.com/hyperledger/aries-framework-go/pkg/doc/signature/signer"
	uuid "github.com/satori/go.uuid"
)

const (
	// ContextV1 is the JSON-LD context for zcap documents
	ContextV1 = "https://w3id.org/zcap/v1"
	// SecurityContextV2 is the JSON-LD security context
	SecurityContextV2 = "https://w3id.org/security/v2"

	// ProofPurposeDelegation is the proof purpose set on capability delegations
	ProofPurposeDelegation = "capabilityDelegation"
	// ProofPurposeInvocation is the proof purpose set on capability invocations
	ProofPurposeInvocation = "capabilityInvocation"
)

// Target is the invocation target of a capability. Serialized as a bare
// string or as an object with an id, depending on how it was authored.
type Target struct {
	ID   string
	Type string
}

// Capability is an authorization capability: a transferable, attenuable
// grant of an action against an invocation target, rooted in a chain of
// signed delegations.
type Capability struct {
	Context          interface{}
	ID               string
	Invoker          string
	Controller       []string
	ParentCapability string
	InvocationTarget Target
	AllowedAction    []string
	Expires          *time.Time
	Proof            []Proof

	raw []byte
}

type capabilityEnvelope struct {
	Context          json.RawMessage `json:"@context,omitempty"`
	ID               string          `json:"id,omitempty"`
	Invoker          string          `json:"invoker,omitempty"`
	Controller       json.RawMessage `json:"controller,omitempty"`
	ParentCapability string          `json:"parentCapability,omitempty"`
	InvocationTarget json.RawMessage `json:"invocationTarget,omitempty"`
	AllowedAction    json.RawMessage `json:"allowedAction,omitempty"`
	Expires          string          `json:"expires,omitempty"`
	Proof            json.RawMessage `json:"proof,omitempty"`
}

// ParseCapability parses a capability document, preserving the original
// bytes for later proof verification.
func ParseCapability(data []byte) (*Capability, error) {
	var c Capability
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse capability: %w", err)
	}
	return &c, nil
}

// UnmarshalJSON decodes a capability, normalizing the one-vs-many shapes
// the JSON-LD form permits.
func (c *Capability) UnmarshalJSON(data []byte) error {
	var env capabilityEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	c.ID = env.ID
	c.Invoker = env.Invoker
	c.ParentCapability = env.ParentCapability
	c.raw = append([]byte(nil), data...)

	if len(env.Context) > 0 {
		var ctx interface{}
		if err := json.Unmarshal(env.Context, &ctx); err != nil {
			return err
		}
		c.Context = ctx
	}

	controllers, err := oneOrMany(env.Controller, "controller")
	if err != nil {
		return err
	}
	c.Controller = controllers

	actions, err := oneOrMany(env.AllowedAction, "allowedAction")
	if err != nil {
		return err
	}
	c.AllowedAction = actions

	if len(env.InvocationTarget) > 0 {
		var target string
		if err := json.Unmarshal(env.InvocationTarget, &target); err == nil {
			c.InvocationTarget = Target{ID: target}
		} else {
			var obj struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			}
			if err := json.Unmarshal(env.InvocationTarget, &obj); err != nil {
				return fmt.Errorf("invalid invocationTarget: %w", err)
			}
			c.InvocationTarget = Target{ID: obj.ID, Type: obj.Type}
		}
	}

	if env.Expires != "" {
		t, err := time.Parse(time.RFC3339, env.Expires)
		if err != nil {
			return fmt.Errorf("invalid expires: %w", err)
		}
		c.Expires = &t
	}

	if len(env.Proof) > 0 {
		proofs, err := parseProofs(env.Proof)
		if err != nil {
			return err
		}
		c.Proof = proofs
	}

	return nil
}

// MarshalJSON returns the original document bytes when the capability was
// parsed or signed, so proofs verify over the exact bytes received.
func (c *Capability) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}
	return json.Marshal(c.toMap())
}

func (c *Capability) toMap() map[string]interface{} {
	m := map[string]interface{}{
		"@context": c.Context,
		"id":       c.ID,
	}
	if c.Invoker != "" {
		m["invoker"] = c.Invoker
	}
	switch len(c.Controller) {
	case 0:
	case 1:
		m["controller"] = c.Controller[0]
	default:
		m["controller"] = c.Controller
	}
	if c.ParentCapability != "" {
		m["parentCapability"] = c.ParentCapability
	}
	if c.InvocationTarget.ID != "" {
		if c.InvocationTarget.Type == "" {
			m["invocationTarget"] = c.InvocationTarget.ID
		} else {
			m["invocationTarget"] = map[string]interface{}{
				"id":   c.InvocationTarget.ID,
				"type": c.InvocationTarget.Type,
			}
		}
	}
	switch len(c.AllowedAction) {
	case 0:
	case 1:
		m["allowedAction"] = c.AllowedAction[0]
	default:
		m["allowedAction"] = c.AllowedAction
	}
	if c.Expires != nil {
		m["expires"] = c.Expires.UTC().Format(time.RFC3339)
	}
	return m
}

// Bytes returns the serialized capability document
func (c *Capability) Bytes() ([]byte, error) {
	return c.MarshalJSON()
}

// IsRoot reports whether the capability is the root of its chain
func (c *Capability) IsRoot() bool {
	return c.ParentCapability == "" || IsRootCapabilityID(c.ID)
}

// Controllers returns the identifiers entitled to invoke or further
// delegate the capability, falling back from controller to invoker to id.
func (c *Capability) Controllers() []string {
	if len(c.Controller) > 0 {
		return c.Controller
	}
	if c.Invoker != "" {
		return []string{c.Invoker}
	}
	if c.ID != "" {
		return []string{c.ID}
	}
	return nil
}

// AllowsAction reports whether the capability grants the action. A
// capability without an allowedAction restriction grants any action.
func (c *Capability) AllowsAction(action string) bool {
	if len(c.AllowedAction) == 0 {
		return true
	}
	for _, a := range c.AllowedAction {
		if a == action {
			return true
		}
	}
	return false
}

func oneOrMany(raw json.RawMessage, field string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return many, nil
}

// Signer signs capability delegations with a JSON-LD signature suite.
type Signer struct {
	SignatureSuite     docsigner.SignatureSuite
	SuiteType          string
	VerificationMethod string
	ProcessorOpts      []jsonld.ProcessorOpts
}

// CapabilityOption configures a new capability
type CapabilityOption func(*capabilityBuilder)

type capabilityBuilder struct {
	capability *Capability
	chain      []interface{}
}

// WithID overrides the generated capability id
func WithID(id string) CapabilityOption {
	return func(b *capabilityBuilder) {
		b.capability.ID = id
	}
}

// WithParent sets the parent capability id
func WithParent(id string) CapabilityOption {
	return func(b *capabilityBuilder) {
		b.capability.ParentCapability = id
	}
}

// WithInvoker sets the identifier entitled to invoke the capability
func WithInvoker(invoker string) CapabilityOption {
	return func(b *capabilityBuilder) {
		b.capability.Invoker = invoker
	}
}

// WithController sets the identifier entitled to delegate the capability
func WithController(controller string) CapabilityOption {
	return func(b *capabilityBuilder) {
		b.capability.Controller = append(b.capability.Controller, controller)
	}
}

// WithAllowedActions restricts the actions the capability grants
func WithAllowedActions(actions ...string) CapabilityOption {
	return func(b *capabilityBuilder) {
		b.capability.AllowedAction = actions
	}
}

// WithInvocationTarget sets the invocation target
func WithInvocationTarget(targetID, targetType string) CapabilityOption {
	return func(b *capabilityBuilder) {
		b.capability.InvocationTarget = Target{ID: targetID, Type: targetType}
	}
}

// WithExpires sets the expiry of the delegation
func WithExpires(t time.Time) CapabilityOption {
	return func(b *capabilityBuilder) {
		utc := t.UTC()
		b.capability.Expires = &utc
	}
}

// WithCapabilityChain sets the chain of parent ids embedded in the
// delegation proof, ordered root first
func WithCapabilityChain(chain ...interface{}) CapabilityOption {
	return func(b *capabilityBuilder) {
		b.chain = chain
	}
}

// NewCapability creates a capability delegation signed with the given
// signer's signature suite under the capabilityDelegation proof purpose.
func NewCapability(signer *Signer, opts ...CapabilityOption) (*Capability, error) {
	b := &capabilityBuilder{capability: &Capability{
		Context: ContextV1,
		ID:      "urn:uuid:" + uuid.NewV4().String(),
	}}

	for _, opt := range opts {
		opt(b)
	}

	docBytes, err := json.Marshal(b.capability.toMap())
	if err != nil {
		return nil, fmt.Errorf("marshal capability: %w", err)
	}

	now := time.Now()

	signedBytes, err := docsigner.New(signer.SignatureSuite).Sign(&docsigner.Context{
		SignatureType:           signer.SuiteType,
		SignatureRepresentation: proof.SignatureJWS,
		Created:                 &now,
		VerificationMethod:      signer.VerificationMethod,
		Purpose:                 ProofPurposeDelegation,
		CapabilityChain:         b.chain,
	}, docBytes, signer.ProcessorOpts...)
	if err != nil {
		return nil, fmt.Errorf("sign capability: %w", err)
	}

	return ParseCapability(signedBytes)
}
