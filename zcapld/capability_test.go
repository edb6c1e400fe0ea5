package zcapld

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapabilityShapes(t *testing.T) {
	data := []byte(`{
		"@context": ["https://w3id.org/zcap/v1", "https://w3id.org/security/v2"],
		"id": "urn:uuid:abc",
		"parentCapability": "urn:zcap:root:https%3A%2F%2Fexample.org%2Fdocuments",
		"invocationTarget": {"id": "https://example.org/documents", "type": "urn:datahub:documents"},
		"controller": ["did:key:z6MkOne", "did:key:z6MkTwo"],
		"allowedAction": "write",
		"expires": "2026-01-02T15:04:05Z",
		"proof": [{
			"type": "Ed25519Signature2018",
			"created": "2025-01-02T15:04:05Z",
			"verificationMethod": "did:key:z6MkOne#z6MkOne",
			"proofPurpose": "capabilityDelegation",
			"capabilityChain": [{"id": "urn:zcap:root:https%3A%2F%2Fexample.org%2Fdocuments"}],
			"jws": "eyJh..sig"
		}]
	}`)

	c, err := ParseCapability(data)
	require.NoError(t, err)

	assert.Equal(t, "urn:uuid:abc", c.ID)
	assert.False(t, c.IsRoot())
	assert.Equal(t, "https://example.org/documents", c.InvocationTarget.ID)
	assert.Equal(t, []string{"did:key:z6MkOne", "did:key:z6MkTwo"}, c.Controllers())
	assert.Equal(t, []string{"write"}, c.AllowedAction)
	assert.True(t, c.AllowsAction("write"))
	assert.False(t, c.AllowsAction("read"))
	require.NotNil(t, c.Expires)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), c.Expires.UTC())

	require.Len(t, c.Proof, 1)
	assert.Equal(t, ProofPurposeDelegation, c.Proof[0].ProofPurpose)
	assert.Equal(t, []string{"urn:zcap:root:https%3A%2F%2Fexample.org%2Fdocuments"}, c.Proof[0].CapabilityChain)

	// the original bytes are preserved for proof verification
	out, err := c.Bytes()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(out))
}

func TestCapabilityControllerFallbacks(t *testing.T) {
	c, err := ParseCapability([]byte(`{"id": "urn:uuid:a", "invoker": "did:key:z6MkInv"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"did:key:z6MkInv"}, c.Controllers(), "invoker is the controller when none is set")

	c, err = ParseCapability([]byte(`{"id": "did:key:z6MkSelf"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"did:key:z6MkSelf"}, c.Controllers(), "a bare capability is controlled by its id")
}

func TestCapabilityMarshalConstructed(t *testing.T) {
	expires := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	c := &Capability{
		Context:          ContextV1,
		ID:               "urn:uuid:built",
		Controller:       []string{"did:key:z6MkOne"},
		ParentCapability: "urn:uuid:parent",
		InvocationTarget: Target{ID: "https://example.org/x"},
		AllowedAction:    []string{"read", "write"},
		Expires:          &expires,
	}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "did:key:z6MkOne", m["controller"], "a single controller serializes as a bare string")
	assert.Equal(t, "https://example.org/x", m["invocationTarget"])
	assert.Equal(t, []interface{}{"read", "write"}, m["allowedAction"])
	assert.Equal(t, "2026-01-02T15:04:05Z", m["expires"])
}
