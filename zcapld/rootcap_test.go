package zcapld

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracred/zcap-go/documentloader"
)

func TestRootCapabilityIDRoundTrip(t *testing.T) {
	for _, target := range []string{
		"https://example.org/documents",
		"https://localhost:18443/service-objects/123",
		"https://example.org/items?filter=a b&x=1",
	} {
		id := RootCapabilityID(target)
		assert.True(t, IsRootCapabilityID(id))

		decoded, err := RootInvocationTarget(id)
		require.NoError(t, err)
		assert.Equal(t, target, decoded, "the codec must round trip byte exact")
	}

	assert.Equal(t,
		"urn:zcap:root:https%3A%2F%2Fexample.org%2Fdocuments",
		RootCapabilityID("https://example.org/documents"))

	_, err := RootInvocationTarget("urn:uuid:not-a-root")
	assert.Error(t, err)
}

func TestRootCapabilityLoaderSynthesis(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.org/documents", nil)
	require.NoError(t, err)

	var gotRootID, gotTarget string
	loader := &RootCapabilityLoader{
		Base:    documentloader.NewStaticLoader(),
		Request: req,
		GetRootController: func(r *http.Request, rootCapabilityID, rootInvocationTarget string) ([]string, error) {
			assert.Equal(t, req, r)
			gotRootID = rootCapabilityID
			gotTarget = rootInvocationTarget
			return []string{"did:key:z6MkController"}, nil
		},
	}

	rootID := RootCapabilityID("https://example.org/documents")
	capability, err := LoadCapability(loader, rootID)
	require.NoError(t, err)

	assert.Equal(t, rootID, gotRootID)
	assert.Equal(t, "https://example.org/documents", gotTarget)
	assert.Equal(t, rootID, capability.ID)
	assert.True(t, capability.IsRoot())
	assert.Equal(t, "https://example.org/documents", capability.InvocationTarget.ID)
	assert.Equal(t, []string{"did:key:z6MkController"}, capability.Controllers())
}

func TestRootCapabilityLoaderDelegates(t *testing.T) {
	base := documentloader.NewStaticLoader()
	require.NoError(t, base.AddJSON("urn:uuid:dead", []byte(`{"id": "urn:uuid:dead", "invocationTarget": "https://example.org/x"}`)))

	loader := &RootCapabilityLoader{
		Base: base,
		GetRootController: func(*http.Request, string, string) ([]string, error) {
			t.Fatal("the base loader must serve non-root urls")
			return nil, nil
		},
	}

	capability, err := LoadCapability(loader, "urn:uuid:dead")
	require.NoError(t, err)
	assert.Equal(t, "urn:uuid:dead", capability.ID)
	assert.Equal(t, "https://example.org/x", capability.InvocationTarget.ID)
}
