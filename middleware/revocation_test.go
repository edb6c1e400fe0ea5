package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracred/zcap-go/documentloader"
	"github.com/veracred/zcap-go/zcapld"
)

func testRevocationOptions(admin *zcapClient) RevocationOptions {
	return RevocationOptions{
		DocumentLoader: documentloader.NewStaticLoader(),
		ExpectedHost:   testHost,
		GetRootController: func(_ *http.Request, _, _ string) ([]string, error) {
			return []string{admin.did}, nil
		},
		GetVerifier:  zcapld.DIDKeyGetVerifier(),
		ProofChecker: okProofChecker{},
	}
}

func revocationHandler(t *testing.T, revocation **zcapld.RevocationContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rev, err := GetRevocation(r.Context())
		require.NoError(t, err)
		_, err = GetInvocation(r.Context())
		require.NoError(t, err)
		if revocation != nil {
			*revocation = rev
		}
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "Revocation recorded."}`))
	})
}

func TestAuthorizeZCAPRevocationHappyPath(t *testing.T) {
	admin := newZcapClient(t)
	delegate := newZcapClient(t)

	serviceObjectID := "https://" + testHost + "/service-objects/123"
	delegatedID := "urn:uuid:delegated-1"
	delegated := delegateCapability(t, delegatedID, zcapld.RootCapabilityID(serviceObjectID), serviceObjectID,
		delegate, admin, time.Now().Add(24*time.Hour))

	revocationURL := serviceObjectID + "/revocations/" + url.QueryEscape(delegatedID)

	var revocation *zcapld.RevocationContext
	handler := AuthorizeZCAPRevocation(testRevocationOptions(admin))(revocationHandler(t, &revocation))

	// any controller in the to-be-revoked chain may submit the revocation
	req := delegate.invoke(t, http.MethodPost, revocationURL, delegated, zcapld.RootCapabilityID(revocationURL), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotNil(t, revocation)
	assert.Equal(t, admin.did, revocation.Delegator)
	assert.Contains(t, revocation.ChainControllers, admin.did)
	assert.Contains(t, revocation.ChainControllers, delegate.did)
}

func TestAuthorizeZCAPRevocationByRootController(t *testing.T) {
	admin := newZcapClient(t)
	delegate := newZcapClient(t)

	serviceObjectID := "https://" + testHost + "/service-objects/123"
	delegatedID := "urn:uuid:delegated-2"
	delegated := delegateCapability(t, delegatedID, zcapld.RootCapabilityID(serviceObjectID), serviceObjectID,
		delegate, admin, time.Now().Add(24*time.Hour))

	revocationURL := serviceObjectID + "/revocations/" + url.QueryEscape(delegatedID)

	handler := AuthorizeZCAPRevocation(testRevocationOptions(admin))(revocationHandler(t, nil))

	// the admin authorizes via the service object's own root capability
	req := admin.invoke(t, http.MethodPost, revocationURL, delegated, zcapld.RootCapabilityID(serviceObjectID), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestAuthorizeZCAPRevocationRootNotRevocable(t *testing.T) {
	admin := newZcapClient(t)

	serviceObjectID := "https://" + testHost + "/service-objects/123"
	rootID := zcapld.RootCapabilityID(serviceObjectID)
	root := []byte(`{
		"@context": "https://w3id.org/zcap/v1",
		"id": "` + rootID + `",
		"invocationTarget": "` + serviceObjectID + `",
		"controller": "` + admin.did + `"
	}`)

	revocationURL := serviceObjectID + "/revocations/" + url.QueryEscape(rootID)

	handler := AuthorizeZCAPRevocation(testRevocationOptions(admin))(revocationHandler(t, nil))

	req := admin.invoke(t, http.MethodPost, revocationURL, root, zcapld.RootCapabilityID(serviceObjectID), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	appErr := decodeAppError(t, rr)
	assert.Equal(t, "NotAllowedError", appErr.Name)
	assert.Equal(t, "A root capability cannot be revoked.", appErr.Message)
}

func TestAuthorizeZCAPRevocationInvalidProof(t *testing.T) {
	admin := newZcapClient(t)
	delegate := newZcapClient(t)

	serviceObjectID := "https://" + testHost + "/service-objects/123"
	delegatedID := "urn:uuid:delegated-3"
	noProof := []byte(`{
		"@context": "https://w3id.org/zcap/v1",
		"id": "` + delegatedID + `",
		"parentCapability": "` + zcapld.RootCapabilityID(serviceObjectID) + `",
		"invocationTarget": "` + serviceObjectID + `",
		"controller": "` + delegate.did + `",
		"expires": "` + time.Now().Add(time.Hour).UTC().Format(time.RFC3339) + `"
	}`)

	revocationURL := serviceObjectID + "/revocations/" + url.QueryEscape(delegatedID)

	handler := AuthorizeZCAPRevocation(testRevocationOptions(admin))(revocationHandler(t, nil))

	req := admin.invoke(t, http.MethodPost, revocationURL, noProof, zcapld.RootCapabilityID(serviceObjectID), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	appErr := decodeAppError(t, rr)
	assert.Equal(t, "DataError", appErr.Name)
	assert.Equal(t, "The provided capability delegation is invalid.", appErr.Message)
}

func TestAuthorizeZCAPRevocationUnrelatedServiceObject(t *testing.T) {
	admin := newZcapClient(t)
	delegate := newZcapClient(t)

	serviceObjectID := "https://" + testHost + "/service-objects/123"
	otherObjectID := "https://" + testHost + "/service-objects/999"
	delegatedID := "urn:uuid:delegated-4"
	delegated := delegateCapability(t, delegatedID, zcapld.RootCapabilityID(otherObjectID), otherObjectID,
		delegate, admin, time.Now().Add(24*time.Hour))

	revocationURL := serviceObjectID + "/revocations/" + url.QueryEscape(delegatedID)

	handler := AuthorizeZCAPRevocation(testRevocationOptions(admin))(revocationHandler(t, nil))

	req := admin.invoke(t, http.MethodPost, revocationURL, delegated, zcapld.RootCapabilityID(serviceObjectID), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "NotAllowedError", decodeAppError(t, rr).Name)
}

func TestAuthorizeZCAPRevocationStrangerForbidden(t *testing.T) {
	admin := newZcapClient(t)
	delegate := newZcapClient(t)
	stranger := newZcapClient(t)

	serviceObjectID := "https://" + testHost + "/service-objects/123"
	delegatedID := "urn:uuid:delegated-5"
	delegated := delegateCapability(t, delegatedID, zcapld.RootCapabilityID(serviceObjectID), serviceObjectID,
		delegate, admin, time.Now().Add(24*time.Hour))

	revocationURL := serviceObjectID + "/revocations/" + url.QueryEscape(delegatedID)

	handler := AuthorizeZCAPRevocation(testRevocationOptions(admin))(revocationHandler(t, nil))

	// a key outside the chain cannot self-authorize
	req := stranger.invoke(t, http.MethodPost, revocationURL, delegated, zcapld.RootCapabilityID(revocationURL), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAuthorizeZCAPRevocationMisconfigured(t *testing.T) {
	admin := newZcapClient(t)

	handler := AuthorizeZCAPRevocation(testRevocationOptions(admin))(revocationHandler(t, nil))

	req, err := http.NewRequest(http.MethodPost, "https://"+testHost+"/service-objects/123", nil)
	require.NoError(t, err)
	req.Host = testHost

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "InvalidStateError", decodeAppError(t, rr).Name)
}
