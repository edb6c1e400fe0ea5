package middleware

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/piprate/json-gold/ld"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracred/zcap-go/digest"
	"github.com/veracred/zcap-go/documentloader"
	"github.com/veracred/zcap-go/handlers"
	"github.com/veracred/zcap-go/httpsignature"
	"github.com/veracred/zcap-go/zcapld"
)

const testHost = "localhost:18443"

// okProofChecker stands in for suite based delegation proof verification
type okProofChecker struct{}

func (okProofChecker) CheckProof(context.Context, []byte) error { return nil }

// zcapClient signs zcap invocations with an ed25519 did:key
type zcapClient struct {
	did   string
	keyID string
	priv  ed25519.PrivateKey
}

func newZcapClient(t *testing.T) *zcapClient {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	did := zcapld.DIDKeyID(pub)
	vm, _, err := zcapld.DIDKeyVerificationMethod(did)
	require.NoError(t, err)

	return &zcapClient{did: did, keyID: vm.ID, priv: priv}
}

// invoke builds a signed zcap invocation request
func (c *zcapClient) invoke(t *testing.T, method, rawurl string, body []byte, capabilityRef, action string) *http.Request {
	t.Helper()

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, rawurl, bytes.NewReader(body))
	} else {
		req, err = http.NewRequest(method, rawurl, nil)
	}
	require.NoError(t, err)
	req.Host = req.URL.Host

	invocation := &zcapld.CapabilityInvocation{Capability: capabilityRef, Action: action}
	req.Header.Set("Capability-Invocation", invocation.Header())

	headers := []string{"(created)", "(expires)", "(request-target)", "host", "capability-invocation"}
	if body != nil {
		var d digest.Instance
		d.Hash = crypto.SHA256
		d.Update(body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Length", strconv.Itoa(len(body)))
		req.Header.Set("Digest", d.String())
		headers = append(headers, "content-type", "digest")
	}

	now := time.Now().Unix()
	sp := httpsignature.SignatureParams{
		Algorithm: httpsignature.ED25519,
		KeyID:     c.keyID,
		Headers:   headers,
		Created:   now,
		Expires:   now + 600,
	}

	require.NoError(t, sp.Sign(httpsignature.Ed25519PrivKey(c.priv), crypto.Hash(0), req))
	return req
}

// delegateCapability creates a signed-looking delegation document; the proof is
// checked by the stub proof checker in these tests
func delegateCapability(t *testing.T, id, parent, target string, controller, delegator *zcapClient, expires time.Time) []byte {
	t.Helper()

	doc := map[string]interface{}{
		"@context":         zcapld.ContextV1,
		"id":               id,
		"parentCapability": parent,
		"invocationTarget": target,
		"controller":       controller.did,
		"expires":          expires.UTC().Format(time.RFC3339),
		"proof": map[string]interface{}{
			"type":               "Ed25519Signature2018",
			"created":            time.Now().Add(-time.Minute).UTC().Format(time.RFC3339),
			"verificationMethod": delegator.keyID,
			"proofPurpose":       "capabilityDelegation",
			"capabilityChain":    []interface{}{parent},
			"proofValue":         "zStubbedForPolicyTests",
		},
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func testAuthorizeOptions(admin *zcapClient, loader *documentloader.StaticLoader, rootTargets ...string) AuthorizeOptions {
	return AuthorizeOptions{
		DocumentLoader: loader,
		GetExpectedValues: func(r *http.Request) (*ExpectedValues, error) {
			return &ExpectedValues{
				Host:                 testHost,
				RootInvocationTarget: rootTargets,
			}, nil
		},
		GetRootController: func(_ *http.Request, _, rootInvocationTarget string) ([]string, error) {
			for _, target := range rootTargets {
				if rootInvocationTarget == target {
					return []string{admin.did}, nil
				}
			}
			return nil, fmt.Errorf("no root controller for %s", rootInvocationTarget)
		},
		GetVerifier:  zcapld.DIDKeyGetVerifier(),
		ProofChecker: okProofChecker{},
	}
}

func okHandler(t *testing.T, gotController *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := GetInvocation(r.Context())
		require.NoError(t, err)
		if gotController != nil {
			*gotController = result.Controller
		}
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "Post request was successful."}`))
	})
}

func decodeAppError(t *testing.T, rr *httptest.ResponseRecorder) handlers.AppError {
	t.Helper()
	var appErr handlers.AppError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&appErr))
	return appErr
}

func TestAuthorizeZCAPInvocationHappyPath(t *testing.T) {
	admin := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	var controller string
	handler := AuthorizeZCAPInvocation(testAuthorizeOptions(admin, documentloader.NewStaticLoader(), target))(okHandler(t, &controller))

	body := []byte(`{"name":"test"}`)
	req := admin.invoke(t, http.MethodPost, target, body, zcapld.RootCapabilityID(target), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"message": "Post request was successful."}`, rr.Body.String())
	assert.Equal(t, admin.did, controller)
}

func TestAuthorizeZCAPInvocationWrongController(t *testing.T) {
	admin := newZcapClient(t)
	stranger := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	handler := AuthorizeZCAPInvocation(testAuthorizeOptions(admin, documentloader.NewStaticLoader(), target))(okHandler(t, nil))

	body := []byte(`{"name":"test"}`)
	req := stranger.invoke(t, http.MethodPost, target, body, zcapld.RootCapabilityID(target), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, decodeAppError(t, rr).Message, "Forbidden")
}

func TestAuthorizeZCAPInvocationMissingAuthorization(t *testing.T) {
	admin := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	keyLookups := 0
	opts := testAuthorizeOptions(admin, documentloader.NewStaticLoader(), target)
	base := opts.GetVerifier
	opts.GetVerifier = func(ctx context.Context, keyID string, loader ld.DocumentLoader) (httpsignature.Verifier, *zcapld.VerificationMethod, error) {
		keyLookups++
		return base(ctx, keyID, loader)
	}

	handler := AuthorizeZCAPInvocation(opts)(okHandler(t, nil))

	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	req.Host = testHost

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	appErr := decodeAppError(t, rr)
	assert.Equal(t, "DataError", appErr.Name)
	assert.Equal(t, 0, keyLookups, "no key resolution may happen for unsigned requests")
}

func TestAuthorizeZCAPInvocationMissingDigest(t *testing.T) {
	admin := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	handler := AuthorizeZCAPInvocation(testAuthorizeOptions(admin, documentloader.NewStaticLoader(), target))(okHandler(t, nil))

	body := []byte(`{"name":"test"}`)
	req := admin.invoke(t, http.MethodPost, target, body, zcapld.RootCapabilityID(target), "write")
	req.Header.Del("Digest")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	appErr := decodeAppError(t, rr)
	assert.Equal(t, "DataError", appErr.Name)
	assert.Equal(t, `A "digest" header must be present when an HTTP body is present.`, appErr.Message)
}

func TestAuthorizeZCAPInvocationDigestMismatch(t *testing.T) {
	admin := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	handler := AuthorizeZCAPInvocation(testAuthorizeOptions(admin, documentloader.NewStaticLoader(), target))(okHandler(t, nil))

	body := []byte(`{"name":"test"}`)
	req := admin.invoke(t, http.MethodPost, target, body, zcapld.RootCapabilityID(target), "write")
	// tamper with the body after signing
	tampered := []byte(`{"name":"not test"}`)
	req.Body = io.NopCloser(bytes.NewReader(tampered))
	req.Header.Set("Content-Length", strconv.Itoa(len(tampered)))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	appErr := decodeAppError(t, rr)
	assert.Equal(t, `The "digest" header value does not match digest of body.`, appErr.Message)
}

func TestAuthorizeZCAPInvocationTargetMismatch(t *testing.T) {
	admin := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	handler := AuthorizeZCAPInvocation(testAuthorizeOptions(admin, documentloader.NewStaticLoader(), target))(okHandler(t, nil))

	body := []byte(`{"name":"test"}`)
	otherRoot := zcapld.RootCapabilityID("https://" + testHost + "/test/abc")
	req := admin.invoke(t, http.MethodPost, target, body, otherRoot, "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAuthorizeZCAPInvocationBadExpectedValues(t *testing.T) {
	admin := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	opts := testAuthorizeOptions(admin, documentloader.NewStaticLoader(), target)
	opts.GetExpectedValues = func(r *http.Request) (*ExpectedValues, error) {
		return nil, nil
	}

	handler := AuthorizeZCAPInvocation(opts)(okHandler(t, nil))

	req := admin.invoke(t, http.MethodGet, target, nil, zcapld.RootCapabilityID(target), "read")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, `"getExpectedValues" must return an object.`, decodeAppError(t, rr).Message)
}

func TestAuthorizeZCAPInvocationDelegated(t *testing.T) {
	admin := newZcapClient(t)
	delegate := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	loader := documentloader.NewStaticLoader()
	delegated := delegateCapability(t, "urn:uuid:delegated-1", zcapld.RootCapabilityID(target), target,
		delegate, admin, time.Now().Add(24*time.Hour))
	require.NoError(t, loader.AddJSON("urn:uuid:delegated-1", delegated))

	var controller string
	handler := AuthorizeZCAPInvocation(testAuthorizeOptions(admin, loader, target))(okHandler(t, &controller))

	body := []byte(`{"name":"test"}`)
	req := delegate.invoke(t, http.MethodPost, target, body, "urn:uuid:delegated-1", "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, delegate.did, controller)
}

func TestAuthorizeZCAPInvocationUnsupportedMethod(t *testing.T) {
	admin := newZcapClient(t)
	target := "https://" + testHost + "/documents"

	handler := AuthorizeZCAPInvocation(testAuthorizeOptions(admin, documentloader.NewStaticLoader(), target))(okHandler(t, nil))

	req := admin.invoke(t, "BREW", target, nil, zcapld.RootCapabilityID(target), "write")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolveExpectedValues(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://"+testHost+"/documents?x=1", nil)
	require.NoError(t, err)

	target := "https://" + testHost + "/documents"

	expected, err := resolveExpectedValues(req, func(*http.Request) (*ExpectedValues, error) {
		return &ExpectedValues{Host: testHost, RootInvocationTarget: []string{target}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "write", expected.Action, "POST defaults to the write action")
	assert.Equal(t, "https://"+testHost+"/documents?x=1", expected.Target)
	assert.Equal(t, []string{zcapld.RootCapabilityID(target)}, expected.RootCapabilityIDs)

	getReq, err := http.NewRequest(http.MethodGet, "https://"+testHost+"/documents", nil)
	require.NoError(t, err)
	expected, err = resolveExpectedValues(getReq, func(*http.Request) (*ExpectedValues, error) {
		return &ExpectedValues{Host: testHost, RootInvocationTarget: []string{target}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "read", expected.Action, "GET defaults to the read action")

	_, err = resolveExpectedValues(req, func(*http.Request) (*ExpectedValues, error) {
		return &ExpectedValues{RootInvocationTarget: []string{target}}, nil
	})
	require.Error(t, err, "a missing host is a host programming error")
	var zErr *zcapld.Error
	require.ErrorAs(t, err, &zErr)
	assert.Equal(t, http.StatusInternalServerError, zErr.StatusCode())

	_, err = resolveExpectedValues(req, func(*http.Request) (*ExpectedValues, error) {
		return &ExpectedValues{Host: testHost}, nil
	})
	assert.Error(t, err, "rootInvocationTarget is required")

	_, err = resolveExpectedValues(req, func(*http.Request) (*ExpectedValues, error) {
		return &ExpectedValues{Host: testHost, RootInvocationTarget: []string{"not-a-uri"}}, nil
	})
	assert.Error(t, err, "rootInvocationTarget must be absolute")
}

func TestRootCapabilityTargetEscaping(t *testing.T) {
	// reserved characters in targets survive the root id round trip
	target := "https://" + testHost + "/service-objects/123/revocations/" + url.QueryEscape("urn:uuid:abc")
	id := zcapld.RootCapabilityID(target)
	decoded, err := zcapld.RootInvocationTarget(id)
	require.NoError(t, err)
	assert.Equal(t, target, decoded)
}
