package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/piprate/json-gold/ld"

	"github.com/veracred/zcap-go/httpsignature"
	"github.com/veracred/zcap-go/logging"
	"github.com/veracred/zcap-go/zcapld"
)

const revocationsSegment = "/revocations/"

// RevocationOptions assembles the revocation pipeline. It is mounted
// only at routes of the form <prefix>/revocations/{revocationID}.
type RevocationOptions struct {
	// DocumentLoader resolves json-ld contexts, DID documents, and
	// capability documents
	DocumentLoader ld.DocumentLoader
	// ExpectedHost is the authority revocation requests must address
	ExpectedHost string
	// GetRootController supplies controllers of the service object's root
	// capability; the revocation-specific root is synthesized from the
	// submitted chain instead
	GetRootController zcapld.RootControllerFunc
	// GetVerifier resolves signing keys for http signature verification
	GetVerifier zcapld.GetVerifier
	// SuiteFactory supplies delegation proof suites; DefaultSuiteFactory
	// when nil
	SuiteFactory zcapld.SuiteFactory
	// ProofChecker overrides suite based proof checking entirely when set
	ProofChecker zcapld.ProofChecker
	// InspectInvokerChain may veto the invoker's chain
	InspectInvokerChain zcapld.ChainInspector
	// InspectRevokedChain may veto the to-be-revoked chain
	InspectRevokedChain zcapld.ChainInspector
	// OnError overrides error rendering
	OnError ErrorHandler

	MaxChainLength   int
	MaxDelegationTTL time.Duration
	MaxClockSkew     time.Duration
}

// AuthorizeZCAPRevocation authorizes submission of a zcap delegation for
// revocation. The submitted delegation must verify and root in this
// service, and the submitter must hold either the service object's root
// capability or any capability in the to-be-revoked chain: the
// revocation-specific root capability's controller set is the transitive
// union of controllers in that chain. Storing the revocation is the
// host's responsibility.
func AuthorizeZCAPRevocation(opts RevocationOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.Logger(r.Context(), "middleware.AuthorizeZCAPRevocation")

			serviceObjectID, revocationID, err := parseRevocationRoute(r, opts.ExpectedHost)
			if err != nil {
				renderError(w, r, err, opts.OnError)
				return
			}
			revocationTarget := serviceObjectID + revocationsSegment + revocationID

			if _, err := httpsignature.SignatureParamsFromRequest(r); err != nil {
				renderError(w, r, zcapld.ErrMalformedAuthorization.WithCause(err), opts.OnError)
				return
			}

			body, err := verifyDigest(r)
			if err != nil {
				renderError(w, r, err, opts.OnError)
				return
			}
			if len(body) == 0 {
				renderError(w, r, zcapld.ErrInvalidDelegation, opts.OnError)
				return
			}

			expected := &zcapld.Expected{
				Host:   opts.ExpectedHost,
				Action: "write",
				Target: "https://" + opts.ExpectedHost + r.URL.RequestURI(),
				RootCapabilityIDs: []string{
					zcapld.RootCapabilityID(serviceObjectID),
					zcapld.RootCapabilityID(revocationTarget),
				},
			}

			if !hostsMatch(r, expected.Host) {
				renderError(w, r, zcapld.NotAuthorizedf("the request host does not match the expected host"), opts.OnError)
				return
			}

			// stage one: verify the submitted delegation itself
			revocation, err := verifyRevokedDelegation(r, body, serviceObjectID, opts)
			if err != nil {
				renderError(w, r, err, opts.OnError)
				return
			}

			// stage two: authorize the submitter. Controllers anywhere in
			// the to-be-revoked chain self-authorize via the synthesized
			// revocation root.
			wrappedRootController := func(req *http.Request, rootCapabilityID, rootInvocationTarget string) ([]string, error) {
				if rootInvocationTarget == revocationTarget {
					return revocation.ChainControllers, nil
				}
				return opts.GetRootController(req, rootCapabilityID, rootInvocationTarget)
			}

			verifier, err := newInvocationVerifier(r, invocationConfig{
				loader:            opts.DocumentLoader,
				getRootController: wrappedRootController,
				getVerifier:       opts.GetVerifier,
				suiteFactory:      opts.SuiteFactory,
				proofChecker:      opts.ProofChecker,
				inspect:           opts.InspectInvokerChain,
				maxChainLength:    opts.MaxChainLength,
				maxDelegationTTL:  opts.MaxDelegationTTL,
				maxClockSkew:      opts.MaxClockSkew,
				// the revocation url descends from the service object
				allowTargetAttenuation: true,
			})
			if err != nil {
				renderError(w, r, err, opts.OnError)
				return
			}

			result, err := verifier.VerifyInvocation(r, expected)
			if err != nil {
				logger.Debug().Err(err).Msg("zcap revocation invocation verification failed")
				renderError(w, r, err, opts.OnError)
				return
			}

			ctx := AddInvocation(r.Context(), result)
			ctx = AddRevocation(ctx, revocation)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseRevocationRoute asserts the mounted route shape and derives the
// service object id from the prefix.
func parseRevocationRoute(r *http.Request, expectedHost string) (serviceObjectID, revocationID string, err error) {
	if expectedHost == "" {
		return "", "", zcapld.ErrMisconfigured
	}

	path := r.URL.EscapedPath()
	idx := strings.LastIndex(path, revocationsSegment)
	if idx < 0 {
		return "", "", zcapld.ErrMisconfigured
	}

	revocationID = path[idx+len(revocationsSegment):]
	if revocationID == "" || strings.Contains(revocationID, "/") {
		return "", "", zcapld.ErrMisconfigured
	}

	return "https://" + expectedHost + path[:idx], revocationID, nil
}

// verifyRevokedDelegation runs the delegation verification stage over
// the request body and enforces that the submitted chain roots in this
// service object.
func verifyRevokedDelegation(r *http.Request, body []byte, serviceObjectID string, opts RevocationOptions) (*zcapld.RevocationContext, error) {
	rootLoader := &zcapld.RootCapabilityLoader{
		Base:              opts.DocumentLoader,
		Request:           r,
		GetRootController: opts.GetRootController,
	}

	checker := opts.ProofChecker
	if checker == nil {
		var err error
		checker, err = newProofChecker(r, rootLoader, opts.SuiteFactory)
		if err != nil {
			return nil, err
		}
	}

	verifier := &zcapld.DelegationVerifier{
		Chain: &zcapld.ChainVerifier{
			Loader:           rootLoader,
			Proofs:           checker,
			MaxChainLength:   opts.MaxChainLength,
			MaxDelegationTTL: opts.MaxDelegationTTL,
			MaxClockSkew:     opts.MaxClockSkew,
			// revoked chains may attenuate below the service object
			AllowTargetAttenuation: true,
			Inspect:                opts.InspectRevokedChain,
			Now:                    time.Now(),
		},
	}

	revocation, err := verifier.VerifyDelegation(r.Context(), body)
	if err != nil {
		return nil, err
	}

	rootTarget := revocation.Chain[0].InvocationTarget.ID
	if !zcapld.IsPathPrefix(serviceObjectID, rootTarget) {
		return nil, zcapld.ErrUnrelatedServiceObject
	}

	return revocation, nil
}
