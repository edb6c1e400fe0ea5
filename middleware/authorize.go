// Package middleware provides zcap authorization middleware for HTTP
// services: an invocation pipeline for protected resources and an
// opinionated revocation pipeline.
package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/piprate/json-gold/ld"

	"github.com/veracred/zcap-go/handlers"
	"github.com/veracred/zcap-go/httpsignature"
	"github.com/veracred/zcap-go/logging"
	"github.com/veracred/zcap-go/zcapld"
)

// ErrorHandler lets a host take over error rendering. When absent,
// failures render as the standard json error envelope.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, appErr *handlers.AppError)

// AuthorizeOptions assembles an invocation pipeline. The options are
// captured immutably; all supplied functions must be reentrant.
type AuthorizeOptions struct {
	// DocumentLoader resolves json-ld contexts, DID documents, and
	// capability documents
	DocumentLoader ld.DocumentLoader
	// GetExpectedValues computes the values verification must enforce
	GetExpectedValues ExpectedValuesFunc
	// GetRootController supplies controllers of synthesized root capabilities
	GetRootController zcapld.RootControllerFunc
	// GetVerifier resolves signing keys for http signature verification
	GetVerifier zcapld.GetVerifier
	// SuiteFactory supplies delegation proof suites; DefaultSuiteFactory
	// when nil
	SuiteFactory zcapld.SuiteFactory
	// ProofChecker overrides suite based proof checking entirely when set
	ProofChecker zcapld.ProofChecker
	// InspectCapabilityChain may veto a verified chain, e.g. against
	// stored revocations
	InspectCapabilityChain zcapld.ChainInspector
	// OnError overrides error rendering
	OnError ErrorHandler

	MaxChainLength         int
	MaxDelegationTTL       time.Duration
	MaxClockSkew           time.Duration
	AllowTargetAttenuation bool
}

// AuthorizeZCAPInvocation requires requests to carry a valid zcap
// invocation: parse the signature, check the body digest, resolve the
// expected values, then verify the invoked capability chain and http
// signature. On success the invocation result is published to the
// request context.
func AuthorizeZCAPInvocation(opts AuthorizeOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.Logger(r.Context(), "middleware.AuthorizeZCAPInvocation")

			// no key resolution happens before the header parses
			if _, err := httpsignature.SignatureParamsFromRequest(r); err != nil {
				renderError(w, r, zcapld.ErrMalformedAuthorization.WithCause(err), opts.OnError)
				return
			}

			if _, err := verifyDigest(r); err != nil {
				renderError(w, r, err, opts.OnError)
				return
			}

			expected, err := resolveExpectedValues(r, opts.GetExpectedValues)
			if err != nil {
				renderError(w, r, err, opts.OnError)
				return
			}

			if !hostsMatch(r, expected.Host) {
				renderError(w, r, zcapld.NotAuthorizedf("the request host does not match the expected host"), opts.OnError)
				return
			}

			verifier, err := newInvocationVerifier(r, invocationConfig{
				loader:                 opts.DocumentLoader,
				getRootController:      opts.GetRootController,
				getVerifier:            opts.GetVerifier,
				suiteFactory:           opts.SuiteFactory,
				proofChecker:           opts.ProofChecker,
				inspect:                opts.InspectCapabilityChain,
				maxChainLength:         opts.MaxChainLength,
				maxDelegationTTL:       opts.MaxDelegationTTL,
				maxClockSkew:           opts.MaxClockSkew,
				allowTargetAttenuation: opts.AllowTargetAttenuation,
			})
			if err != nil {
				renderError(w, r, err, opts.OnError)
				return
			}

			result, err := verifier.VerifyInvocation(r, expected)
			if err != nil {
				logger.Debug().Err(err).Msg("zcap invocation verification failed")
				renderError(w, r, err, opts.OnError)
				return
			}

			next.ServeHTTP(w, r.WithContext(AddInvocation(r.Context(), result)))
		})
	}
}

// invocationConfig is the per-request wiring shared by both pipelines
type invocationConfig struct {
	loader                 ld.DocumentLoader
	getRootController      zcapld.RootControllerFunc
	getVerifier            zcapld.GetVerifier
	suiteFactory           zcapld.SuiteFactory
	proofChecker           zcapld.ProofChecker
	inspect                zcapld.ChainInspector
	maxChainLength         int
	maxDelegationTTL       time.Duration
	maxClockSkew           time.Duration
	allowTargetAttenuation bool
}

// newInvocationVerifier binds the verification machinery to one request.
// The root loader holds the request only until the pass completes.
func newInvocationVerifier(r *http.Request, cfg invocationConfig) (*zcapld.InvocationVerifier, error) {
	rootLoader := &zcapld.RootCapabilityLoader{
		Base:              cfg.loader,
		Request:           r,
		GetRootController: cfg.getRootController,
	}

	checker := cfg.proofChecker
	if checker == nil {
		var err error
		checker, err = newProofChecker(r, rootLoader, cfg.suiteFactory)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()

	return &zcapld.InvocationVerifier{
		Loader: rootLoader,
		Chain: &zcapld.ChainVerifier{
			Loader:                 rootLoader,
			Proofs:                 checker,
			MaxChainLength:         cfg.maxChainLength,
			MaxDelegationTTL:       cfg.maxDelegationTTL,
			MaxClockSkew:           cfg.maxClockSkew,
			AllowTargetAttenuation: cfg.allowTargetAttenuation,
			Inspect:                cfg.inspect,
			Now:                    now,
		},
		GetVerifier:            cfg.getVerifier,
		AllowTargetAttenuation: cfg.allowTargetAttenuation,
		MaxClockSkew:           cfg.maxClockSkew,
		Now:                    now,
	}, nil
}

// newProofChecker builds the delegation proof checker for one request
// from the host's suite factory.
func newProofChecker(r *http.Request, loader ld.DocumentLoader, factory zcapld.SuiteFactory) (zcapld.ProofChecker, error) {
	if factory == nil {
		factory = zcapld.DefaultSuiteFactory
	}

	suites, err := factory(r)
	if err != nil {
		return nil, zcapld.NotAuthorized(err)
	}

	return &zcapld.AriesProofChecker{
		Suites:      suites,
		KeyResolver: &zcapld.VerificationKeyResolver{Loader: loader},
	}, nil
}

// renderError maps a verification failure onto the json error envelope.
// Cryptographic failures never propagate: they render, at worst, as 403s.
func renderError(w http.ResponseWriter, r *http.Request, err error, onError ErrorHandler) {
	logger := logging.Logger(r.Context(), "middleware.zcap")

	var zErr *zcapld.Error
	if !errors.As(err, &zErr) {
		zErr = zcapld.NotAuthorized(err)
	}

	logger.Warn().Err(err).Int("status", zErr.StatusCode()).Str("name", zErr.Name()).Msg("zcap authorization failed")

	appErr := &handlers.AppError{
		Cause:   zErr.Unwrap(),
		Name:    zErr.Name(),
		Message: zErr.Message(),
		Code:    zErr.StatusCode(),
	}

	if onError != nil {
		onError(w, r, appErr)
		return
	}

	appErr.ServeHTTP(w, r)
}
