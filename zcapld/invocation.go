package zcapld

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/piprate/json-gold/ld"

	"github.com/veracred/zcap-go/httpsignature"
)

const (
	// CapabilityInvocationHeader carries the invoked capability reference
	CapabilityInvocationHeader = "capability-invocation"
	// CapabilityInvocationScheme prefixes the header value
	CapabilityInvocationScheme = "zcap"
)

var invocationParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// CapabilityInvocation is the parsed capability-invocation header: the
// invoked capability (an id, often a root id, or an inline encoded
// document) and the requested action.
type CapabilityInvocation struct {
	Capability string
	Action     string
}

// ParseCapabilityInvocation parses a capability-invocation header value
func ParseCapabilityInvocation(header string) (*CapabilityInvocation, error) {
	if header == "" {
		return nil, errors.New("missing capability-invocation header")
	}

	scheme, params, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, CapabilityInvocationScheme) {
		return nil, fmt.Errorf("capability-invocation header is not of the %s scheme", CapabilityInvocationScheme)
	}

	var ci CapabilityInvocation
	for _, m := range invocationParamRegex.FindAllStringSubmatch(params, -1) {
		switch m[1] {
		case "capability", "id":
			ci.Capability = m[2]
		case "action":
			ci.Action = m[2]
		}
	}

	if ci.Capability == "" {
		return nil, errors.New("capability-invocation header names no capability")
	}

	return &ci, nil
}

// Header serializes the invocation for a request header
func (ci *CapabilityInvocation) Header() string {
	return fmt.Sprintf(`%s capability="%s",action="%s"`, CapabilityInvocationScheme, ci.Capability, ci.Action)
}

// EncodeInlineCapability encodes a capability document for inline
// transport in the capability-invocation header (gzipped, base64url).
func EncodeInlineCapability(capabilityBytes []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(capabilityBytes); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeInlineCapability reverses EncodeInlineCapability
func decodeInlineCapability(value string) ([]byte, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode inline capability: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompress inline capability: %w", err)
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(io.LimitReader(zr, 1<<20))
}

// GetVerifier resolves a signing key id to an http signature verifier
// and its verification method document. Invoked concurrently across
// requests.
type GetVerifier func(ctx context.Context, keyID string, loader ld.DocumentLoader) (httpsignature.Verifier, *VerificationMethod, error)

// InvocationResult is published on success: who invoked, with which key,
// and the verified chain root first.
type InvocationResult struct {
	Controller string
	KeyID      string
	Capability *Capability
	Chain      []*Capability
	Action     string
}

// InvocationVerifier verifies that a signed HTTP request is authorized
// by the capability it invokes.
type InvocationVerifier struct {
	Loader                 ld.DocumentLoader
	Chain                  *ChainVerifier
	GetVerifier            GetVerifier
	AllowTargetAttenuation bool
	MaxClockSkew           time.Duration
	Now                    time.Time
}

func (iv *InvocationVerifier) maxClockSkew() time.Duration {
	if iv.MaxClockSkew > 0 {
		return iv.MaxClockSkew
	}
	return DefaultMaxClockSkew
}

func (iv *InvocationVerifier) now() time.Time {
	if !iv.Now.IsZero() {
		return iv.Now
	}
	return time.Now()
}

// VerifyInvocation runs the invocation algorithm against the request and
// the expected values. An unparseable authorization header fails as
// malformed authorization; every other failure renders as not
// authorized, and callers never see the cryptographic detail on the wire.
func (iv *InvocationVerifier) VerifyInvocation(req *http.Request, expected *Expected) (*InvocationResult, error) {
	ctx := req.Context()

	params, err := httpsignature.SignatureParamsFromRequest(req)
	if err != nil {
		return nil, ErrMalformedAuthorization.WithCause(err)
	}

	if err := iv.verifySignatureWindow(params); err != nil {
		return nil, err
	}
	if err := iv.verifyCoveredHeaders(params, req); err != nil {
		return nil, err
	}

	invocation, err := ParseCapabilityInvocation(req.Header.Get(CapabilityInvocationHeader))
	if err != nil {
		return nil, NotAuthorized(err)
	}
	if invocation.Action != "" && invocation.Action != expected.Action {
		return nil, NotAuthorizedf(
			"the invoked action %q does not match the expected action %q", invocation.Action, expected.Action)
	}

	chain, err := iv.resolveChain(ctx, invocation, expected)
	if err != nil {
		return nil, err
	}
	invoked := chain[len(chain)-1]

	verifier, vm, err := iv.GetVerifier(ctx, params.KeyID, iv.Loader)
	if err != nil {
		return nil, NotAuthorized(err)
	}

	valid, err := params.Verify(verifier, crypto.Hash(0), req)
	if err != nil {
		return nil, NotAuthorized(err)
	}
	if !valid {
		return nil, NotAuthorizedf("the http signature is not valid")
	}

	controller, err := iv.matchInvoker(params.KeyID, vm, invoked)
	if err != nil {
		return nil, err
	}

	if !invoked.AllowsAction(expected.Action) {
		return nil, NotAuthorizedf(
			"the invoked capability does not allow the action %q", expected.Action)
	}

	if err := iv.verifyTarget(invoked, expected); err != nil {
		return nil, err
	}

	return &InvocationResult{
		Controller: controller,
		KeyID:      params.KeyID,
		Capability: invoked,
		Chain:      chain,
		Action:     expected.Action,
	}, nil
}

// verifySignatureWindow checks the (created)/(expires) bounds of the
// invocation signature within the clock skew tolerance.
func (iv *InvocationVerifier) verifySignatureWindow(params *httpsignature.SignatureParams) error {
	now := iv.now()
	skew := iv.maxClockSkew()

	if params.Created != 0 && time.Unix(params.Created, 0).After(now.Add(skew)) {
		return NotAuthorizedf("the invocation signature was created in the future")
	}
	if params.Expires != 0 && time.Unix(params.Expires, 0).Before(now.Add(-skew)) {
		return NotAuthorizedf("the invocation signature has expired")
	}

	return nil
}

// verifyCoveredHeaders requires the signature to cover the headers that
// bind the invocation to this request.
func (iv *InvocationVerifier) verifyCoveredHeaders(params *httpsignature.SignatureParams, req *http.Request) error {
	required := []string{
		httpsignature.CreatedHeader,
		httpsignature.ExpiresHeader,
		httpsignature.RequestTargetHeader,
		httpsignature.HostHeader,
		CapabilityInvocationHeader,
	}
	if req.Header.Get("Content-Length") != "" || req.Header.Get("Transfer-Encoding") != "" {
		required = append(required, "content-type", httpsignature.DigestHeader)
	}

	covered := map[string]struct{}{}
	for _, h := range params.Headers {
		covered[h] = struct{}{}
	}

	for _, h := range required {
		if _, ok := covered[h]; !ok {
			return NotAuthorizedf("the http signature must cover the %q header", h)
		}
	}

	return nil
}

// resolveChain loads and verifies the invoked capability's chain. Root
// invocations dereference through the root loader alone; delegated
// capabilities get the full chain verification.
func (iv *InvocationVerifier) resolveChain(ctx context.Context, invocation *CapabilityInvocation, expected *Expected) ([]*Capability, error) {
	if IsRootCapabilityID(invocation.Capability) {
		found := false
		for _, id := range expected.RootCapabilityIDs {
			if invocation.Capability == id {
				found = true
				break
			}
		}
		if !found {
			return nil, NotAuthorizedf("the invoked root capability %s is not an expected root capability", invocation.Capability)
		}

		root, err := LoadCapability(iv.Loader, invocation.Capability)
		if err != nil {
			return nil, NotAuthorized(err)
		}
		return []*Capability{root}, nil
	}

	var (
		capability *Capability
		err        error
	)

	if strings.Contains(invocation.Capability, ":") {
		capability, err = LoadCapability(iv.Loader, invocation.Capability)
	} else {
		var capabilityBytes []byte
		capabilityBytes, err = decodeInlineCapability(invocation.Capability)
		if err == nil {
			capability, err = ParseCapability(capabilityBytes)
		}
	}
	if err != nil {
		return nil, NotAuthorized(err)
	}

	chain, err := iv.Chain.VerifyChain(ctx, capability, expected)
	if err != nil {
		return nil, err
	}

	return chain, nil
}

// matchInvoker requires the signing key's controller, or the key id up
// to its fragment, to be a controller of the invoked capability.
func (iv *InvocationVerifier) matchInvoker(keyID string, vm *VerificationMethod, invoked *Capability) (string, error) {
	keyDID := keyID
	if idx := strings.Index(keyDID, "#"); idx >= 0 {
		keyDID = keyDID[:idx]
	}

	for _, c := range invoked.Controllers() {
		if c == keyID || c == keyDID {
			return c, nil
		}
		if vm != nil && vm.Controller != "" && c == vm.Controller {
			return c, nil
		}
	}

	return "", NotAuthorizedf("the signing key is not a controller of the invoked capability")
}

// verifyTarget requires the invoked capability's target to equal the
// expected target, or to be an ancestor of it under path attenuation.
func (iv *InvocationVerifier) verifyTarget(invoked *Capability, expected *Expected) error {
	target := invoked.InvocationTarget.ID

	if target == expected.Target {
		return nil
	}
	if iv.AllowTargetAttenuation && IsPathPrefix(target, expected.Target) {
		return nil
	}

	return NotAuthorizedf(
		"the invocation target %s does not match the expected target %s", target, expected.Target)
}
