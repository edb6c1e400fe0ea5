package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/asaskevich/govalidator"

	"github.com/veracred/zcap-go/digest"
	"github.com/veracred/zcap-go/requestutils"
	"github.com/veracred/zcap-go/zcapld"
)

// ExpectedValues are the per-request values the host requires
// verification to enforce.
type ExpectedValues struct {
	// Host is the authority the request must be addressed to
	Host string
	// RootInvocationTarget is one or more absolute URIs the invoked
	// capability must root in
	RootInvocationTarget []string
	// Action optionally overrides the default derived from the method
	Action string
	// Target optionally overrides the absolute request URL
	Target string
}

// ExpectedValuesFunc computes the expected values for a request. Invoked
// concurrently across requests.
type ExpectedValuesFunc func(r *http.Request) (*ExpectedValues, error)

// actions assigned to HTTP methods with no explicit expected action
var defaultActions = map[string]string{
	http.MethodGet:     "read",
	http.MethodHead:    "read",
	http.MethodOptions: "read",
	http.MethodPost:    "write",
	http.MethodPut:     "write",
	http.MethodPatch:   "write",
	http.MethodDelete:  "write",
	http.MethodConnect: "write",
	http.MethodTrace:   "write",
}

// resolveExpectedValues validates the host supplied expected values and
// fills in the defaults, yielding the values verification enforces.
func resolveExpectedValues(r *http.Request, fn ExpectedValuesFunc) (*zcapld.Expected, error) {
	if fn == nil {
		return nil, zcapld.ErrMisconfigured
	}

	values, err := fn(r)
	if err != nil {
		return nil, zcapld.ErrBadExpectedValues.WithCause(err)
	}
	if values == nil {
		return nil, zcapld.ErrBadExpectedValues
	}

	if values.Host == "" {
		return nil, zcapld.BadExpectedValuesf(`"getExpectedValues" must return a non-empty "host".`)
	}
	if len(values.RootInvocationTarget) == 0 {
		return nil, zcapld.BadExpectedValuesf(`"getExpectedValues" must return one or more "rootInvocationTarget" URIs.`)
	}
	for _, target := range values.RootInvocationTarget {
		if !govalidator.IsRequestURL(target) {
			return nil, zcapld.BadExpectedValuesf(`"rootInvocationTarget" value %q is not an absolute URI.`, target)
		}
	}

	action := values.Action
	if action == "" {
		var ok bool
		action, ok = defaultActions[r.Method]
		if !ok {
			return nil, zcapld.ErrUnsupportedMethod
		}
	}

	target := values.Target
	if target == "" {
		target = "https://" + values.Host + r.URL.RequestURI()
	} else if !govalidator.IsRequestURL(target) {
		return nil, zcapld.BadExpectedValuesf(`"target" value %q is not an absolute URI.`, target)
	}

	rootIDs := make([]string, 0, len(values.RootInvocationTarget))
	for _, t := range values.RootInvocationTarget {
		rootIDs = append(rootIDs, zcapld.RootCapabilityID(t))
	}

	return &zcapld.Expected{
		Host:              values.Host,
		Action:            action,
		Target:            target,
		RootCapabilityIDs: rootIDs,
	}, nil
}

// requestHasBody applies the body heuristic: only the framing headers
// count, a content-type alone does not (body parsers set empty bodies
// spuriously).
func requestHasBody(r *http.Request) bool {
	return r.Header.Get("Content-Length") != "" || r.Header.Get("Transfer-Encoding") != ""
}

// verifyDigest enforces the digest header over the request body. When no
// body is indicated, any pre-populated body buffer is cleared so
// downstream code cannot consume it by accident. On success the body is
// returned and left readable on the request.
func verifyDigest(r *http.Request) ([]byte, error) {
	if !requestHasBody(r) {
		if r.Body != nil {
			r.Body = http.NoBody
		}
		return nil, nil
	}

	digestHeader := r.Header.Get("Digest")
	if digestHeader == "" {
		return nil, zcapld.ErrMissingDigest
	}

	body, err := requestutils.Read(r.Context(), r.Body)
	if err != nil {
		return nil, zcapld.ErrDigestMismatch.WithCause(err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	instance, err := digest.Parse(digestHeader)
	if err != nil {
		return nil, zcapld.ErrDigestMismatch.WithCause(err)
	}
	if !instance.Verify(body) {
		return nil, zcapld.ErrDigestMismatch
	}

	return body, nil
}

// hostsMatch compares request authority against the expected host,
// preferring an explicitly set host header over r.Host the way the
// signing string does.
func hostsMatch(r *http.Request, expectedHost string) bool {
	host := r.Header.Get(requestutils.HostHeaderKey)
	if host == "" {
		host = r.Host
	}
	return strings.EqualFold(host, expectedHost)
}
