// Package httpsignature contains methods for signing and verifing HTTP requests per
// https://www.ietf.org/id/draft-cavage-http-signatures-12.txt
package httpsignature

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/veracred/zcap-go/digest"
	"github.com/veracred/zcap-go/requestutils"
)

// SignatureParams contains parameters needed to create and verify signatures
type SignatureParams struct {
	Algorithm       Algorithm
	KeyID           string
	DigestAlgorithm *crypto.Hash // optional
	Headers         []string     // optional
	Created         int64        // unix timestamp of the (created) pseudo-header, 0 if unset
	Expires         int64        // unix timestamp of the (expires) pseudo-header, 0 if unset
}

// signature is an internal represention of an http signature and it's parameters
type signature struct {
	SignatureParams
	Sig string
}

// Signator is an interface for cryptographic signature creation
// NOTE that this is a subset of the crypto.Signer interface
type Signator interface {
	Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) (signature []byte, err error)
}

// Verifier is an interface for cryptographic signature verification
type Verifier interface {
	Verify(message, sig []byte, opts crypto.SignerOpts) (bool, error)
	String() string
}

// ParameterizedSignator contains the parameters / options needed to create signatures and a signator
type ParameterizedSignator struct {
	SignatureParams
	Signator Signator
	Opts     crypto.SignerOpts
}

const (
	// SignatureScheme is the authorization scheme used for http signatures
	SignatureScheme = "Signature"
	// HostHeader is the host header
	HostHeader = "host"
	// DigestHeader is the header where a digest of the body will be stored
	DigestHeader = "digest"
	// RequestTargetHeader is a pseudo header consisting of the HTTP method and request uri
	RequestTargetHeader = "(request-target)"
	// CreatedHeader is a pseudo header consisting of the signature creation timestamp
	CreatedHeader = "(created)"
	// ExpiresHeader is a pseudo header consisting of the signature expiration timestamp
	ExpiresHeader = "(expires)"
)

var (
	// ErrMissingAuthorization is returned when the authorization header is absent
	ErrMissingAuthorization = errors.New("missing authorization header")
	// ErrNotSignatureScheme is returned when the authorization header does not carry an http signature
	ErrNotSignatureScheme = errors.New("authorization header is not of the signature scheme")

	// parameter values may be quoted strings or bare integers (created / expires)
	signatureRegex = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|(\d+))`)
)

// IsMalformed returns true if the signature parameters are invalid
func (sp *SignatureParams) IsMalformed() bool {
	if sp.Algorithm == invalid {
		return true
	}
	for _, header := range sp.Headers {
		if header != strings.ToLower(header) {
			return true // all headers must be lower-cased
		}
	}
	return false
}

// BuildSigningString builds the signing string according to the SignatureParams s and
// HTTP request req
func (sp *SignatureParams) BuildSigningString(req *http.Request) (out []byte, err error) {
	if req.Body != nil {
		body, err := requestutils.Read(req.Context(), req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewBuffer(body))
		return sp.buildSigningString(body, req.Header, req)
	}
	return sp.buildSigningString(nil, req.Header, req)
}

func (sp *SignatureParams) buildSigningString(body []byte, headers http.Header, req *http.Request) (out []byte, err error) {
	if sp.IsMalformed() {
		return nil, errors.New("refusing to build signing string with malformed params")
	}

	signedHeaders := sp.Headers
	if len(signedHeaders) == 0 {
		signedHeaders = []string{"date"}
	}

	for i, header := range signedHeaders {
		switch header {
		case RequestTargetHeader:
			if req == nil {
				return nil, fmt.Errorf("request must be present to use the %s pseudo-header", RequestTargetHeader)
			}
			if req.URL != nil && len(req.Method) > 0 {
				out = append(out, []byte(fmt.Sprintf("%s: %s %s", RequestTargetHeader, strings.ToLower(req.Method), req.URL.RequestURI()))...)
			} else {
				return nil, fmt.Errorf("request must have a URL and Method to use the %s pseudo-header", RequestTargetHeader)
			}
		case CreatedHeader:
			if sp.Created == 0 {
				return nil, fmt.Errorf("created value must be present to use the %s pseudo-header", CreatedHeader)
			}
			out = append(out, []byte(fmt.Sprintf("%s: %d", CreatedHeader, sp.Created))...)
		case ExpiresHeader:
			if sp.Expires == 0 {
				return nil, fmt.Errorf("expires value must be present to use the %s pseudo-header", ExpiresHeader)
			}
			out = append(out, []byte(fmt.Sprintf("%s: %d", ExpiresHeader, sp.Expires))...)
		case DigestHeader:
			// cover the digest header as sent when present, compute it otherwise
			if val := headers.Get("Digest"); val != "" {
				out = append(out, []byte(fmt.Sprintf("%s: %s", "digest", val))...)
				break
			}

			// default to SHA256
			var d digest.Instance
			d.Hash = crypto.SHA256

			// If something else is set though use that hash instead
			if sp.DigestAlgorithm != nil {
				d.Hash = *sp.DigestAlgorithm
			}

			if body != nil {
				d.Update(body)
			}
			headers.Add("Digest", d.String())
			out = append(out, []byte(fmt.Sprintf("%s: %s", "digest", d.String()))...)
		case HostHeader:
			if req == nil {
				return nil, fmt.Errorf("request must be present to use the Host header")
			}
			// in some environments the host transfer middleware sets
			// the Host header to the x-forwarded-host value
			host := headers.Get(requestutils.HostHeaderKey)
			if host == "" {
				host = req.Host
			} else {
				host = strings.Join(headers[http.CanonicalHeaderKey(header)], ", ")
			}
			out = append(out, []byte(fmt.Sprintf("%s: %s", "host", host))...)
		default:
			val := strings.Join(headers[http.CanonicalHeaderKey(header)], ", ")
			out = append(out, []byte(fmt.Sprintf("%s: %s", header, val))...)
		}

		if i != len(signedHeaders)-1 {
			out = append(out, byte('\n'))
		}
	}
	return out, nil
}

// Sign the included HTTP request req using signator and options opts
func (sp *SignatureParams) Sign(signator Signator, opts crypto.SignerOpts, req *http.Request) error {
	ss, err := sp.BuildSigningString(req)
	if err != nil {
		return err
	}

	sig, err := signator.Sign(rand.Reader, ss, opts)
	if err != nil {
		return err
	}
	s := signature{
		SignatureParams: *sp,
		Sig:             base64.StdEncoding.EncodeToString(sig),
	}

	sHeader, err := s.MarshalText()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", SignatureScheme+" "+string(sHeader))
	return nil
}

// SignRequest using signator and options opts in the parameterized signator
func (p *ParameterizedSignator) SignRequest(req *http.Request) error {
	return p.SignatureParams.Sign(p.Signator, p.Opts, req)
}

// Verify the HTTP signature s over HTTP request req using verifier with options opts
func (sp *SignatureParams) Verify(verifier Verifier, opts crypto.SignerOpts, req *http.Request) (bool, error) {
	signingStr, err := sp.BuildSigningString(req)
	if err != nil {
		return false, err
	}

	var tmp signature
	err = tmp.UnmarshalText([]byte(SignatureFromRequest(req)))
	if err != nil {
		return false, err
	}

	sig, err := base64.StdEncoding.DecodeString(tmp.Sig)
	if err != nil {
		return false, err
	}
	return verifier.Verify(signingStr, sig, opts)
}

// MarshalText marshalls the signature into text.
func (s *signature) MarshalText() (text []byte, err error) {
	if s.IsMalformed() {
		return nil, errors.New("not a valid Algorithm")
	}

	algo, err := s.Algorithm.MarshalText()
	if err != nil {
		return nil, err
	}

	out := fmt.Sprintf("keyId=\"%s\",algorithm=\"%s\"", s.KeyID, algo)
	if s.Created != 0 {
		out = out + fmt.Sprintf(",created=%d", s.Created)
	}
	if s.Expires != 0 {
		out = out + fmt.Sprintf(",expires=%d", s.Expires)
	}
	if len(s.Headers) > 0 {
		out = out + fmt.Sprintf(",headers=\"%s\"", strings.Join(s.Headers, " "))
	}
	out = out + fmt.Sprintf(",signature=\"%s\"", s.Sig)
	return []byte(out), nil
}

// UnmarshalText unmarshalls the signature from text.
func (s *signature) UnmarshalText(text []byte) (err error) {
	if len(text) == 0 {
		return errors.New("signature header is empty")
	}

	s.Algorithm = invalid
	s.KeyID = ""
	s.Sig = ""

	str := string(text)
	for _, m := range signatureRegex.FindAllStringSubmatch(str, -1) {
		key := m[1]
		value := m[2]
		if value == "" {
			value = m[3]
		}

		switch key {
		case "keyId":
			s.KeyID = value
		case "algorithm":
			if err := s.Algorithm.UnmarshalText([]byte(value)); err != nil {
				return err
			}
		case "headers":
			s.Headers = strings.Split(value, " ")
		case "signature":
			s.Sig = value
		case "created":
			if s.Created, err = strconv.ParseInt(value, 10, 64); err != nil {
				return fmt.Errorf("invalid created value: %w", err)
			}
		case "expires":
			if s.Expires, err = strconv.ParseInt(value, 10, 64); err != nil {
				return fmt.Errorf("invalid expires value: %w", err)
			}
		default:
			return errors.New("invalid key in signature")
		}
	}

	// Check that all required fields were present
	if s.Algorithm == invalid || len(s.KeyID) == 0 || len(s.Sig) == 0 {
		return errors.New("a valid signature MUST have algorithm, keyId, and signature keys")
	}

	return nil
}

// SignatureFromRequest returns the raw authorization header value of a signed http request,
// scheme included, falling back to the bare signature header
func SignatureFromRequest(req *http.Request) string {
	authorization := req.Header.Get("Authorization")
	if authorization != "" {
		return authorization
	}
	return req.Header.Get("Signature")
}

// SignatureParamsFromRequest extracts the signature parameters from a signed http request.
// The signature is taken from the authorization header with the signature scheme, falling
// back to the bare signature header.
func SignatureParamsFromRequest(req *http.Request) (*SignatureParams, error) {
	var s signature

	authorization := req.Header.Get("Authorization")
	if authorization != "" {
		scheme, params, found := strings.Cut(authorization, " ")
		if !found || !strings.EqualFold(scheme, SignatureScheme) {
			return nil, ErrNotSignatureScheme
		}
		if err := s.UnmarshalText([]byte(params)); err != nil {
			return nil, err
		}
		return &s.SignatureParams, nil
	}

	if sig := req.Header.Get("Signature"); sig != "" {
		if err := s.UnmarshalText([]byte(sig)); err != nil {
			return nil, err
		}
		return &s.SignatureParams, nil
	}

	return nil, ErrMissingAuthorization
}
