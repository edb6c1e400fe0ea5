package zcapld

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/piprate/json-gold/ld"
)

// RootCapabilityPrefix is the well-known prefix of root capability ids
const RootCapabilityPrefix = "urn:zcap:root:"

// RootCapabilityID derives the well-known root capability id for an
// invocation target.
func RootCapabilityID(invocationTarget string) string {
	// query escaping with %20 for spaces matches javascript's
	// encodeURIComponent except for !'()*, which are escaped here
	return RootCapabilityPrefix + strings.ReplaceAll(url.QueryEscape(invocationTarget), "+", "%20")
}

// RootInvocationTarget decodes the invocation target out of a root
// capability id.
func RootInvocationTarget(rootCapabilityID string) (string, error) {
	if !IsRootCapabilityID(rootCapabilityID) {
		return "", fmt.Errorf("not a root capability id: %s", rootCapabilityID)
	}
	target, err := url.QueryUnescape(strings.TrimPrefix(rootCapabilityID, RootCapabilityPrefix))
	if err != nil {
		return "", fmt.Errorf("decode root capability id %s: %w", rootCapabilityID, err)
	}
	return target, nil
}

// IsRootCapabilityID reports whether the id has the well-known root form
func IsRootCapabilityID(id string) bool {
	return strings.HasPrefix(id, RootCapabilityPrefix)
}

// RootControllerFunc supplies the controller(s) of a dynamically
// synthesized root capability. Invoked concurrently across requests.
type RootControllerFunc func(req *http.Request, rootCapabilityID, rootInvocationTarget string) ([]string, error)

// RootCapabilityLoader wraps a document loader, synthesizing root
// capability documents on demand for urn:zcap:root: urls and delegating
// everything else to the base loader. It holds the request only for the
// duration of one verification pass and never caches what it synthesizes.
type RootCapabilityLoader struct {
	Base              ld.DocumentLoader
	Request           *http.Request
	GetRootController RootControllerFunc
}

// LoadDocument loads or synthesizes the document for u
func (l *RootCapabilityLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	if !IsRootCapabilityID(u) {
		return l.Base.LoadDocument(u)
	}

	capability, err := l.SynthesizeRoot(u)
	if err != nil {
		return nil, err
	}

	return &ld.RemoteDocument{
		DocumentURL: u,
		Document:    capability.toMap(),
	}, nil
}

// SynthesizeRoot builds the root capability document for the given root id
func (l *RootCapabilityLoader) SynthesizeRoot(rootCapabilityID string) (*Capability, error) {
	target, err := RootInvocationTarget(rootCapabilityID)
	if err != nil {
		return nil, err
	}

	controllers, err := l.GetRootController(l.Request, rootCapabilityID, target)
	if err != nil {
		return nil, fmt.Errorf("get root controller for %s: %w", rootCapabilityID, err)
	}
	if len(controllers) == 0 {
		return nil, fmt.Errorf("no controller for root capability %s", rootCapabilityID)
	}

	return &Capability{
		Context:          ContextV1,
		ID:               rootCapabilityID,
		Controller:       controllers,
		InvocationTarget: Target{ID: target},
	}, nil
}

// LoadCapability dereferences a capability by id through the loader
func LoadCapability(loader ld.DocumentLoader, id string) (*Capability, error) {
	doc, err := loader.LoadDocument(id)
	if err != nil {
		return nil, fmt.Errorf("load capability %s: %w", id, err)
	}

	switch d := doc.Document.(type) {
	case []byte:
		return ParseCapability(d)
	case string:
		return ParseCapability([]byte(d))
	default:
		data, err := json.Marshal(doc.Document)
		if err != nil {
			return nil, fmt.Errorf("serialize capability %s: %w", id, err)
		}
		return ParseCapability(data)
	}
}
