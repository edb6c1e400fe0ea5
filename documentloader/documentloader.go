// Package documentloader provides json-ld document loaders for contexts,
// DID documents, and capability documents.
package documentloader

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/piprate/json-gold/ld"
)

const (
	// DefaultCacheExpiry is how long loaded documents stay cached
	DefaultCacheExpiry = 5 * time.Minute
	// DefaultCachePurge is how often expired documents are purged
	DefaultCachePurge = 10 * time.Minute
)

// CachingLoader wraps a document loader with a TTL cache. Safe for
// concurrent use across requests; root zcap urls must not be routed
// through it (they are request-scoped).
type CachingLoader struct {
	base  ld.DocumentLoader
	cache *gocache.Cache
}

// NewCachingLoader wraps base with the default cache policy
func NewCachingLoader(base ld.DocumentLoader) *CachingLoader {
	return NewCachingLoaderWithPolicy(base, DefaultCacheExpiry, DefaultCachePurge)
}

// NewCachingLoaderWithPolicy wraps base with an explicit cache policy
func NewCachingLoaderWithPolicy(base ld.DocumentLoader, expiry, purge time.Duration) *CachingLoader {
	return &CachingLoader{
		base:  base,
		cache: gocache.New(expiry, purge),
	}
}

// LoadDocument loads through the cache
func (l *CachingLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	if doc, ok := l.cache.Get(u); ok {
		return doc.(*ld.RemoteDocument), nil
	}

	doc, err := l.base.LoadDocument(u)
	if err != nil {
		return nil, err
	}

	l.cache.Set(u, doc, gocache.DefaultExpiration)
	return doc, nil
}

// StaticLoader serves documents from memory. Useful in tests and for
// embedding well-known contexts; unknown urls fall through to the next
// loader when one is set.
type StaticLoader struct {
	mu   sync.RWMutex
	docs map[string]*ld.RemoteDocument
	next ld.DocumentLoader
}

// NewStaticLoader creates an empty static loader
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{docs: map[string]*ld.RemoteDocument{}}
}

// WithNext chains a fallback loader for urls not held statically
func (l *StaticLoader) WithNext(next ld.DocumentLoader) *StaticLoader {
	l.next = next
	return l
}

// AddDocument registers a parsed document under the url
func (l *StaticLoader) AddDocument(u string, document interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.docs[u] = &ld.RemoteDocument{DocumentURL: u, Document: document}
}

// AddJSON registers a json document under the url
func (l *StaticLoader) AddJSON(u string, doc []byte) error {
	var document interface{}
	if err := json.Unmarshal(doc, &document); err != nil {
		return fmt.Errorf("parse document for %s: %w", u, err)
	}
	l.AddDocument(u, document)
	return nil
}

// LoadDocument serves the document for u
func (l *StaticLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	l.mu.RLock()
	doc, ok := l.docs[u]
	l.mu.RUnlock()

	if ok {
		return doc, nil
	}
	if l.next != nil {
		return l.next.LoadDocument(u)
	}
	return nil, fmt.Errorf("document not found: %s", u)
}
