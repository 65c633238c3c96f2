// Package identity derives the canonical id of every node kind.
//
// Natural keys are pure functions of the entity's domain fields so that the
// same entity referenced many times in a document collapses onto one graph
// node. Entities without a durable natural key (free-floating addresses,
// assigned entities, encounters) get a synthetic random key instead, which
// deliberately turns off merge-by-overwrite for them.
package identity

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// DefaultNamespace prefixes the URI style keys minted by a Scheme.
const DefaultNamespace = "http://ccdagraph.local"

// Identifier returns "{root}:{extension}".
func Identifier(root, extension string) string {
	return root + ":" + extension
}

// Code returns "{codeSystem}:{code}".
func Code(codeSystem, code string) string {
	return codeSystem + ":" + code
}

// Scheme mints keys that need a namespace or a random component.
type Scheme struct {
	namespace string
	newUUID   func() string
}

// Option configures a Scheme.
type Option func(*Scheme)

// WithUUIDSource replaces the random uuid generator. Tests use it to make
// synthetic keys predictable.
func WithUUIDSource(fn func() string) Option {
	return func(s *Scheme) {
		if fn != nil {
			s.newUUID = fn
		}
	}
}

// NewScheme creates a Scheme rooted at namespace. An empty namespace falls back
// to DefaultNamespace.
func NewScheme(namespace string, opts ...Option) *Scheme {
	namespace = strings.TrimRight(namespace, "/")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	s := &Scheme{namespace: namespace, newUUID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the namespace URI keys are minted under.
func (s *Scheme) Namespace() string { return s.namespace }

// Contact keys a telecom by its value, e.g. "tel:+1(555)555-1003".
func (s *Scheme) Contact(value string) string {
	return s.namespace + "/contact/value/" + value
}

// PersonName keys a name by its escaped given, family and suffix parts.
func (s *Scheme) PersonName(given, family, suffix string) string {
	return s.namespace + "/performers/names/" +
		url.QueryEscape(given) + "_" + url.QueryEscape(family) + "_" + url.QueryEscape(suffix)
}

// Synthetic returns a fresh "urn:uuid:..." key. Two calls never collide, so the
// resulting nodes are never merged.
func (s *Scheme) Synthetic() string {
	return "urn:uuid:" + s.newUUID()
}

// Encounter returns a fresh synthetic encounter key.
func (s *Scheme) Encounter() string {
	return s.namespace + "/encounter/" + s.newUUID()
}

// Diagnosis returns a fresh synthetic diagnosis key.
func (s *Scheme) Diagnosis() string {
	return s.namespace + "/diagnosis/" + s.newUUID()
}
