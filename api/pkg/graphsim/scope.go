package graphsim

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Scope is a parsed SMART-on-FHIR-shaped authorization scope of the form
// "<audience>/<ResourceType|*>.<read|write|*>", e.g.
// "patient/Observation.read" or "system/*.*". This is narrowed to the
// read/resource-type question the walker needs to answer.
type Scope struct {
	Audience     string
	ResourceType string
	Operation    string
}

// ParseScope parses a single scope string. Non-resource scopes (openid,
// profile, launch, ...) return an error; NewScopeParser silently skips
// them, so they do not appear in the parsed set.
func ParseScope(raw string) (Scope, error) {
	slash := strings.Index(raw, "/")
	if slash < 0 {
		return Scope{}, fmt.Errorf("not a resource scope: %q", raw)
	}
	audience := raw[:slash]
	remainder := raw[slash+1:]

	dot := strings.LastIndex(remainder, ".")
	if dot < 0 {
		return Scope{}, fmt.Errorf("invalid scope %q: missing operation", raw)
	}
	resourceType := remainder[:dot]
	operation := remainder[dot+1:]
	if resourceType == "" {
		return Scope{}, fmt.Errorf("invalid scope %q: empty resource type", raw)
	}
	if operation != "read" && operation != "write" && operation != "*" {
		return Scope{}, fmt.Errorf("invalid scope %q: operation must be read, write, or *", raw)
	}
	return Scope{Audience: audience, ResourceType: resourceType, Operation: operation}, nil
}

// ScopeParser decides whether a resource type may be fetched under the
// current authorization policy. An empty scope list means "allow
// everything" (open mode).
type ScopeParser struct {
	scopes []Scope
	open   bool
}

// NewScopeParser builds a ScopeParser from raw scope strings. Strings
// that do not parse as resource scopes are silently skipped.
func NewScopeParser(rawScopes []string) *ScopeParser {
	if len(rawScopes) == 0 {
		return &ScopeParser{open: true}
	}
	sp := &ScopeParser{}
	for _, raw := range rawScopes {
		s, err := ParseScope(raw)
		if err != nil {
			continue
		}
		sp.scopes = append(sp.scopes, s)
	}
	return sp
}

// ParseScopesFromBearerToken decodes the "scope" (space-delimited
// string, OAuth2 convention) or "scp" (array, some IdPs) claim out of an
// unverified bearer JWT and builds a ScopeParser from it. Verification of
// the token is the identity provider's job; this only needs to read the
// claims a caller's middleware has already validated upstream.
func ParseScopesFromBearerToken(token string) (*ScopeParser, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode bearer token claims: %w", err)
	}

	var raw []string
	switch v := claims["scope"].(type) {
	case string:
		raw = strings.Fields(v)
	}
	if scp, ok := claims["scp"].([]interface{}); ok {
		for _, s := range scp {
			if str, ok := s.(string); ok {
				raw = append(raw, str)
			}
		}
	}
	return NewScopeParser(raw), nil
}

// Allows reports whether resourceType may be read under this policy.
// Write-only scopes never grant read access; an explicit type permits
// only that type; "*" in the resource position permits any type.
func (p *ScopeParser) Allows(resourceType string) bool {
	if p == nil || p.open {
		return true
	}
	for _, s := range p.scopes {
		if s.Operation != "read" && s.Operation != "*" {
			continue
		}
		if s.ResourceType == "*" || s.ResourceType == resourceType {
			return true
		}
	}
	return false
}
