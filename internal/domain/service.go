package domain

import (
	"regexp"
	"strings"
)

// ServiceDescriptor describes one upstream service and how it exposes its API.
// Descriptors are loaded once at startup and never change for the lifetime of the process.
type ServiceDescriptor struct {
	// ID is unique across the table. It is the default mount prefix and the namespace seed.
	ID string
	// Origin is the base URL of the upstream (e.g. "http://127.0.0.1:3001").
	Origin string

	OpenAPI *OpenAPIFacet
	GraphQL *GraphQLFacet
	Proxy   *ProxyFacet

	// ProxyDisabled is set when the configuration explicitly says `proxy: false`.
	ProxyDisabled bool
}

// OpenAPIFacet tells the composer where to find a service's OpenAPI document.
type OpenAPIFacet struct {
	// URL is fetched over HTTP. A URL starting with "/" is resolved against the service origin.
	URL string
	// File is a local path. File-backed documents are composed but never polled for drift.
	File string
	// Prefix mounts every path of the document under this prefix in the composed document.
	Prefix string
	// Config is the path to a route config file (ignore / alias / rename rules).
	Config string
}

// GraphQLFacet describes a GraphQL subgraph.
type GraphQLFacet struct {
	Host            string
	GraphQLEndpoint string
	ComposeEndpoint string
	// File marks a subgraph whose SDL lives on disk; such subgraphs are excluded from live composition.
	File     string
	Entities map[string]EntityConfig
}

// EntityConfig carries the per-entity resolution hints of a subgraph.
type EntityConfig struct {
	Keys                      []string `json:"keys,omitempty" yaml:"keys,omitempty" mapstructure:"keys"`
	ReferenceListResolverName string   `json:"referenceListResolverName,omitempty" yaml:"referenceListResolverName,omitempty" mapstructure:"referenceListResolverName"`
	ArgsAdapter               string   `json:"argsAdapter,omitempty" yaml:"argsAdapter,omitempty" mapstructure:"argsAdapter"`
}

// ProxyFacet configures the raw reverse-proxy mount of a service.
type ProxyFacet struct {
	Prefix string
	// Hostname restricts the mount to requests whose Host header matches.
	Hostname string
	// RewriteLocation rewrites Location headers that point at the upstream itself.
	RewriteLocation bool
	// InternalRewritePrefix is the prefix the upstream believes it is mounted under.
	InternalRewritePrefix string
	// TrailingSlash forwards requests for exactly the mount base with a trailing slash.
	TrailingSlash bool
	// RefererRedirect re-prefixes requests whose Referer points into this mount.
	RefererRedirect bool
}

const (
	DefaultGraphQLEndpoint = "/graphql"
	DefaultComposeEndpoint = "/.well-known/graphql-composition"
)

// IsFetchable reports whether the service exposes a schema that can be polled for drift:
// a live OpenAPI URL, or any GraphQL facet.
func (s ServiceDescriptor) IsFetchable() bool {
	if s.OpenAPI != nil && s.OpenAPI.URL != "" {
		return true
	}
	return s.GraphQL != nil
}

// HasOpenAPIURL reports whether the OpenAPI document of the service is fetched over HTTP.
func (s ServiceDescriptor) HasOpenAPIURL() bool {
	return s.OpenAPI != nil && s.OpenAPI.URL != ""
}

// HasLiveGraphQL reports whether the service takes part in live GraphQL composition.
func (s ServiceDescriptor) HasLiveGraphQL() bool {
	return s.GraphQL != nil && s.GraphQL.File == ""
}

// Proxied reports whether the service gets a raw proxy mount.
// Services without openapi or graphql are proxied implicitly.
func (s ServiceDescriptor) Proxied() bool {
	if s.ProxyDisabled {
		return false
	}
	if s.Proxy != nil {
		return true
	}
	return s.OpenAPI == nil && s.GraphQL == nil
}

// MountPrefix returns the externally visible prefix of the raw proxy mount.
func (s ServiceDescriptor) MountPrefix() string {
	if s.Proxy != nil && s.Proxy.Prefix != "" {
		return NormalizePrefix(s.Proxy.Prefix)
	}
	return "/" + s.ID
}

// Hostname returns the virtual host constraint of the proxy mount, if any.
func (s ServiceDescriptor) Hostname() string {
	if s.Proxy == nil {
		return ""
	}
	return s.Proxy.Hostname
}

// NormalizePrefix makes sure a prefix starts with "/" and has no trailing "/".
// The empty prefix stays empty.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

var (
	nonIdentRunes = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// NamespacePrefix derives the identifier prefix used to namespace a service's
// schemas, operation ids and security schemes: "-api-3_" becomes "api_3_".
func NamespacePrefix(id string) string {
	name := nonIdentRunes.ReplaceAllString(id, "_")
	name = underscoreRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	return name + "_"
}

// FindService returns the descriptor with the given id.
func FindService(services []ServiceDescriptor, id string) (ServiceDescriptor, bool) {
	for _, s := range services {
		if s.ID == id {
			return s, true
		}
	}
	return ServiceDescriptor{}, false
}
