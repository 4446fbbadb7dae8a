package graphql

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
	"golang.org/x/sync/errgroup"

	"github.com/i2y/apicomposer/internal/domain"
)

// Root operation type names of the supergraph.
const (
	QueryType        = "Query"
	MutationType     = "Mutation"
	SubscriptionType = "Subscription"
)

var rootTypeNames = map[ast.Operation]string{
	ast.Query:        QueryType,
	ast.Mutation:     MutationType,
	ast.Subscription: SubscriptionType,
}

// Federation plumbing exposed by subgraphs; none of it belongs in the supergraph.
var (
	federationTypes = map[string]bool{
		"_Service": true, "_Entity": true, "_Any": true, "_FieldSet": true, "FieldSet": true,
		"link__Import": true, "link__Purpose": true, "federation__FieldSet": true, "federation__Scope": true,
	}
	federationRootFields = map[string]bool{"_service": true, "_entities": true}
	keptDirectives       = map[string]bool{"deprecated": true, "specifiedBy": true}
)

// SDLSource fetches the schema of one subgraph.
type SDLSource interface {
	FetchSDL(ctx context.Context, server domain.SubgraphServer) (string, error)
}

// Composer implements the usecase.SupergraphComposer interface.
type Composer struct {
	fetcher SDLSource
	logger  *slog.Logger
}

// NewComposer creates a new Composer fetching subgraph schemas through fetcher.
func NewComposer(fetcher SDLSource, logger *slog.Logger) *Composer {
	return &Composer{
		fetcher: fetcher,
		logger:  logger.With("component", "supergraph_composer"),
	}
}

// Subgraph is one fetched subgraph schema.
type Subgraph struct {
	Config domain.SubgraphConfig
	SDL    string
}

// SubgraphConfigs builds the composition input of every service taking part in live
// GraphQL composition. File-backed subgraphs are left out.
func SubgraphConfigs(services []domain.ServiceDescriptor) []domain.SubgraphConfig {
	var configs []domain.SubgraphConfig
	for _, s := range services {
		if !s.HasLiveGraphQL() {
			continue
		}
		g := s.GraphQL
		server := domain.SubgraphServer{
			Host:            g.Host,
			ComposeEndpoint: g.ComposeEndpoint,
			GraphQLEndpoint: g.GraphQLEndpoint,
		}
		if server.Host == "" {
			server.Host = s.Origin
		}
		if server.ComposeEndpoint == "" {
			server.ComposeEndpoint = domain.DefaultComposeEndpoint
		}
		if server.GraphQLEndpoint == "" {
			server.GraphQLEndpoint = domain.DefaultGraphQLEndpoint
		}
		configs = append(configs, domain.SubgraphConfig{Name: s.ID, Server: server, Entities: g.Entities})
	}
	return configs
}

// Compose fetches every live subgraph and merges the reachable ones. It never fails:
// with zero reachable subgraphs, or when merging fails, the placeholder supergraph is returned.
func (c *Composer) Compose(ctx context.Context, services []domain.ServiceDescriptor) domain.Supergraph {
	configs := SubgraphConfigs(services)
	if len(configs) == 0 {
		c.logger.Debug("No live GraphQL services, using placeholder supergraph")
		return domain.PlaceholderSupergraph()
	}

	fetched := make([]*Subgraph, len(configs))
	var mu sync.Mutex
	failed := 0
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		g.Go(func() error {
			sdl, err := c.fetcher.FetchSDL(gctx, cfg.Server)
			if err != nil {
				c.logger.Warn("Skipping unreachable subgraph", slog.String("subgraph", cfg.Name), slog.Any("error", err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			fetched[i] = &Subgraph{Config: cfg, SDL: sdl}
			return nil
		})
	}
	_ = g.Wait()

	var subgraphs []Subgraph
	for _, sg := range fetched {
		if sg != nil {
			subgraphs = append(subgraphs, *sg)
		}
	}
	if len(subgraphs) == 0 {
		c.logger.Warn("No subgraph reachable, using placeholder supergraph", slog.Int("configured", len(configs)))
		return domain.PlaceholderSupergraph()
	}

	supergraph, err := Merge(subgraphs)
	if err != nil {
		c.logger.Error("Supergraph composition failed, using placeholder supergraph", slog.Any("error", err))
		return domain.PlaceholderSupergraph()
	}
	c.logger.Info("Composed supergraph",
		slog.Int("subgraphs", len(subgraphs)),
		slog.Int("unreachable", failed),
	)
	return supergraph
}

// Merge combines subgraph schemas into one supergraph.
//
// Types are merged by name: fields, enum values, union members and interfaces are unioned,
// and the first subgraph to declare a field owns it. Type extensions are folded into their
// types. Federation plumbing and non-standard directives are dropped. The printed SDL is
// deterministic (definitions sorted by name) and validated before it is returned.
func Merge(subgraphs []Subgraph) (domain.Supergraph, error) {
	types := make(map[string]*ast.Definition)
	resolvers := make(map[string]map[string]string)
	var configs []domain.SubgraphConfig

	for _, sg := range subgraphs {
		doc, err := parser.ParseSchema(&ast.Source{Name: sg.Config.Name, Input: sg.SDL})
		if err != nil {
			return domain.Supergraph{}, fmt.Errorf("subgraph %s: %w", sg.Config.Name, err)
		}
		roots := rootTypes(doc)

		defs := make([]*ast.Definition, 0, len(doc.Definitions)+len(doc.Extensions))
		defs = append(defs, doc.Definitions...)
		defs = append(defs, doc.Extensions...)
		for _, def := range defs {
			if federationTypes[def.Name] {
				continue
			}
			name := def.Name
			if canonical, ok := roots[name]; ok {
				name = canonical
			}
			incoming := cleanDefinition(def, name)
			if isRootType(name) {
				incoming.Fields = dropFederationFields(incoming.Fields)
				owner := resolvers[name]
				if owner == nil {
					owner = make(map[string]string)
					resolvers[name] = owner
				}
				for _, f := range incoming.Fields {
					if _, taken := owner[f.Name]; !taken {
						owner[f.Name] = sg.Config.Name
					}
				}
			}
			if existing, ok := types[name]; ok {
				mergeDefinition(existing, incoming)
			} else {
				types[name] = incoming
			}
		}
		configs = append(configs, sg.Config)
	}

	if q := types[QueryType]; q == nil || len(q.Fields) == 0 {
		return domain.Supergraph{}, fmt.Errorf("composed schema has no query fields")
	}
	for name, def := range types {
		if isRootType(name) && len(def.Fields) == 0 {
			delete(types, name)
			delete(resolvers, name)
		}
	}

	sdl := printSchema(types)
	if _, err := gqlparser.LoadSchema(&ast.Source{Name: "supergraph", Input: sdl}); err != nil {
		return domain.Supergraph{}, fmt.Errorf("composed schema is invalid: %w", err)
	}
	return domain.Supergraph{SDL: sdl, Resolvers: resolvers, Subgraphs: configs}, nil
}

// rootTypes maps the operation type names a subgraph declares to the canonical ones.
func rootTypes(doc *ast.SchemaDocument) map[string]string {
	roots := make(map[string]string)
	schemas := append(ast.SchemaDefinitionList{}, doc.Schema...)
	schemas = append(schemas, doc.SchemaExtension...)
	for _, s := range schemas {
		for _, op := range s.OperationTypes {
			if canonical, ok := rootTypeNames[op.Operation]; ok && op.Type != canonical {
				roots[op.Type] = canonical
			}
		}
	}
	return roots
}

func isRootType(name string) bool {
	return name == QueryType || name == MutationType || name == SubscriptionType
}

func dropFederationFields(fields ast.FieldList) ast.FieldList {
	out := fields[:0:0]
	for _, f := range fields {
		if !federationRootFields[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

// cleanDefinition copies def under name without positions and non-standard directives.
func cleanDefinition(def *ast.Definition, name string) *ast.Definition {
	out := &ast.Definition{
		Kind:        def.Kind,
		Description: def.Description,
		Name:        name,
		Directives:  cleanDirectives(def.Directives),
		Interfaces:  append([]string(nil), def.Interfaces...),
		Types:       append([]string(nil), def.Types...),
	}
	for _, f := range def.Fields {
		field := &ast.FieldDefinition{
			Description:  f.Description,
			Name:         f.Name,
			DefaultValue: f.DefaultValue,
			Type:         f.Type,
			Directives:   cleanDirectives(f.Directives),
		}
		for _, a := range f.Arguments {
			field.Arguments = append(field.Arguments, &ast.ArgumentDefinition{
				Description:  a.Description,
				Name:         a.Name,
				DefaultValue: a.DefaultValue,
				Type:         a.Type,
				Directives:   cleanDirectives(a.Directives),
			})
		}
		out.Fields = append(out.Fields, field)
	}
	for _, v := range def.EnumValues {
		out.EnumValues = append(out.EnumValues, &ast.EnumValueDefinition{
			Description: v.Description,
			Name:        v.Name,
			Directives:  cleanDirectives(v.Directives),
		})
	}
	return out
}

func cleanDirectives(list ast.DirectiveList) ast.DirectiveList {
	var out ast.DirectiveList
	for _, d := range list {
		if keptDirectives[d.Name] {
			out = append(out, &ast.Directive{Name: d.Name, Arguments: d.Arguments})
		}
	}
	return out
}

// mergeDefinition folds incoming into existing. Existing members win on conflicts.
func mergeDefinition(existing, incoming *ast.Definition) {
	if existing.Description == "" {
		existing.Description = incoming.Description
	}
	for _, f := range incoming.Fields {
		if existing.Fields.ForName(f.Name) == nil {
			existing.Fields = append(existing.Fields, f)
		}
	}
	for _, v := range incoming.EnumValues {
		if existing.EnumValues.ForName(v.Name) == nil {
			existing.EnumValues = append(existing.EnumValues, v)
		}
	}
	existing.Interfaces = unionStrings(existing.Interfaces, incoming.Interfaces)
	existing.Types = unionStrings(existing.Types, incoming.Types)
}

func unionStrings(a, b []string) []string {
	for _, s := range b {
		found := false
		for _, have := range a {
			if have == s {
				found = true
				break
			}
		}
		if !found {
			a = append(a, s)
		}
	}
	return a
}

func printSchema(types map[string]*ast.Definition) string {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := &ast.SchemaDocument{}
	for _, name := range names {
		doc.Definitions = append(doc.Definitions, types[name])
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(doc)
	return buf.String()
}
