package graphql

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/internal/usecase"
	"github.com/i2y/apicomposer/pkg/shared/graphqlhttp"
)

// placeholderSchema is the executable form of domain.PlaceholderSDL.
const placeholderSchema = "type Query { _info: String }"

// Planner implements the usecase.QueryPlanner interface for one supergraph.
// Root fields are routed to the subgraph owning them; nested selections are
// forwarded untouched, so no cross-subgraph entity resolution happens.
type Planner struct {
	supergraph domain.Supergraph
	schema     *ast.Schema
	endpoints  map[string]string
}

// NewPlanner loads the supergraph schema for query validation.
func NewPlanner(supergraph domain.Supergraph) (*Planner, error) {
	sdl := supergraph.SDL
	if supergraph.IsPlaceholder() || strings.TrimSpace(sdl) == "" {
		supergraph = domain.PlaceholderSupergraph()
		sdl = placeholderSchema
	}
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "supergraph", Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("failed to load supergraph schema: %w", err)
	}
	endpoints := make(map[string]string, len(supergraph.Subgraphs))
	for _, sg := range supergraph.Subgraphs {
		endpoints[sg.Name] = sg.Server.GraphQLURL()
	}
	return &Planner{supergraph: supergraph, schema: schema, endpoints: endpoints}, nil
}

type fetchGroup struct {
	subgraph string
	fields   ast.SelectionSet
	keys     []string
}

// Plan validates the request against the supergraph and splits its root fields by subgraph.
func (p *Planner) Plan(req graphqlhttp.Request) (*usecase.QueryPlan, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, graphqlhttp.ErrorList{graphqlhttp.NewError(graphqlhttp.CodeBadRequest, "query is required")}
	}
	doc, errs := gqlparser.LoadQuery(p.schema, req.Query)
	if len(errs) > 0 {
		return nil, toErrorList(errs)
	}
	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return nil, err
	}
	if op.Operation == ast.Subscription {
		return nil, graphqlhttp.ErrorList{graphqlhttp.NewError(graphqlhttp.CodeUnsupportedFeature, "subscriptions are not supported")}
	}
	rootName := rootTypeNames[op.Operation]

	plan := &usecase.QueryPlan{
		Sequential: op.Operation == ast.Mutation,
		Local:      make(map[string]interface{}),
	}
	var groups []*fetchGroup
	byOwner := make(map[string]*fetchGroup)
	for _, field := range rootFields(op.SelectionSet, doc.Fragments, req.Variables) {
		switch field.Name {
		case "__typename":
			plan.Local[field.Alias] = rootName
			continue
		case "__schema", "__type":
			return nil, graphqlhttp.ErrorList{graphqlhttp.NewError(graphqlhttp.CodeUnsupportedFeature, "introspection is not supported by the gateway")}
		}
		owner, ok := p.supergraph.Resolvers[rootName][field.Name]
		if !ok {
			return nil, graphqlhttp.ErrorList{graphqlhttp.NewError(graphqlhttp.CodeValidationFailed,
				fmt.Sprintf("%s: %s.%s", usecase.ErrNoSubgraph, rootName, field.Name))}
		}
		if owner == "" {
			plan.Local[field.Alias] = localValue(field.Name)
			continue
		}

		group := byOwner[owner]
		if plan.Sequential {
			// mutations keep their order: a new group starts whenever the owner changes
			if n := len(groups); n == 0 || groups[n-1].subgraph != owner {
				group = nil
			}
		}
		if group == nil {
			group = &fetchGroup{subgraph: owner}
			groups = append(groups, group)
			byOwner[owner] = group
		}
		group.fields = append(group.fields, field)
		group.keys = append(group.keys, field.Alias)
	}

	for _, group := range groups {
		endpoint, ok := p.endpoints[group.subgraph]
		if !ok {
			return nil, graphqlhttp.ErrorList{graphqlhttp.NewError(graphqlhttp.CodeSubgraphFailed,
				fmt.Sprintf("unknown subgraph %s", group.subgraph))}
		}
		plan.Fetches = append(plan.Fetches, usecase.SubgraphFetch{
			Subgraph:     group.subgraph,
			Endpoint:     endpoint,
			Request:      subgraphRequest(op, doc.Fragments, group.fields, req),
			ResponseKeys: group.keys,
		})
	}
	return plan, nil
}

func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0], nil
		}
		return nil, graphqlhttp.ErrorList{graphqlhttp.NewError(graphqlhttp.CodeBadRequest,
			"operationName is required when the document contains several operations")}
	}
	op := doc.Operations.ForName(name)
	if op == nil {
		return nil, graphqlhttp.ErrorList{graphqlhttp.NewError(graphqlhttp.CodeBadRequest,
			fmt.Sprintf("unknown operation named %q", name))}
	}
	return op, nil
}

// rootFields flattens fragments applied directly to the root type. Selections
// excluded by @skip or @include for vars are dropped.
func rootFields(set ast.SelectionSet, fragments ast.FragmentDefinitionList, vars map[string]interface{}) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if !excluded(s.Directives, vars) {
				fields = append(fields, s)
			}
		case *ast.InlineFragment:
			if !excluded(s.Directives, vars) {
				fields = append(fields, rootFields(s.SelectionSet, fragments, vars)...)
			}
		case *ast.FragmentSpread:
			if excluded(s.Directives, vars) {
				continue
			}
			if def := fragments.ForName(s.Name); def != nil {
				fields = append(fields, rootFields(def.SelectionSet, fragments, vars)...)
			}
		}
	}
	return fields
}

// excluded reports whether @skip(if: true) or @include(if: false) applies.
func excluded(directives ast.DirectiveList, vars map[string]interface{}) bool {
	if d := directives.ForName("skip"); d != nil {
		if v, ok := d.ArgumentMap(vars)["if"].(bool); ok && v {
			return true
		}
	}
	if d := directives.ForName("include"); d != nil {
		if v, ok := d.ArgumentMap(vars)["if"].(bool); ok && !v {
			return true
		}
	}
	return false
}

// subgraphRequest prints the operation restricted to fields, keeping only the
// variables and fragments the selection uses.
func subgraphRequest(op *ast.OperationDefinition, fragments ast.FragmentDefinitionList, fields ast.SelectionSet, req graphqlhttp.Request) graphqlhttp.Request {
	vars := make(map[string]bool)
	used := make(map[string]bool)
	collectUsage(fields, fragments, vars, used)
	directiveVars(op.Directives, vars)

	sub := &ast.OperationDefinition{
		Operation:    op.Operation,
		Name:         op.Name,
		Directives:   op.Directives,
		SelectionSet: fields,
	}
	for _, v := range op.VariableDefinitions {
		if vars[v.Variable] {
			sub.VariableDefinitions = append(sub.VariableDefinitions, v)
		}
	}
	doc := &ast.QueryDocument{Operations: ast.OperationList{sub}}
	for _, f := range fragments {
		if used[f.Name] {
			doc.Fragments = append(doc.Fragments, f)
		}
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)

	out := graphqlhttp.Request{Query: buf.String(), OperationName: op.Name, Extensions: req.Extensions}
	for name := range vars {
		if value, ok := req.Variables[name]; ok {
			if out.Variables == nil {
				out.Variables = make(map[string]interface{})
			}
			out.Variables[name] = value
		}
	}
	return out
}

func collectUsage(set ast.SelectionSet, fragments ast.FragmentDefinitionList, vars, used map[string]bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				valueVars(arg.Value, vars)
			}
			directiveVars(s.Directives, vars)
			collectUsage(s.SelectionSet, fragments, vars, used)
		case *ast.InlineFragment:
			directiveVars(s.Directives, vars)
			collectUsage(s.SelectionSet, fragments, vars, used)
		case *ast.FragmentSpread:
			directiveVars(s.Directives, vars)
			if used[s.Name] {
				continue
			}
			used[s.Name] = true
			if def := fragments.ForName(s.Name); def != nil {
				directiveVars(def.Directives, vars)
				collectUsage(def.SelectionSet, fragments, vars, used)
			}
		}
	}
}

func directiveVars(list ast.DirectiveList, vars map[string]bool) {
	for _, d := range list {
		for _, arg := range d.Arguments {
			valueVars(arg.Value, vars)
		}
	}
}

func valueVars(v *ast.Value, vars map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		vars[v.Raw] = true
	}
	for _, child := range v.Children {
		valueVars(child.Value, vars)
	}
}

func localValue(field string) interface{} {
	if field == "_info" {
		return domain.PlaceholderInfo
	}
	return nil
}

func toErrorList(errs gqlerror.List) graphqlhttp.ErrorList {
	out := make(graphqlhttp.ErrorList, 0, len(errs))
	for _, e := range errs {
		code := graphqlhttp.CodeValidationFailed
		if e.Rule == "" {
			code = graphqlhttp.CodeParseFailed
		}
		entry := graphqlhttp.NewError(code, e.Message)
		for _, loc := range e.Locations {
			entry.Locations = append(entry.Locations, graphqlhttp.Location{Line: loc.Line, Column: loc.Column})
		}
		out = append(out, entry)
	}
	return out
}
