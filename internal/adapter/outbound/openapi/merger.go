package openapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/internal/usecase"
)

const (
	DefaultTitle   = "Platformatic Composer"
	DefaultVersion = "1.0.0"

	componentsRefPrefix = "#/components/"
	hiddenExtension     = "x-hidden"
)

// MergeOptions sets the info block of the composed document.
type MergeOptions struct {
	Title       string
	Description string
	Version     string
}

// Merger implements the usecase.DocumentComposer interface.
type Merger struct {
	opts   MergeOptions
	logger *slog.Logger
}

// NewMerger creates a new Merger, defaulting empty options.
func NewMerger(opts MergeOptions, logger *slog.Logger) *Merger {
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	return &Merger{
		opts:   opts,
		logger: logger.With("component", "openapi_merger"),
	}
}

// Compose merges the documents of all inputs into one document.
//
// Every service is namespaced with domain.NamespacePrefix(id): component keys, $refs,
// operation ids and security requirement keys all carry the prefix. Paths are mounted
// under the service's openapi prefix; a path contributed twice fails the whole composition
// with a *PathAlreadyExistsError. Input documents are never modified.
func (m *Merger) Compose(inputs []usecase.ServiceSchema) (*domain.ComposedDocument, error) {
	paths := make(map[string]interface{})
	components := make(map[string]map[string]interface{})
	routes := make(domain.RouteMapping)

	for _, in := range inputs {
		doc := in.Schema.OpenAPIDoc()
		if doc == nil || in.Service.OpenAPI == nil {
			m.logger.Warn("Skipping service without parsed OpenAPI document", slog.String("service", in.Service.ID))
			continue
		}
		if err := m.composeService(in.Service, doc, paths, components, routes); err != nil {
			return nil, err
		}
	}

	merged := map[string]interface{}{
		"openapi": "3.0.3",
		"info":    m.info(),
		"paths":   paths,
	}
	if len(components) > 0 {
		comps := make(map[string]interface{}, len(components))
		for kind, entries := range components {
			comps[kind] = entries
		}
		merged["components"] = comps
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode composed document: %w", err)
	}
	loader := openapi3.NewLoader()
	composed, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usecase.ErrCompositionFailed, err)
	}

	m.logger.Info("Composed OpenAPI document", slog.Int("services", len(inputs)), slog.Int("paths", len(paths)))
	return &domain.ComposedDocument{Doc: composed, Routes: routes}, nil
}

func (m *Merger) info() map[string]interface{} {
	info := map[string]interface{}{
		"title":   m.opts.Title,
		"version": m.opts.Version,
	}
	if m.opts.Description != "" {
		info["description"] = m.opts.Description
	}
	return info
}

func (m *Merger) composeService(
	service domain.ServiceDescriptor,
	doc *openapi3.T,
	paths map[string]interface{},
	components map[string]map[string]interface{},
	routes domain.RouteMapping,
) error {
	log := m.logger.With(slog.String("service", service.ID))

	cfg, err := LoadRouteConfig(service.OpenAPI.Config)
	if err != nil {
		return &RouteConfigError{ServiceID: service.ID, File: service.OpenAPI.Config, Err: err}
	}
	if cfg.Ignore {
		log.Info("Service ignored by route config")
		return nil
	}

	tree, err := cloneDocument(doc)
	if err != nil {
		return fmt.Errorf("service %s: %w", service.ID, err)
	}

	ns := domain.NamespacePrefix(service.ID)
	prefix := domain.NormalizePrefix(service.OpenAPI.Prefix)
	srcComponents := asMap(tree["components"])
	srcPaths := asMap(tree["paths"])
	docSecurity, hasDocSecurity := tree["security"]

	var ids OperationIDs
	for _, path := range sortedKeys(srcPaths) {
		pathCfg := cfg.path(path)
		if pathCfg.Ignore {
			log.Debug("Path ignored by route config", slog.String("path", path))
			continue
		}
		item := asMap(srcPaths[path])
		itemParams := pathParamNames(item["parameters"])

		newItem := make(map[string]interface{}, len(item))
		ops := make(map[string]domain.RouteOperation)
		for _, key := range sortedKeys(item) {
			if !isHTTPMethod(key) {
				newItem[key] = rewriteRefs(item[key], ns)
				continue
			}
			method := strings.ToUpper(key)
			methodCfg := pathCfg.method(method)
			if methodCfg.Ignore {
				continue
			}
			op := asMap(item[key])

			seed, _ := op["operationId"].(string)
			params := append(append([]string(nil), itemParams...), pathParamNames(op["parameters"])...)
			id := GenerateOperationID(path, method, seed, params, ids.taken)
			ids.taken = append(ids.taken, id)

			routeOp := domain.RouteOperation{OperationID: ns + id}
			if status, spec := methodCfg.renameRule(); spec != nil {
				if renameResponseSchema(op, status, spec, srcComponents) {
					// status is numeric, LoadRouteConfig rejects anything else
					code, _ := strconv.Atoi(status)
					routeOp.Rename = spec
					routeOp.RenameStatus = code
				} else {
					log.Warn("Rename configured for a response without JSON schema",
						slog.String("path", path), slog.String("method", method), slog.String("status", status))
				}
			}

			if _, ok := op["security"]; !ok && hasDocSecurity {
				op["security"] = docSecurity
			}
			rewritten := asMap(rewriteRefs(op, ns))
			rewritten["operationId"] = ns + id
			if sec, ok := rewritten["security"]; ok {
				rewritten["security"] = prefixSecurity(sec, ns)
			}
			newItem[key] = rewritten
			ops[method] = routeOp
		}
		if len(ops) == 0 {
			continue
		}

		mounted := path
		if pathCfg.Alias != "" {
			mounted = pathCfg.Alias
		}
		composedPath := prefix + mounted
		if _, exists := paths[composedPath]; exists {
			log.Error("Composed path already exists", slog.String("path", composedPath))
			return &PathAlreadyExistsError{Path: composedPath, ServiceID: service.ID}
		}

		route := domain.Route{
			ServiceID:    service.ID,
			Origin:       service.Origin,
			Prefix:       prefix,
			OriginalPath: path,
			Operations:   ops,
		}
		if pathCfg.Alias != "" {
			route.Alias = pathCfg.Alias
			renamePathParams(newItem, path, pathCfg.Alias)
		}
		if service.Proxied() && underPrefix(composedPath, service.MountPrefix()) {
			route.Hidden = true
			newItem[hiddenExtension] = true
		}
		paths[composedPath] = newItem
		routes[composedPath] = route
	}

	for _, kind := range sortedKeys(srcComponents) {
		entries := asMap(srcComponents[kind])
		if len(entries) == 0 {
			continue
		}
		if components[kind] == nil {
			components[kind] = make(map[string]interface{})
		}
		for _, name := range sortedKeys(entries) {
			value := rewriteRefs(entries[name], ns)
			if kind == "schemas" {
				if schema, ok := value.(map[string]interface{}); ok {
					if _, isRef := schema["$ref"]; !isRef {
						if _, hasTitle := schema["title"]; !hasTitle {
							schema["title"] = name
						}
					}
				}
			}
			components[kind][ns+name] = value
		}
	}

	log.Debug("Service composed", slog.String("namespace", ns), slog.String("prefix", prefix), slog.Int("operations", len(ids.taken)))
	return nil
}

// cloneDocument deep copies a document into a fresh JSON tree.
func cloneDocument(doc *openapi3.T) (map[string]interface{}, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return tree, nil
}

// rewriteRefs returns a copy of v in which every "#/components/<kind>/X" reference,
// including discriminator mappings, points at "#/components/<kind>/<ns>X".
func rewriteRefs(v interface{}, ns string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for key, child := range val {
			switch key {
			case "$ref":
				if ref, ok := child.(string); ok {
					out[key] = namespaceRef(ref, ns)
					continue
				}
			case "discriminator":
				if disc, ok := child.(map[string]interface{}); ok {
					out[key] = rewriteDiscriminator(disc, ns)
					continue
				}
			}
			out[key] = rewriteRefs(child, ns)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = rewriteRefs(child, ns)
		}
		return out
	default:
		return v
	}
}

func rewriteDiscriminator(disc map[string]interface{}, ns string) map[string]interface{} {
	out := make(map[string]interface{}, len(disc))
	for key, val := range disc {
		out[key] = val
	}
	if mapping, ok := disc["mapping"].(map[string]interface{}); ok {
		newMapping := make(map[string]interface{}, len(mapping))
		for k, target := range mapping {
			if ref, ok := target.(string); ok {
				newMapping[k] = namespaceRef(ref, ns)
			} else {
				newMapping[k] = target
			}
		}
		out["mapping"] = newMapping
	}
	return out
}

func namespaceRef(ref, ns string) string {
	if !strings.HasPrefix(ref, componentsRefPrefix) {
		return ref
	}
	rest := strings.TrimPrefix(ref, componentsRefPrefix)
	kind, name, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		return ref
	}
	return componentsRefPrefix + kind + "/" + ns + name
}

func prefixSecurity(v interface{}, ns string) interface{} {
	reqs, ok := v.([]interface{})
	if !ok {
		return v
	}
	out := make([]interface{}, len(reqs))
	for i, req := range reqs {
		reqMap, ok := req.(map[string]interface{})
		if !ok {
			out[i] = req
			continue
		}
		prefixed := make(map[string]interface{}, len(reqMap))
		for scheme, scopes := range reqMap {
			prefixed[ns+scheme] = scopes
		}
		out[i] = prefixed
	}
	return out
}

// renameResponseSchema rewrites the advertised JSON schema of one response so that it
// describes the renamed payload. References met along the way are inlined.
func renameResponseSchema(op map[string]interface{}, status string, spec *domain.RenameSpec, comps map[string]interface{}) bool {
	responses := asMap(op["responses"])
	if responses == nil || responses[status] == nil {
		return false
	}
	response := asMap(resolveLocal(responses[status], comps))
	content := asMap(response["content"])
	media := asMap(content["application/json"])
	if media == nil || media["schema"] == nil {
		return false
	}
	media["schema"] = renameSchema(media["schema"], spec, comps)
	content["application/json"] = media
	response["content"] = content
	responses[status] = response
	op["responses"] = responses
	return true
}

func renameSchema(schema interface{}, spec *domain.RenameSpec, comps map[string]interface{}) interface{} {
	obj := asMap(resolveLocal(schema, comps))
	if obj == nil || spec == nil {
		return schema
	}
	if props := asMap(obj["properties"]); props != nil && len(spec.Properties) > 0 {
		renamed := make(map[string]interface{}, len(props))
		names := make(map[string]string)
		for name, prop := range props {
			propSpec, ok := spec.Properties[name]
			if !ok {
				renamed[name] = prop
				continue
			}
			newName := name
			if propSpec.Rename != "" {
				newName = propSpec.Rename
				names[name] = newName
			}
			renamed[newName] = renameSchema(prop, propSpec, comps)
		}
		obj["properties"] = renamed
		if required, ok := obj["required"].([]interface{}); ok {
			out := make([]interface{}, len(required))
			for i, r := range required {
				if s, ok := r.(string); ok && names[s] != "" {
					out[i] = names[s]
				} else {
					out[i] = r
				}
			}
			obj["required"] = out
		}
	}
	if spec.Items != nil && obj["items"] != nil {
		obj["items"] = renameSchema(obj["items"], spec.Items, comps)
	}
	return obj
}

// resolveLocal returns a deep copy of v, following one local components reference if v is one.
func resolveLocal(v interface{}, comps map[string]interface{}) interface{} {
	for i := 0; i < 32; i++ {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return v
		}
		ref, ok := obj["$ref"].(string)
		if !ok || !strings.HasPrefix(ref, componentsRefPrefix) {
			return deepCopy(obj)
		}
		kind, name, _ := strings.Cut(strings.TrimPrefix(ref, componentsRefPrefix), "/")
		target := asMap(comps[kind])[name]
		if target == nil {
			return deepCopy(obj)
		}
		v = target
	}
	return deepCopy(v)
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

// renamePathParams renames the inline path parameters of an aliased item so that they
// match the alias template, pairing parameters by position.
func renamePathParams(item map[string]interface{}, originalPath, alias string) {
	from := templateParam.FindAllString(originalPath, -1)
	to := templateParam.FindAllString(alias, -1)
	if len(from) != len(to) {
		return
	}
	names := make(map[string]string, len(from))
	for i := range from {
		names[strings.Trim(from[i], "{}")] = strings.Trim(to[i], "{}")
	}
	rename := func(v interface{}) {
		for _, p := range asSlice(v) {
			param := asMap(p)
			if in, _ := param["in"].(string); in != "path" {
				continue
			}
			if name, ok := param["name"].(string); ok && names[name] != "" {
				param["name"] = names[name]
			}
		}
	}
	rename(item["parameters"])
	for key, op := range item {
		if isHTTPMethod(key) {
			rename(asMap(op)["parameters"])
		}
	}
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func pathParamNames(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var names []string
	for _, p := range list {
		param := asMap(p)
		if in, _ := param["in"].(string); in != "path" {
			continue
		}
		if name, ok := param["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// PublishedDocument returns the composed document without hidden paths.
// The composed document itself is left untouched.
func PublishedDocument(composed *domain.ComposedDocument) *openapi3.T {
	if composed == nil || composed.Doc == nil {
		return emptyDocument(MergeOptions{Title: DefaultTitle, Version: DefaultVersion})
	}
	published := *composed.Doc
	published.Paths = openapi3.NewPaths()
	for path, item := range composed.Doc.Paths.Map() {
		if route, ok := composed.Routes[path]; ok && route.Hidden {
			continue
		}
		published.Paths.Set(path, item)
	}
	return &published
}

// EmptyDocument returns the document published when composition could not run.
func (m *Merger) EmptyDocument() *openapi3.T {
	return emptyDocument(m.opts)
}

func emptyDocument(opts MergeOptions) *openapi3.T {
	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info:    &openapi3.Info{Title: opts.Title, Version: opts.Version, Description: opts.Description},
		Paths:   openapi3.NewPaths(),
	}
}
