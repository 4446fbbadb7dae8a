package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i2y/apicomposer/internal/domain"
)

func TestServiceDescriptor_IsFetchable(t *testing.T) {
	tests := []struct {
		name string
		in   domain.ServiceDescriptor
		want bool
	}{
		{name: "no facets", in: domain.ServiceDescriptor{}, want: false},
		{name: "openapi file only", in: domain.ServiceDescriptor{OpenAPI: &domain.OpenAPIFacet{File: "/x"}}, want: false},
		{name: "openapi url", in: domain.ServiceDescriptor{OpenAPI: &domain.OpenAPIFacet{URL: "/x"}}, want: true},
		{name: "graphql only", in: domain.ServiceDescriptor{GraphQL: &domain.GraphQLFacet{}}, want: true},
		{
			name: "openapi url and graphql",
			in:   domain.ServiceDescriptor{OpenAPI: &domain.OpenAPIFacet{URL: "/x"}, GraphQL: &domain.GraphQLFacet{}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.IsFetchable())
		})
	}
}

func TestNamespacePrefix(t *testing.T) {
	tests := map[string]string{
		"-api-3_":       "api_3_",
		"api1":          "api1_",
		"my service.v2": "my_service_v2_",
		"a--b__c":       "a_b_c_",
	}
	for in, want := range tests {
		assert.Equal(t, want, domain.NamespacePrefix(in), in)
	}
}

func TestServiceDescriptor_Proxied(t *testing.T) {
	assert := assert.New(t)

	implicit := domain.ServiceDescriptor{ID: "legacy"}
	assert.True(implicit.Proxied())
	assert.Equal("/legacy", implicit.MountPrefix())

	disabled := domain.ServiceDescriptor{ID: "legacy", ProxyDisabled: true}
	assert.False(disabled.Proxied())

	openapiOnly := domain.ServiceDescriptor{ID: "api", OpenAPI: &domain.OpenAPIFacet{URL: "/documentation/json"}}
	assert.False(openapiOnly.Proxied())

	explicit := domain.ServiceDescriptor{ID: "api", OpenAPI: &domain.OpenAPIFacet{URL: "/doc"}, Proxy: &domain.ProxyFacet{Prefix: "backend/"}}
	assert.True(explicit.Proxied())
	assert.Equal("/backend", explicit.MountPrefix())
}

func TestApplyRename(t *testing.T) {
	spec := &domain.RenameSpec{
		Properties: map[string]*domain.RenameSpec{
			"title": {Rename: "name"},
			"tags": {Items: &domain.RenameSpec{
				Properties: map[string]*domain.RenameSpec{"id": {Rename: "key"}},
			}},
		},
	}
	in := map[string]interface{}{
		"title": "Dune",
		"year":  1965.0,
		"tags":  []interface{}{map[string]interface{}{"id": "scifi"}},
	}

	out := domain.ApplyRename(in, spec)

	assert.Equal(t, map[string]interface{}{
		"name": "Dune",
		"year": 1965.0,
		"tags": []interface{}{map[string]interface{}{"key": "scifi"}},
	}, out)
	assert.Contains(t, in, "title", "input must stay untouched")

	list := domain.ApplyRename([]interface{}{map[string]interface{}{"title": "a"}}, &domain.RenameSpec{Items: spec})
	assert.Equal(t, []interface{}{map[string]interface{}{"name": "a"}}, list)
}

func TestSupergraph_Placeholder(t *testing.T) {
	p := domain.PlaceholderSupergraph()
	assert.True(t, p.IsPlaceholder())
	assert.Equal(t, "Query { _info: String }", p.SDL)
	assert.True(t, p.Equal(domain.Supergraph{SDL: domain.PlaceholderSDL}))
}
