package openapi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/apicomposer/internal/adapter/outbound/openapi"
	"github.com/i2y/apicomposer/internal/domain"
)

func TestRenameResponseBody(t *testing.T) {
	spec := &domain.RenameSpec{
		Items: &domain.RenameSpec{
			Properties: map[string]*domain.RenameSpec{
				"title": {Rename: "name"},
				"tags": {Items: &domain.RenameSpec{Properties: map[string]*domain.RenameSpec{
					"id": {Rename: "key"},
				}}},
			},
		},
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
		renamed     bool
	}{
		{
			name:        "array of objects",
			contentType: "application/json; charset=utf-8",
			body:        `[{"title":"Dune","tags":[{"id":1}],"year":1965}]`,
			want:        `[{"name":"Dune","tags":[{"key":1}],"year":1965}]`,
			renamed:     true,
		},
		{
			name:        "vendor json",
			contentType: "application/problem+json",
			body:        `[{"title":"x"}]`,
			want:        `[{"name":"x"}]`,
			renamed:     true,
		},
		{
			name:        "not json",
			contentType: "text/plain",
			body:        `title`,
			want:        `title`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok, err := openapi.RenameResponseBody(tt.contentType, []byte(tt.body), spec)
			require.NoError(t, err)
			assert.Equal(t, tt.renamed, ok)
			if tt.renamed {
				assert.JSONEq(t, tt.want, string(out))
			} else {
				assert.Equal(t, tt.want, string(out))
			}
		})
	}
}

func TestRenameResponseBody_InvalidJSON(t *testing.T) {
	spec := &domain.RenameSpec{Properties: map[string]*domain.RenameSpec{"a": {Rename: "b"}}}
	out, ok, err := openapi.RenameResponseBody("application/json", []byte(`{"a":`), spec)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, `{"a":`, string(out))
}
