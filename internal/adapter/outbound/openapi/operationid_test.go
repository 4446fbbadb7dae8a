package openapi_test

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"

	"github.com/i2y/apicomposer/internal/adapter/outbound/openapi"
)

func TestOperationIDs_Generate_Disambiguates(t *testing.T) {
	var ids openapi.OperationIDs
	op := &openapi3.Operation{OperationID: "sampleOperationId"}

	got := []string{
		ids.Generate("sample-path", "get", op),
		ids.Generate("sample-path", "get", op),
		ids.Generate("sample-path", "get", op),
		ids.Generate("sample-path", "get", op),
	}

	assert.Equal(t, []string{
		"sampleOperationId",
		"getSampleOperationId",
		"getSampleOperationId1",
		"getSampleOperationId2",
	}, got)
	assert.Equal(t, got, ids.Taken())
}

func TestGenerateOperationID_FromPath(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		method     string
		pathParams []string
		want       string
	}{
		{name: "param without declaration", path: "/v3/accounts/{id}", method: "get", want: "getV3AccountsId"},
		{name: "declared param", path: "/users/{userId}/posts", method: "POST", pathParams: []string{"userId"}, want: "postUsersUserIdPosts"},
		{name: "dashes", path: "/sample-path", method: "delete", want: "deleteSamplePath"},
		{name: "root", path: "/", method: "get", want: "get"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, openapi.GenerateOperationID(tt.path, tt.method, "", tt.pathParams, nil))
		})
	}
}

func TestOperationIDs_Generate_UsesDeclaredPathParams(t *testing.T) {
	var ids openapi.OperationIDs
	op := &openapi3.Operation{
		Parameters: openapi3.Parameters{
			{Value: &openapi3.Parameter{Name: "bookId", In: openapi3.ParameterInPath}},
			{Value: &openapi3.Parameter{Name: "fields", In: openapi3.ParameterInQuery}},
		},
	}
	assert.Equal(t, "getBooksBookId", ids.Generate("/books/{bookId}", "get", op))
}
