package graphqlhttp

import "fmt"

// Based on GraphQL over HTTP: https://graphql.github.io/graphql-over-http/draft/

// Request represents a GraphQL-over-HTTP request body.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// Response represents a GraphQL-over-HTTP response body.
type Response struct {
	Data       map[string]interface{} `json:"data,omitempty"`
	Errors     []Error                `json:"errors,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Error represents one entry of the "errors" list.
type Error struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Locations  []Location             `json:"locations,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Location points into the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error codes placed in Error.Extensions["code"].
const (
	CodeParseFailed        = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed   = "GRAPHQL_VALIDATION_FAILED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeSubgraphFailed     = "SUBGRAPH_REQUEST_FAILED"
	CodeUnsupportedFeature = "UNSUPPORTED_FEATURE"
)

// NewError builds an error entry carrying a code extension.
func NewError(code, message string) Error {
	return Error{Message: message, Extensions: map[string]interface{}{"code": code}}
}

// ErrorList carries request errors (parse or validation) found before execution.
type ErrorList []Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Message
	default:
		return fmt.Sprintf("%s (and %d more errors)", l[0].Message, len(l)-1)
	}
}
