package openapi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// OperationIDs hands out operation ids that are unique within one set.
// The zero value is ready to use.
type OperationIDs struct {
	taken []string
}

// Generate returns a unique operation id for the operation and records it as taken.
//
// An operation carrying an operationId keeps it the first time; later collisions become
// method+Capitalized(id), then method+Capitalized(id)+1, +2, ...
// An operation without one gets method followed by the capitalized alphanumeric parts of
// its path, path parameters replaced by their capitalized names: GET /v3/accounts/{id}
// becomes getV3AccountsId.
func (o *OperationIDs) Generate(path, method string, op *openapi3.Operation) string {
	var (
		seed       string
		pathParams []string
	)
	if op != nil {
		seed = op.OperationID
		for _, p := range op.Parameters {
			if p != nil && p.Value != nil && p.Value.In == openapi3.ParameterInPath {
				pathParams = append(pathParams, p.Value.Name)
			}
		}
	}
	id := GenerateOperationID(path, method, seed, pathParams, o.taken)
	o.taken = append(o.taken, id)
	return id
}

// Taken returns the ids handed out so far, in order.
func (o *OperationIDs) Taken() []string {
	return append([]string(nil), o.taken...)
}

// GenerateOperationID is the pure form of OperationIDs.Generate: it computes the id
// for one operation given the ids already taken, without recording it.
func GenerateOperationID(path, method, seed string, pathParams, taken []string) string {
	method = strings.ToLower(method)
	if seed == "" {
		withParams := path
		for _, name := range pathParams {
			withParams = strings.ReplaceAll(withParams, "{"+name+"}", capitalize(name))
		}
		var b strings.Builder
		b.WriteString(method)
		for _, part := range nonAlnum.Split(withParams, -1) {
			b.WriteString(capitalize(part))
		}
		return b.String()
	}

	candidate := seed
	for count := 0; contains(taken, candidate); count++ {
		if count == 0 {
			candidate = method + capitalize(seed)
		} else {
			candidate = fmt.Sprintf("%s%s%d", method, capitalize(seed), count)
		}
	}
	return candidate
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
