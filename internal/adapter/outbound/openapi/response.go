package openapi

import (
	"encoding/json"
	"fmt"
	"mime"

	"github.com/i2y/apicomposer/internal/domain"
)

// RenameResponseBody applies the rename rules of an operation to a JSON payload.
// Payloads that are not JSON are returned unchanged together with ok=false.
func RenameResponseBody(contentType string, body []byte, spec *domain.RenameSpec) (out []byte, ok bool, err error) {
	if spec.Empty() || !isJSONMediaType(contentType) || len(body) == 0 {
		return body, false, nil
	}
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, false, fmt.Errorf("failed to decode response payload: %w", err)
	}
	renamed, err := json.Marshal(domain.ApplyRename(payload, spec))
	if err != nil {
		return body, false, fmt.Errorf("failed to encode renamed payload: %w", err)
	}
	return renamed, true, nil
}

func isJSONMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || (len(mediaType) > 5 && mediaType[len(mediaType)-5:] == "+json")
}
