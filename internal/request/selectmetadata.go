package request

import (
	"encoding/json"

	"github.com/jmespath/go-jmespath"

	"github.com/tiled-data/tiled/internal/apperr"
)

// SelectMetadata applies a JMESPath expression to a node's metadata JSON,
// `select_metadata` query parameter. An empty expression
// returns metadata unchanged.
func SelectMetadata(metadata json.RawMessage, expr string) (json.RawMessage, error) {
	if expr == "" {
		return metadata, nil
	}
	var data any
	if err := json.Unmarshal(metadata, &data); err != nil {
		return nil, apperr.Internal(err)
	}
	result, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, apperr.BadRequest("invalid select_metadata expression: %v", err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}
