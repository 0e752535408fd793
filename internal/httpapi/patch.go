package httpapi

import (
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// metadataExpiry is the Expires window set on metadata GET responses.
const metadataExpiry = 60 * time.Second

// applyMetadataPatch applies patch to current for the "Update metadata"
// operation: apply a JSON merge-patch or JSON patch (RFC 7396 / RFC 6902)
// or a full replace. format selects the mode ("merge", "patch", or "" for
// full replace).
func applyMetadataPatch(current, patch json.RawMessage, format string) (json.RawMessage, error) {
	switch format {
	case "merge", "":
		if format == "" {
			// No format specified and patch looks like a full document:
			// treat it as a full replace.
			return patch, nil
		}
		return jsonpatch.MergePatch(current, patch)
	case "patch":
		ops, err := jsonpatch.DecodePatch(patch)
		if err != nil {
			return nil, fmt.Errorf("decode json patch: %w", err)
		}
		return ops.Apply(current)
	default:
		return nil, fmt.Errorf("unknown patch_format %q", format)
	}
}
