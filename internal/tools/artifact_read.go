package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/crewd/internal/artifacts"
)

// ArtifactReadTool pages through archived tool output by artifact id.
type ArtifactReadTool struct {
	store *artifacts.Store
}

func NewArtifactReadTool(store *artifacts.Store) *ArtifactReadTool {
	return &ArtifactReadTool{store: store}
}

func (t *ArtifactReadTool) Name() string { return "artifact_read" }

func (t *ArtifactReadTool) Description() string {
	return "Read a slice of an archived artifact. Large tool results are stored as artifacts; their previews include the artifact id."
}

func (t *ArtifactReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"artifact_id": map[string]interface{}{
				"type":        "string",
				"description": "Identifier of the artifact to read.",
			},
			"start": map[string]interface{}{
				"type":        "integer",
				"description": "Byte offset to read from. Default 0.",
			},
			"length": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Number of bytes to read. Default %d.", artifacts.DefaultSliceLength),
			},
		},
		"required": []string{"artifact_id"},
	}
}

func (t *ArtifactReadTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	id, _ := args["artifact_id"].(string)
	if id == "" {
		return ErrorResult("artifact_id is required")
	}
	start := 0
	if s, ok := args["start"].(float64); ok && s >= 0 {
		start = int(s)
	}
	length := artifacts.DefaultSliceLength
	if l, ok := args["length"].(float64); ok && l > 0 {
		length = int(l)
	}

	slice, ok := t.store.Get(id, start, length)
	if !ok {
		return ErrorResult(fmt.Sprintf("no such artifact: %s", id))
	}
	size, _ := t.store.Size(id)
	if slice == "" {
		return NewResult(fmt.Sprintf("(empty slice; artifact is %d bytes)", size))
	}
	return NewResult(fmt.Sprintf("[artifact %s, bytes %d-%d of %d]\n%s", id, start, start+len(slice), size, slice))
}
