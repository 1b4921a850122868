package docs

import (
	"encoding/json"
	"testing"
)

func TestSwaggerDocumentCoversAllRoutes(t *testing.T) {
	var parsed struct {
		Swagger  string                     `json:"swagger"`
		BasePath string                     `json:"basePath"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal([]byte(SwaggerInfo.ReadDoc()), &parsed); err != nil {
		t.Fatalf("swagger document is not valid JSON: %v", err)
	}

	if parsed.Swagger != "2.0" {
		t.Fatalf("unexpected swagger version %q", parsed.Swagger)
	}
	if parsed.BasePath != "/api" {
		t.Fatalf("unexpected base path %q", parsed.BasePath)
	}

	want := []string{
		"/analyses/{id}",
		"/analyses/{id}/duplicates",
		"/analyze-image",
		"/categories",
		"/health",
		"/metrics/summary",
	}
	if len(parsed.Paths) != len(want) {
		t.Fatalf("expected %d documented paths, got %d", len(want), len(parsed.Paths))
	}
	for _, path := range want {
		if _, ok := parsed.Paths[path]; !ok {
			t.Fatalf("swagger document is missing path %s", path)
		}
	}
}
