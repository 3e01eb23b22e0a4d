package spec

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

func TestOpenAPIDocumentIsValid(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(OpenAPI)
	if err != nil {
		t.Fatalf("load openapi: %v", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("validate openapi: %v", err)
	}
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	doc, err := openapi3.NewLoader().LoadFromData(OpenAPI)
	if err != nil {
		t.Fatalf("load openapi: %v", err)
	}
	want := map[string][]string{
		"/auth/login":                       {"POST"},
		"/auth/signup":                      {"POST"},
		"/auth/admin-token":                 {"POST"},
		"/auth/me":                          {"GET"},
		"/auth/users/{id}":                  {"DELETE"},
		"/api/track":                        {"POST"},
		"/api/track/{trackingNumber}":       {"GET", "PUT", "DELETE"},
		"/api/track/{trackingNumber}/owner": {"PATCH"},
		"/api/my-packages":                  {"GET"},
		"/graphql":                          {"POST"},
	}
	for path, methods := range want {
		item := doc.Paths.Find(path)
		if item == nil {
			t.Fatalf("path %s not documented", path)
		}
		for _, m := range methods {
			if item.GetOperation(m) == nil {
				t.Fatalf("%s %s not documented", m, path)
			}
		}
	}
}
