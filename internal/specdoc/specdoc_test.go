package specdoc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/specfit/pkg/models"
)

const sampleYAML = `
name: shop
entities:
  - name: Product
    fields:
      - {name: price, type: float, required: true, constraints: ["> 0"]}
      - {name: name, type: str, required: true}
  - name: Cart
endpoints:
  - {method: post, path: /carts/clear}
  - {method: GET, path: "/products/{id}"}
validations:
  - "Product.id: read only"
  - "Product.price: gt=0.0"
`

func TestParseExpected(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	exp := doc.Expected()
	require.Len(t, exp.Entities, 2)
	assert.Equal(t, "Product", exp.Entities[0].Name)
	assert.Equal(t, []string{"gt=0", "required"}, exp.Entities[0].Fields[0].Constraints)

	assert.Equal(t, []models.Endpoint{
		{Method: models.MethodPost, Path: "/carts/clear"},
		{Method: models.MethodGet, Path: "/products/{id}"},
	}, exp.Endpoints)

	var sigs []string
	for _, c := range exp.Constraints {
		sigs = append(sigs, c.String())
	}
	assert.Equal(t, []string{
		"Product.id: read-only",
		"Product.name: required",
		"Product.price: gt=0",
		"Product.price: required",
	}, sigs)
}

func TestParseJSON(t *testing.T) {
	doc, err := Parse([]byte(`{"entities":[{"name":"User"}],"endpoints":[{"method":"DELETE","path":"/users/{id}"}]}`))
	require.NoError(t, err)
	assert.Len(t, doc.Expected().Endpoints, 1)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad method", `endpoints: [{method: FETCH, path: /x}]`, "oneof"},
		{"relative path", `endpoints: [{method: GET, path: x}]`, "startswith"},
		{"missing entity name", `entities: [{fields: []}]`, "required"},
		{"bad validation", `validations: ["just words"]`, "Entity.field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParseValidation(t *testing.T) {
	c, err := ParseValidation("Order.total: >= 0")
	require.NoError(t, err)
	assert.Equal(t, models.Constraint{Entity: "Order", Field: "total", Rule: "ge=0", Source: "spec"}, c)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "shop", doc.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
