package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/specfit/pkg/models"
)

func TestBaseEntityName(t *testing.T) {
	tbl := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"Product", "Product"},
		{"ProductCreate", "Product"},
		{"ProductInDB", "Product"},
		{"Order-Input", "Order"},
		{"UserCreateResponse", "User"},
		{"Response", "Response"},
		{"Login", "Login"},
		{"CheckIn", "CheckIn"},
		{"CheckOut", "CheckOut"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tbl.BaseEntityName(tt.in), "input %q", tt.in)
	}
}

func TestSameEntity(t *testing.T) {
	tbl := Default()
	assert.True(t, tbl.SameEntity("Product", "productUpdate"))
	assert.True(t, tbl.SameEntity("Order", "OrderResponse"))
	assert.False(t, tbl.SameEntity("Order", "Product"))
	assert.False(t, tbl.SameEntity("CheckIn", "Check"))
	assert.False(t, tbl.SameEntity("CheckIn", "CheckOut"))
	assert.False(t, tbl.SameEntity("SignIn", "Sign"))

	tbl.EntitySuffixes = append(tbl.EntitySuffixes, "Out")
	assert.True(t, tbl.SameEntity("ProductOut", "Product"), "suffixes are data")
}

func TestSatisfies(t *testing.T) {
	tbl := Default()
	assert.True(t, tbl.Satisfies("gt=0", "gt=0"))
	assert.True(t, tbl.Satisfies("gt=0", "ge=1"))
	assert.True(t, tbl.Satisfies("read-only", "auto-generated"))
	assert.True(t, tbl.Satisfies("foreign_key_product", "foreign_key_products"))
	assert.True(t, tbl.Satisfies("default_pending", "default_draft"))
	assert.True(t, tbl.Satisfies("enum", "enum=draft,paid"))
	assert.True(t, tbl.Satisfies("foreign_key", "foreign_key_user"))
	assert.False(t, tbl.Satisfies("gt=0", "ge=0"))
	assert.False(t, tbl.Satisfies("enum=draft", "enum=paid"))
	assert.False(t, tbl.Satisfies("unique", "required"))
}

func TestIsRealEnforcement(t *testing.T) {
	tbl := Default()
	tests := []struct {
		name string
		c    models.Constraint
		want bool
	}{
		{"mechanism backed read-only", models.Constraint{Entity: "Product", Field: "id", Rule: "read-only", Mechanism: "Field(frozen=True)"}, true},
		{"known rule without mechanism", models.Constraint{Entity: "Order", Field: "total", Rule: "auto-calculated"}, true},
		{"bound prefix", models.Constraint{Entity: "Product", Field: "price", Rule: "gt=0"}, true},
		{"description label", models.Constraint{Entity: "Product", Field: "name", Rule: "description", Mechanism: "Field(description=...)"}, false},
		{"description with value", models.Constraint{Entity: "Product", Field: "name", Rule: "description=the name"}, false},
		{"unknown bare label", models.Constraint{Entity: "Product", Field: "sku", Rule: "important"}, false},
		{"hint from description prose", models.Constraint{Entity: "Cart", Field: "total", Rule: "auto-calculated", Mechanism: "schema:description"}, false},
		{"schema keyword", models.Constraint{Entity: "Cart", Field: "total", Rule: "read-only", Mechanism: "schema:readOnly"}, true},
		{"empty", models.Constraint{Entity: "Product", Field: "sku"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tbl.IsRealEnforcement(tt.c))
		})
	}
}

func TestEquivalentEndpoints(t *testing.T) {
	tbl := Default()
	ep := func(m, p string) models.Endpoint { return models.Endpoint{Method: models.HTTPMethod(m), Path: p} }

	assert.True(t, tbl.EquivalentEndpoints(ep("GET", "/products/{id}"), ep("get", "/products/{product_id}/")))
	assert.True(t, tbl.EquivalentEndpoints(ep("PUT", "/products/{id}"), ep("PATCH", "/products/{id}")))
	assert.False(t, tbl.EquivalentEndpoints(ep("GET", "/products"), ep("POST", "/products")))
	assert.False(t, tbl.EquivalentEndpoints(ep("GET", "/products"), ep("GET", "/orders")))

	// clear operation expressed as a delete
	assert.True(t, tbl.EquivalentEndpoints(ep("POST", "/carts/clear"), ep("DELETE", "/carts/{id}")))
	assert.True(t, tbl.EquivalentEndpoints(ep("DELETE", "/carts/{cart_id}"), ep("POST", "/carts/clear")))
	assert.False(t, tbl.EquivalentEndpoints(ep("POST", "/carts/clear"), ep("DELETE", "/orders/{id}")))

	tbl.EndpointEquivalences = []EndpointEquivalence{{Expected: "POST /orders/{id}/cancel", Found: "PATCH /orders/{id}"}}
	assert.True(t, tbl.EquivalentEndpoints(ep("POST", "/orders/{order_id}/cancel"), ep("PATCH", "/orders/{oid}")))

	tbl.MethodEquivalences = [][]string{}
	assert.False(t, tbl.EquivalentEndpoints(ep("PUT", "/products/{id}"), ep("PATCH", "/products/{id}")))
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
version: "custom-1"
weights:
  entities: 0.5
  endpoints: 0.3
  validations: 0.2
families:
  "> 0": ["ge=1", "min=1"]
endpoint_sample: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-1", tbl.Version)
	assert.Equal(t, 0.5, tbl.Weights.Entities)
	assert.Equal(t, 10, tbl.EndpointSample)
	assert.Equal(t, []string{"ge=1"}, tbl.Families["gt=0"])
	assert.NotEmpty(t, tbl.EntitySuffixes, "unspecified lists keep defaults")
}

func TestLoadRejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights: {entities: 0.9, endpoints: 0.9, validations: 0.2}\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "sum to 1")
}

func TestDefaultIsFreshCopy(t *testing.T) {
	a := Default()
	a.Families["gt=0"] = nil
	assert.NotNil(t, Default().Families["gt=0"])
}
