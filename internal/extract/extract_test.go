package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/specfit/pkg/models"
)

const modelsPy = `from typing import Optional, Literal
from enum import Enum
from pydantic import BaseModel, Field, EmailStr, field_validator, computed_field
from sqlalchemy import Column, Integer, String
from sqlalchemy.orm import declarative_base

Base = declarative_base()


class Status(str, Enum):
    ACTIVE = "active"
    ARCHIVED = "archived"


class Product(Base):
    __tablename__ = "products"
    id = Column(Integer, primary_key=True)
    name = Column(String(100), nullable=False)
    sku = Column(String(32), unique=True)


class ProductCreate(BaseModel):
    name: str = Field(..., min_length=1)
    price: float = Field(gt=0)
    email: EmailStr
    status: Status = Status.ACTIVE
    note: Optional[str] = None

    @field_validator("price")
    @classmethod
    def check_price(cls, v):
        return v


class CartItem(BaseModel):
    product_id: int = Field(description="Product reference")
    kind: Literal["a", "b"]

    @computed_field
    @property
    def total(self) -> float:
        return 0.0
`

const routesPy = `from fastapi import APIRouter, FastAPI

app = FastAPI()
router = APIRouter(prefix="/carts")


@router.post("/clear")
def clear_cart():
    pass


@router.get("/{cart_id}")
async def get_cart(cart_id: int):
    pass


@app.api_route("/health", methods=["GET", "HEAD"])
def health():
    return {}


@app.get("/products/")
def list_products():
    return []
`

const cartsPy = `from pydantic import BaseModel


class CartInput(BaseModel):
    owner: str


class CartOutput(BaseModel):
    id: int
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func signatures(cs []models.Constraint) map[string]models.Constraint {
	out := make(map[string]models.Constraint, len(cs))
	for _, c := range cs {
		out[c.Signature()] = c
	}
	return out
}

func entityNames(es []models.Entity) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Name)
	}
	return out
}

func TestStaticExtract(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"app/models.py":        modelsPy,
		"app/routes.py":        routesPy,
		"app/carts.py":         cartsPy,
		"tests/test_models.py": "from pydantic import BaseModel\n\nclass Fixture(BaseModel):\n    x: int\n",
		".venv/lib/site.py":    "class Hidden(BaseModel):\n    x: int\n",
	})

	res, err := NewStatic(Config{}).Extract(context.Background(), Source{Root: dir})
	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)

	assert.Equal(t, []string{"Cart", "CartItem", "Product"}, entityNames(res.Entities))
	assert.ElementsMatch(t, []string{"CartInput", "CartOutput"}, res.Entities[0].Aliases)
	assert.ElementsMatch(t, []string{"Product", "ProductCreate"}, res.Entities[2].Aliases)

	sigs := signatures(res.Constraints)
	for sig, mech := range map[string]string{
		"product.id: primary_key":              "Column(primary_key=True)",
		"product.id: auto-generated":           "Column(primary_key=True)",
		"product.id: read-only":                "Column(primary_key=True)",
		"product.name: not_null":               "Column(nullable=False)",
		"product.name: max_length=100":         "String(100)",
		"product.name: min_length=1":           "Field(min_length=1)",
		"product.sku: unique":                  "Column(unique=True)",
		"product.price: gt=0":                  "Field(gt=0)",
		"product.price: validator:check_price": "@field_validator",
		"product.email: email_format":          "EmailStr",
		"product.status: enum=active,archived": "Status",
		"cartitem.kind: enum=a,b":              "Literal",
		"cartitem.total: auto-calculated":      "@computed_field",
		"cartitem.total: read-only":            "@computed_field",
	} {
		c, ok := sigs[sig]
		if assert.True(t, ok, "missing %s", sig) {
			assert.Equal(t, mech, c.Mechanism, sig)
		}
	}

	assert.Contains(t, sigs, "product.price: required")
	assert.Contains(t, sigs, "product.name: required")
	assert.NotContains(t, sigs, "product.note: required")
	assert.NotContains(t, sigs, "product.status: required")
	assert.Equal(t, "", sigs["cartitem.product_id: description"].Mechanism)

	product := res.Entities[2]
	price := product.Field("price")
	require.NotNil(t, price)
	assert.Equal(t, "float", price.Type)
	assert.True(t, price.Required)

	assert.Equal(t, []models.Endpoint{
		{Method: models.MethodPost, Path: "/carts/clear"},
		{Method: models.MethodGet, Path: "/carts/{cart_id}"},
		{Method: models.MethodGet, Path: "/health"},
		{Method: models.MethodHead, Path: "/health"},
		{Method: models.MethodGet, Path: "/products/"},
	}, res.Endpoints)
}

func TestStaticExtractSyntaxError(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"good.py":   cartsPy,
		"broken.py": "from pydantic import BaseModel, Field\n\nclass Broken(BaseModel):\n    name: str = Field(\n",
	})

	res, err := NewStatic(Config{}).Extract(context.Background(), Source{Root: dir})
	require.NoError(t, err)

	require.NotEmpty(t, res.Diagnostics)
	for _, d := range res.Diagnostics {
		assert.Equal(t, "broken.py", d.File)
	}
	assert.NotContains(t, entityNames(res.Entities), "Broken")
	assert.Contains(t, entityNames(res.Entities), "Cart")
}

func TestStaticExtractRequiresRoot(t *testing.T) {
	_, err := NewStatic(Config{}).Extract(context.Background(), Source{})
	assert.Error(t, err)

	_, err = NewStatic(Config{}).Extract(context.Background(), Source{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestStaticExtractCancelled(t *testing.T) {
	dir := writeTree(t, map[string]string{"a.py": cartsPy})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStatic(Config{}).Extract(ctx, Source{Root: dir})
	assert.ErrorIs(t, err, context.Canceled)
}

const openAPIDoc = `{
  "openapi": "3.1.0",
  "paths": {
    "/carts/clear": {"post": {}},
    "/carts/{cart_id}": {"parameters": [], "get": {}, "delete": {}}
  },
  "components": {
    "schemas": {
      "Cart-Input": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "integer", "readOnly": true},
          "total": {"type": "number", "description": "Auto-calculated from the items"}
        }
      },
      "Cart-Output": {
        "type": "object",
        "properties": {"owner": {"$ref": "#/components/schemas/User"}}
      },
      "Product": {
        "type": "object",
        "properties": {
          "price": {"type": "number", "exclusiveMinimum": 0},
          "weight": {"type": "number", "minimum": 0, "exclusiveMinimum": true},
          "name": {"anyOf": [{"type": "string", "minLength": 1}, {"type": "null"}]},
          "status": {"$ref": "#/components/schemas/Status"},
          "qty": {"type": "integer", "minimum": 1, "maximum": 10, "default": 1},
          "email": {"type": "string", "format": "email"}
        }
      },
      "Status": {"type": "string", "enum": ["active", "archived"]},
      "User": {"type": "object", "properties": {}},
      "HTTPValidationError": {"type": "object", "properties": {}}
    }
  }
}`

func schemaServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi.json" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDynamicExtract(t *testing.T) {
	srv := schemaServer(t, openAPIDoc, http.StatusOK)

	res, err := NewDynamic(Config{}).Extract(context.Background(), Source{BaseURL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, []string{"Cart", "Product", "User"}, entityNames(res.Entities))
	assert.ElementsMatch(t, []string{"Cart-Input", "Cart-Output"}, res.Entities[0].Aliases)

	assert.Equal(t, []models.Endpoint{
		{Method: models.MethodPost, Path: "/carts/clear"},
		{Method: models.MethodDelete, Path: "/carts/{cart_id}"},
		{Method: models.MethodGet, Path: "/carts/{cart_id}"},
	}, res.Endpoints)

	sigs := signatures(res.Constraints)
	for sig, mech := range map[string]string{
		"cart.id: required":                    "schema:required",
		"cart.id: read-only":                   "schema:readOnly",
		"cart.total: auto-calculated":          "schema:description",
		"cart.owner: foreign_key_user":         "schema:$ref",
		"product.price: gt=0":                  "schema:exclusiveMinimum",
		"product.weight: gt=0":                 "schema:minimum",
		"product.name: min_length=1":           "schema:minLength",
		"product.status: enum=active,archived": "schema:enum",
		"product.qty: ge=1":                    "schema:minimum",
		"product.qty: le=10":                   "schema:maximum",
		"product.qty: default_1":               "schema:default",
		"product.email: email_format":          "schema:format",
	} {
		c, ok := sigs[sig]
		if assert.True(t, ok, "missing %s", sig) {
			assert.Equal(t, mech, c.Mechanism, sig)
		}
	}
}

func TestDynamicMergesSourceEntities(t *testing.T) {
	srv := schemaServer(t, openAPIDoc, http.StatusOK)
	dir := writeTree(t, map[string]string{
		"orders.py": "from pydantic import BaseModel\n\nclass OrderCreate(BaseModel):\n    pass\n",
	})

	res, err := NewDynamic(Config{}).Extract(context.Background(), Source{Root: dir, BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cart", "Order", "Product", "User"}, entityNames(res.Entities))
}

func TestDynamicExtractErrors(t *testing.T) {
	t.Run("no base url", func(t *testing.T) {
		_, err := NewDynamic(Config{}).Extract(context.Background(), Source{})
		assert.Error(t, err)
	})
	t.Run("server error", func(t *testing.T) {
		srv := schemaServer(t, "boom", http.StatusInternalServerError)
		_, err := NewDynamic(Config{}).Extract(context.Background(), Source{BaseURL: srv.URL})
		assert.ErrorContains(t, err, "500")
	})
	t.Run("invalid json", func(t *testing.T) {
		srv := schemaServer(t, "{not json", http.StatusOK)
		_, err := NewDynamic(Config{}).Extract(context.Background(), Source{BaseURL: srv.URL})
		assert.ErrorContains(t, err, "not valid JSON")
	})
	t.Run("no components", func(t *testing.T) {
		srv := schemaServer(t, `{"paths": {"/a": {"get": {}}}}`, http.StatusOK)
		res, err := NewDynamic(Config{}).Extract(context.Background(), Source{BaseURL: srv.URL})
		require.NoError(t, err)
		assert.Len(t, res.Endpoints, 1)
		assert.Len(t, res.Diagnostics, 1)
	})
}

func TestHintRules(t *testing.T) {
	assert.Equal(t, []string{"snapshot"}, hintRules("Price snapshot at add time"))
	assert.Equal(t, []string{"auto-calculated", "read-only"}, hintRules("Read-only, auto-calculated total"))
	assert.Empty(t, hintRules("The product name"))
}

func TestNew(t *testing.T) {
	ex, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Static{}, ex)

	ex, err = New(Config{Strategy: StrategyDynamic})
	require.NoError(t, err)
	assert.IsType(t, &Dynamic{}, ex)

	_, err = New(Config{Strategy: "magic"})
	assert.Error(t, err)
}

func TestExtractionErrorFormat(t *testing.T) {
	assert.Equal(t, "a.py:3: bad", (&ExtractionError{File: "a.py", Line: 3, Msg: "bad"}).Error())
	assert.Equal(t, "a.py: bad", (&ExtractionError{File: "a.py", Msg: "bad"}).Error())
	assert.Equal(t, "bad", (&ExtractionError{Msg: "bad"}).Error())
}
