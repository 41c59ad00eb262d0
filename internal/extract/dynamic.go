package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/specfit/internal/exec"
	"github.com/ShayCichocki/specfit/internal/normalize"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// maxSchemaBytes bounds the OpenAPI document size.
const maxSchemaBytes = 32 << 20

// frameworkSchemas are emitted by web frameworks for every service.
var frameworkSchemas = map[string]bool{
	"HTTPValidationError": true,
	"ValidationError":     true,
}

// Dynamic extracts facts from a running service's OpenAPI description.
type Dynamic struct {
	cfg    Config
	client *http.Client
	static *Static
	logger *slog.Logger
}

// NewDynamic creates a dynamic extractor.
func NewDynamic(cfg Config) *Dynamic {
	cfg.applyDefaults()
	return &Dynamic{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		static: NewStatic(cfg),
		logger: cfg.Logger.With("component", "extract", "strategy", "dynamic"),
	}
}

// Extract fetches and reads the service schema. When src.Root is set the
// source tree is also scanned for entity declarations.
func (d *Dynamic) Extract(ctx context.Context, src Source) (*Result, error) {
	base := src.BaseURL
	if d.cfg.ServiceCommand != "" {
		if src.Root == "" {
			return nil, errors.New("service command needs a source root")
		}
		svc, err := exec.StartService(ctx, src.Root, d.cfg.ServiceCommand)
		if err != nil {
			return nil, fmt.Errorf("start service: %w", err)
		}
		defer func() {
			if err := svc.Stop(); err != nil {
				d.logger.Warn("stop service", "error", err)
			}
		}()
		if d.cfg.ServiceURL != "" {
			base = d.cfg.ServiceURL
		}
		if base == "" {
			return nil, errors.New("service command needs a service URL")
		}

		readyCtx, cancel := context.WithTimeout(ctx, d.cfg.ReadyTimeout)
		err = exec.WaitReady(readyCtx, strings.TrimSuffix(base, "/")+d.cfg.OpenAPIPath, svc)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("service not ready: %w", err)
		}
	}
	if base == "" {
		return nil, errors.New("dynamic extraction needs a base URL")
	}

	doc, err := d.fetch(ctx, strings.TrimSuffix(base, "/")+d.cfg.OpenAPIPath)
	if err != nil {
		return nil, err
	}
	res, err := parseOpenAPI(doc, d.cfg)
	if err != nil {
		return nil, err
	}

	if src.Root != "" {
		d.mergeStatic(ctx, src.Root, res)
	}

	d.logger.Debug("extracted",
		"base_url", base,
		"entities", len(res.Entities),
		"endpoints", len(res.Endpoints),
		"constraints", len(res.Constraints),
		"diagnostics", len(res.Diagnostics),
	)
	return res, nil
}

func (d *Dynamic) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build schema request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schema: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch schema: %s returned %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaBytes))
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return body, nil
}

// mergeStatic adds entities declared in source that the schema leaves out.
func (d *Dynamic) mergeStatic(ctx context.Context, root string, res *Result) {
	scan, err := d.static.Extract(ctx, Source{Root: root})
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, &ExtractionError{Msg: fmt.Sprintf("source scan: %v", err)})
		return
	}
	res.Diagnostics = append(res.Diagnostics, scan.Diagnostics...)

	known := make(map[string]bool, len(res.Entities))
	for _, e := range res.Entities {
		known[strings.ToLower(e.Name)] = true
	}
	for _, e := range scan.Entities {
		if known[strings.ToLower(e.Name)] {
			continue
		}
		known[strings.ToLower(e.Name)] = true
		res.Entities = append(res.Entities, models.Entity{Name: e.Name, Aliases: e.Aliases})
	}
	sort.SliceStable(res.Entities, func(i, j int) bool { return res.Entities[i].Name < res.Entities[j].Name })
}

// parseOpenAPI reads entities, endpoints, and constraints from an OpenAPI
// 3 or Swagger 2 document.
func parseOpenAPI(doc []byte, cfg Config) (*Result, error) {
	if !gjson.ValidBytes(doc) {
		return nil, errors.New("schema is not valid JSON")
	}
	root := gjson.ParseBytes(doc)
	res := &Result{}

	schemas := root.Get("components.schemas")
	if !schemas.Exists() {
		schemas = root.Get("definitions")
	}
	if !schemas.IsObject() {
		res.Diagnostics = append(res.Diagnostics, &ExtractionError{Msg: "schema declares no component schemas"})
	}

	entities := newEntitySet(cfg.Tables)
	var constraints []models.Constraint
	schemas.ForEach(func(name, schema gjson.Result) bool {
		if frameworkSchemas[name.String()] || isEnumSchema(schema) {
			return true
		}
		if !schema.IsObject() {
			res.Diagnostics = append(res.Diagnostics, &ExtractionError{
				File: "schema", Msg: fmt.Sprintf("component %s is not an object", name.String()),
			})
			return true
		}
		ent := entities.add(name.String())
		for _, ff := range schemaFields(ent.Name, name.String(), schema, schemas) {
			addField(ent, ff.field)
			constraints = append(constraints, ff.constraints...)
		}
		return true
	})

	var endpoints []models.Endpoint
	root.Get("paths").ForEach(func(path, item gjson.Result) bool {
		item.ForEach(func(method, _ gjson.Result) bool {
			if m, ok := models.ParseMethod(method.String()); ok {
				endpoints = append(endpoints, models.Endpoint{Method: m, Path: path.String()})
			}
			return true
		})
		return true
	})

	res.Entities = entities.list()
	res.Endpoints = dedupEndpoints(endpoints)
	res.Constraints = models.DedupConstraints(constraints)
	return res, nil
}

func isEnumSchema(s gjson.Result) bool {
	return s.Get("enum").Exists() && !s.Get("properties").Exists()
}

// schemaFields derives the fields of one component schema, including
// properties declared inline in allOf parts.
func schemaFields(entity, component string, schema, all gjson.Result) []*fieldFacts {
	parts := []gjson.Result{schema}
	schema.Get("allOf").ForEach(func(_, part gjson.Result) bool {
		if part.Get("properties").Exists() {
			parts = append(parts, part)
		}
		return true
	})

	required := make(map[string]bool)
	for _, p := range parts {
		for _, r := range p.Get("required").Array() {
			required[r.String()] = true
		}
	}

	var out []*fieldFacts
	for _, p := range parts {
		p.Get("properties").ForEach(func(name, prop gjson.Result) bool {
			ff := &fieldFacts{
				entity: entity,
				field:  models.Field{Name: name.String()},
				source: "schema:" + component,
			}
			if required[name.String()] {
				ff.field.Required = true
				ff.add("required", "schema:required")
			}
			propertyConstraints(ff, prop, all)
			out = append(out, ff)
			return true
		})
	}
	return out
}

// propertyConstraints reads validation keywords from a property and from
// the non-null variants of anyOf/oneOf unions.
func propertyConstraints(ff *fieldFacts, prop, all gjson.Result) {
	variants := []gjson.Result{prop}
	for _, union := range []string{"anyOf", "oneOf", "allOf"} {
		prop.Get(union).ForEach(func(_, v gjson.Result) bool {
			if v.Get("type").String() != "null" {
				variants = append(variants, v)
			}
			return true
		})
	}

	var types []string
	for _, v := range variants {
		if t := v.Get("type").String(); t != "" {
			types = append(types, t)
		}
		if ref := v.Get("$ref").String(); ref != "" {
			target := refName(ref)
			types = append(types, target)
			if values := enumValues(all.Map()[target].Get("enum")); values != "" {
				ff.add("enum="+values, "schema:enum")
			} else {
				ff.add("foreign_key="+target, "schema:$ref")
			}
		}
		keywordConstraints(ff, v)
	}
	ff.field.Type = strings.Join(uniqueSorted(types), "|")

	if desc := prop.Get("description").String(); desc != "" {
		for _, rule := range hintRules(desc) {
			ff.add(rule, "schema:description")
		}
	}
}

func keywordConstraints(ff *fieldFacts, v gjson.Result) {
	bound := func(key, op string) {
		r := v.Get(key)
		if !r.Exists() || r.Type != gjson.Number {
			return
		}
		exclusive := v.Get("exclusive" + strings.ToUpper(key[:1]) + key[1:])
		if exclusive.Type == gjson.True {
			op = map[string]string{"ge": "gt", "le": "lt"}[op]
		}
		ff.add(op+"="+r.Raw, "schema:"+key)
	}
	bound("minimum", "ge")
	bound("maximum", "le")

	// OpenAPI 3.1 numeric exclusive bounds.
	if r := v.Get("exclusiveMinimum"); r.Type == gjson.Number {
		ff.add("gt="+r.Raw, "schema:exclusiveMinimum")
	}
	if r := v.Get("exclusiveMaximum"); r.Type == gjson.Number {
		ff.add("lt="+r.Raw, "schema:exclusiveMaximum")
	}

	for key, rule := range map[string]string{
		"minLength": "min_length",
		"maxLength": "max_length",
		"minItems":  "min_length",
		"maxItems":  "max_length",
	} {
		if r := v.Get(key); r.Type == gjson.Number {
			ff.add(rule+"="+r.Raw, "schema:"+key)
		}
	}
	if r := v.Get("pattern"); r.Exists() {
		ff.add("pattern="+r.String(), "schema:pattern")
	}
	if values := enumValues(v.Get("enum")); values != "" {
		ff.add("enum="+values, "schema:enum")
	}
	if r := v.Get("format"); r.Exists() {
		if rule := normalize.Normalize("format=" + r.String()); !strings.HasPrefix(rule, "format=") {
			ff.add(rule, "schema:format")
		}
	}
	if v.Get("readOnly").Type == gjson.True {
		ff.add("read-only", "schema:readOnly")
	}
	if r := v.Get("default"); r.Exists() && r.Type != gjson.Null {
		ff.add("default="+r.String(), "schema:default")
	}
}

func enumValues(r gjson.Result) string {
	if !r.IsArray() {
		return ""
	}
	var vals []string
	for _, e := range r.Array() {
		if e.Type != gjson.Null {
			vals = append(vals, e.String())
		}
	}
	return strings.Join(vals, ",")
}

// refName returns the component name of a local $ref.
func refName(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
