package extract

import (
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ShayCichocki/specfit/internal/normalize"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// constraintCalls are the calls whose arguments carry field constraints.
var constraintCalls = map[string]bool{
	"Field": true, "Column": true, "mapped_column": true,
	"Query": true, "Path": true, "Body": true,
	"constr": true, "conint": true, "confloat": true, "condecimal": true,
	"conlist": true, "conset": true,
	"ForeignKey": true, "String": true, "Unicode": true, "VARCHAR": true,
	"relationship": true,
}

// defaultingCalls accept the field default as their first positional
// argument.
var defaultingCalls = map[string]bool{
	"Field": true, "Query": true, "Path": true, "Body": true,
}

var boundKeywords = []string{
	"gt", "ge", "lt", "le",
	"min_length", "max_length", "min_items", "max_items",
	"pattern", "regex",
}

var typeMarkers = map[string]string{
	"EmailStr":         "email_format",
	"UUID":             "uuid_format",
	"UUID1":            "uuid_format",
	"UUID4":            "uuid_format",
	"HttpUrl":          "url_format",
	"AnyUrl":           "url_format",
	"AnyHttpUrl":       "url_format",
	"PositiveInt":      "gt=0",
	"PositiveFloat":    "gt=0",
	"NonNegativeInt":   "ge=0",
	"NonNegativeFloat": "ge=0",
}

var validatorDecorators = map[string]bool{
	"field_validator": true,
	"validator":       true,
	"validates":       true,
}

var computedDecorators = map[string]bool{
	"computed_field":  true,
	"hybrid_property": true,
}

var skippedAttributes = map[string]bool{
	"model_config":    true,
	"__tablename__":   true,
	"__table_args__":  true,
	"__mapper_args__": true,
	"Config":          true,
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.]*`)

// fieldFacts accumulates what one declaration site says about a field.
type fieldFacts struct {
	entity      string
	field       models.Field
	source      string
	constraints []models.Constraint
	optional    bool
	defaulted   bool
	mapped      bool
}

func (ff *fieldFacts) add(rule, mechanism string) {
	rule = normalize.Normalize(rule)
	if rule == "" {
		return
	}
	ff.field.Constraints = append(ff.field.Constraints, rule)
	ff.constraints = append(ff.constraints, models.Constraint{
		Entity:    ff.entity,
		Field:     ff.field.Name,
		Rule:      rule,
		Mechanism: mechanism,
		Source:    ff.source,
	})
}

// extractEntity records cls and its fields on entities and returns the
// constraints the class declares.
func (f *pyFile) extractEntity(cls *pyClass, entities *entitySet, enums map[string][]string) []models.Constraint {
	ent := entities.add(cls.name)
	body := cls.node.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	frozen := f.frozenConfig(body)
	var out []models.Constraint
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		var ff *fieldFacts
		switch stmt.Type() {
		case "expression_statement":
			ff = f.assignedField(ent.Name, stmt, enums)
		case "decorated_definition":
			ff = f.decoratedMember(ent.Name, stmt)
		}
		if ff == nil {
			continue
		}
		if frozen {
			ff.add("read-only", "ConfigDict(frozen=True)")
		}
		addField(ent, ff.field)
		out = append(out, ff.constraints...)
	}
	return out
}

// frozenConfig reports whether the class body sets
// model_config = ConfigDict(frozen=True).
func (f *pyFile) frozenConfig(body *sitter.Node) bool {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		a := assignmentOf(body.NamedChild(i))
		if a == nil || nodeText(a.ChildByFieldName("left"), f.src) != "model_config" {
			continue
		}
		c := parseCall(a.ChildByFieldName("right"), f.src)
		if c != nil && truthy(c.Keywords["frozen"], f.src) {
			return true
		}
	}
	return false
}

func (f *pyFile) assignedField(entity string, stmt *sitter.Node, enums map[string][]string) *fieldFacts {
	a := assignmentOf(stmt)
	if a == nil {
		return nil
	}
	left := a.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return nil
	}
	name := nodeText(left, f.src)
	if strings.HasPrefix(name, "_") || skippedAttributes[name] {
		return nil
	}

	typ := a.ChildByFieldName("type")
	right := a.ChildByFieldName("right")
	if typ == nil {
		c := parseCall(right, f.src)
		if c == nil || !constraintCalls[c.Name] || c.Name == "ForeignKey" {
			return nil
		}
	}

	ff := &fieldFacts{
		entity: entity,
		field:  models.Field{Name: name},
		source: fmt.Sprintf("%s:%d", f.rel, line(stmt)),
	}
	if typ != nil {
		f.applyType(ff, nodeText(typ, f.src), enums)
		for _, c := range findCalls(typ, f.src, constraintCalls) {
			f.applyCall(ff, c)
		}
	}
	if right != nil {
		if c := parseCall(right, f.src); c != nil && constraintCalls[c.Name] {
			for _, inner := range findCalls(right, f.src, constraintCalls) {
				f.applyCall(ff, inner)
			}
		} else {
			f.applyDefault(ff, right)
		}
	}

	if typ != nil && !ff.optional && !ff.defaulted {
		ff.field.Required = true
		if ff.mapped {
			ff.add("not_null", "Mapped["+ff.field.Type+"]")
		} else {
			ff.add("required", "annotation")
		}
	}
	return ff
}

// applyType derives constraints from an annotation.
func (f *pyFile) applyType(ff *fieldFacts, typ string, enums map[string][]string) {
	typ = strings.TrimSpace(typ)
	if inner, ok := unwrap(typ, "Mapped["); ok {
		typ = inner
		ff.mapped = true
	}
	ff.field.Type = typ
	if isOptionalType(typ) {
		ff.optional = true
	}

	if values := literalMembers(typ); len(values) > 0 {
		ff.add("enum="+strings.Join(values, ","), "Literal")
	}
	for _, tok := range identRe.FindAllString(typ, -1) {
		name := lastSegment(tok)
		if rule, ok := typeMarkers[name]; ok {
			ff.add(rule, name)
		}
		if values, ok := enums[name]; ok && len(values) > 0 {
			ff.add("enum="+strings.Join(values, ","), name)
		}
	}
}

// applyCall derives constraints from one constraint call.
func (f *pyFile) applyCall(ff *fieldFacts, c *call) {
	switch c.Name {
	case "relationship":
		ff.defaulted = true
		return
	case "ForeignKey":
		if len(c.Positional) > 0 {
			target := literalValue(c.Positional[0], f.src)
			ff.add("foreign_key="+target, "ForeignKey("+target+")")
		}
		return
	case "String", "Unicode", "VARCHAR":
		if len(c.Positional) > 0 && c.Positional[0].Type() == "integer" {
			n := nodeText(c.Positional[0], f.src)
			ff.add("max_length="+n, c.Name+"("+n+")")
		}
		return
	}

	mech := func(kw string, v *sitter.Node) string {
		return fmt.Sprintf("%s(%s=%s)", c.Name, kw, nodeText(v, f.src))
	}

	for _, kw := range boundKeywords {
		if v, ok := c.Keywords[kw]; ok {
			ff.add(kw+"="+literalValue(v, f.src), mech(kw, v))
		}
	}
	if v, ok := c.Keywords["unique"]; ok && truthy(v, f.src) {
		ff.add("unique", mech("unique", v))
	}
	if v, ok := c.Keywords["nullable"]; ok {
		if truthy(v, f.src) {
			ff.optional = true
		} else {
			ff.add("not_null", mech("nullable", v))
		}
	}
	if v, ok := c.Keywords["primary_key"]; ok && truthy(v, f.src) {
		ff.defaulted = true
		m := mech("primary_key", v)
		ff.add("primary_key", m)
		ff.add("auto-generated", m)
		ff.add("read-only", m)
	}
	for _, kw := range []string{"server_default", "onupdate", "default_factory"} {
		if v, ok := c.Keywords[kw]; ok {
			ff.defaulted = true
			ff.add("auto-generated", mech(kw, v))
			if kw == "server_default" {
				ff.add("read-only", mech(kw, v))
			}
		}
	}
	if v, ok := c.Keywords["frozen"]; ok && truthy(v, f.src) {
		ff.add("read-only", mech("frozen", v))
	}
	if _, ok := c.Keywords["description"]; ok {
		ff.add("description", "")
	}
	if v, ok := c.Keywords["default"]; ok {
		f.applyDefault(ff, v)
	}
	if defaultingCalls[c.Name] && len(c.Positional) > 0 {
		f.applyDefault(ff, c.Positional[0])
	}
}

// applyDefault records a default value. Ellipsis marks a required field.
func (f *pyFile) applyDefault(ff *fieldFacts, v *sitter.Node) {
	switch v.Type() {
	case "ellipsis":
		ff.field.Required = true
		ff.add("required", "Field(...)")
	case "none":
		ff.defaulted = true
		ff.optional = true
	case "call", "identifier", "attribute", "lambda":
		ff.defaulted = true
	default:
		ff.defaulted = true
		ff.add("default="+literalValue(v, f.src), "default")
	}
}

// decoratedMember handles validator hooks and computed properties.
func (f *pyFile) decoratedMember(entity string, stmt *sitter.Node) *fieldFacts {
	def := stmt.ChildByFieldName("definition")
	if def == nil || def.Type() != "function_definition" {
		return nil
	}
	fn := nodeText(def.ChildByFieldName("name"), f.src)

	for _, d := range decorators(stmt) {
		name := decoratorName(d, f.src)
		switch {
		case computedDecorators[name]:
			ff := &fieldFacts{
				entity: entity,
				field:  models.Field{Name: fn, Type: nodeText(def.ChildByFieldName("return_type"), f.src)},
				source: fmt.Sprintf("%s:%d", f.rel, line(stmt)),
			}
			ff.add("auto-calculated", "@"+name)
			ff.add("read-only", "@"+name)
			return ff
		case validatorDecorators[name]:
			c := parseCall(d, f.src)
			if c == nil {
				continue
			}
			var targets []string
			for _, p := range c.Positional {
				if s, ok := stringValue(p, f.src); ok && s != "*" {
					targets = append(targets, s)
				}
			}
			if len(targets) == 0 {
				continue
			}
			// One declaration per field; the first carries the field entry.
			ff := &fieldFacts{entity: entity, field: models.Field{Name: targets[0]}, source: fmt.Sprintf("%s:%d", f.rel, line(stmt))}
			ff.add("validator:"+fn, "@"+name)
			for _, t := range targets[1:] {
				ff.constraints = append(ff.constraints, models.Constraint{
					Entity: entity, Field: t, Rule: normalize.Normalize("validator:" + fn),
					Mechanism: "@" + name, Source: ff.source,
				})
			}
			return ff
		}
	}
	return nil
}

func unwrap(typ, prefix string) (string, bool) {
	if strings.HasPrefix(typ, prefix) && strings.HasSuffix(typ, "]") {
		return strings.TrimSpace(typ[len(prefix) : len(typ)-1]), true
	}
	return typ, false
}

func isOptionalType(typ string) bool {
	compact := strings.ReplaceAll(typ, " ", "")
	switch {
	case strings.HasPrefix(compact, "Optional["):
		return true
	case strings.Contains(compact, "|None"), strings.HasPrefix(compact, "None|"):
		return true
	case strings.HasPrefix(compact, "Union[") && strings.Contains(compact, "None"):
		return true
	}
	return false
}

// literalMembers returns the values of a Literal[...] annotation.
func literalMembers(typ string) []string {
	i := strings.Index(typ, "Literal[")
	if i < 0 {
		return nil
	}
	rest := typ[i+len("Literal["):]
	end := strings.Index(rest, "]")
	if end < 0 {
		return nil
	}
	var out []string
	for _, part := range strings.Split(rest[:end], ",") {
		if v := unquote(strings.TrimSpace(part)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
