package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/ShayCichocki/specfit/pkg/models"
)

// maxSyntaxDiagnostics caps syntax diagnostics per file.
const maxSyntaxDiagnostics = 5

// modelBases are base classes that make a class an entity declaration.
var modelBases = map[string]bool{
	"BaseModel":       true,
	"SQLModel":        true,
	"Base":            true,
	"DeclarativeBase": true,
	"Model":           true,
	"Document":        true,
	"TypedDict":       true,
}

var enumBases = map[string]bool{
	"Enum":    true,
	"IntEnum": true,
	"StrEnum": true,
}

var routerCalls = map[string]string{
	"APIRouter": "prefix",
	"Blueprint": "url_prefix",
}

var routeMethods = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true,
	"delete": true, "head": true, "options": true,
}

// Static extracts facts by parsing Python source with tree-sitter.
type Static struct {
	cfg    Config
	logger *slog.Logger
}

// NewStatic creates a static extractor.
func NewStatic(cfg Config) *Static {
	cfg.applyDefaults()
	return &Static{cfg: cfg, logger: cfg.Logger.With("component", "extract", "strategy", "static")}
}

// Extract parses every included source file under src.Root.
func (s *Static) Extract(ctx context.Context, src Source) (*Result, error) {
	if src.Root == "" {
		return nil, errors.New("static extraction needs a source root")
	}
	files, err := sourceFiles(src.Root, s.cfg.Include, s.cfg.Exclude)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	var parsed []*pyFile
	defer func() {
		for _, f := range parsed {
			f.tree.Close()
		}
	}()

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := readSource(src.Root, rel)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, &ExtractionError{File: rel, Msg: err.Error()})
			continue
		}
		tree, err := parser.ParseCtx(ctx, nil, content)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Diagnostics = append(res.Diagnostics, &ExtractionError{File: rel, Msg: fmt.Sprintf("parse: %v", err)})
			continue
		}

		f := &pyFile{rel: rel, src: content, tree: tree, prefixes: make(map[string]string)}
		parsed = append(parsed, f)
		if tree.RootNode().HasError() {
			res.Diagnostics = append(res.Diagnostics, f.syntaxErrors()...)
		}
		f.scan()
	}

	idx := buildIndex(parsed)
	entities := newEntitySet(s.cfg.Tables)
	var constraints []models.Constraint
	var endpoints []models.Endpoint
	for _, f := range parsed {
		for _, cls := range f.classes {
			if !idx.models[cls.name] {
				continue
			}
			if cls.broken {
				res.Diagnostics = append(res.Diagnostics, &ExtractionError{
					File: f.rel, Line: line(cls.node),
					Msg: fmt.Sprintf("class %s skipped: syntax error", cls.name),
				})
				continue
			}
			constraints = append(constraints, f.extractEntity(cls, entities, idx.enums)...)
		}
		endpoints = append(endpoints, f.endpoints()...)
	}

	res.Entities = entities.list()
	res.Endpoints = dedupEndpoints(endpoints)
	res.Constraints = models.DedupConstraints(constraints)

	s.logger.Debug("extracted",
		"root", src.Root,
		"files", len(files),
		"entities", len(res.Entities),
		"endpoints", len(res.Endpoints),
		"constraints", len(res.Constraints),
		"diagnostics", len(res.Diagnostics),
	)
	return res, nil
}

// pyFile is one parsed source file.
type pyFile struct {
	rel      string
	src      []byte
	tree     *sitter.Tree
	classes  []*pyClass
	prefixes map[string]string
	routes   []*sitter.Node
}

type pyClass struct {
	name      string
	bases     []string
	node      *sitter.Node
	broken    bool
	dataclass bool
	enum      []string
	isEnum    bool
	hasColumn bool
}

// scan records module-level classes, router prefixes, and decorated
// functions.
func (f *pyFile) scan() {
	root := f.tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "class_definition":
			f.addClass(child, nil)
		case "decorated_definition":
			def := child.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			switch def.Type() {
			case "class_definition":
				f.addClass(def, decorators(child))
			case "function_definition":
				f.routes = append(f.routes, child)
			}
		case "expression_statement":
			f.scanRouter(child)
		}
	}
}

func (f *pyFile) scanRouter(stmt *sitter.Node) {
	a := assignmentOf(stmt)
	if a == nil {
		return
	}
	left := a.ChildByFieldName("left")
	c := parseCall(a.ChildByFieldName("right"), f.src)
	if left == nil || left.Type() != "identifier" || c == nil {
		return
	}
	kw, ok := routerCalls[c.Name]
	if !ok {
		return
	}
	prefix, _ := stringValue(c.Keywords[kw], f.src)
	f.prefixes[nodeText(left, f.src)] = prefix
}

func (f *pyFile) addClass(n *sitter.Node, decs []*sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	cls := &pyClass{name: nodeText(nameNode, f.src), node: n, broken: n.HasError()}

	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			arg := supers.NamedChild(i)
			if arg.Type() == "keyword_argument" {
				continue
			}
			base := lastSegment(nodeText(arg, f.src))
			cls.bases = append(cls.bases, base)
			if enumBases[base] {
				cls.isEnum = true
			}
		}
	}
	for _, d := range decs {
		if decoratorName(d, f.src) == "dataclass" {
			cls.dataclass = true
		}
	}

	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			a := assignmentOf(body.NamedChild(i))
			if a == nil {
				continue
			}
			right := a.ChildByFieldName("right")
			if cls.isEnum && right != nil && a.ChildByFieldName("type") == nil {
				cls.enum = append(cls.enum, literalValue(right, f.src))
			}
			if c := parseCall(right, f.src); c != nil && (c.Name == "Column" || c.Name == "mapped_column") {
				cls.hasColumn = true
			}
		}
	}
	f.classes = append(f.classes, cls)
}

func (f *pyFile) syntaxErrors() []*ExtractionError {
	var out []*ExtractionError
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if len(out) >= maxSyntaxDiagnostics {
			return
		}
		if n.IsError() || n.IsMissing() {
			snippet := strings.TrimSpace(nodeText(n, f.src))
			if len(snippet) > 40 {
				snippet = snippet[:40] + "..."
			}
			msg := "syntax error near " + fmt.Sprintf("%q", snippet)
			if n.IsMissing() {
				msg = "missing " + n.Type()
			}
			out = append(out, &ExtractionError{File: f.rel, Line: line(n), Msg: msg})
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(f.tree.RootNode())
	return out
}

// classIndex holds cross-file class facts.
type classIndex struct {
	models map[string]bool
	enums  map[string][]string
}

// buildIndex resolves which classes are entity declarations, following
// inheritance across files until no more classes qualify.
func buildIndex(files []*pyFile) classIndex {
	idx := classIndex{models: make(map[string]bool), enums: make(map[string][]string)}
	var all []*pyClass
	for _, f := range files {
		for _, c := range f.classes {
			all = append(all, c)
			if c.isEnum {
				idx.enums[c.name] = c.enum
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for _, c := range all {
			if idx.models[c.name] || c.isEnum {
				continue
			}
			if c.dataclass || c.hasColumn || anyBase(c.bases, idx.models) {
				idx.models[c.name] = true
				changed = true
			}
		}
	}
	return idx
}

func anyBase(bases []string, models map[string]bool) bool {
	for _, b := range bases {
		if modelBases[b] || models[b] {
			return true
		}
	}
	return false
}

// endpoints returns the routes declared by decorated functions.
func (f *pyFile) endpoints() []models.Endpoint {
	var out []models.Endpoint
	for _, n := range f.routes {
		for _, d := range decorators(n) {
			c := parseCall(d, f.src)
			if c == nil || c.Object == "" {
				continue
			}

			var methods []string
			switch {
			case routeMethods[c.Name]:
				methods = []string{c.Name}
			case c.Name == "api_route" || c.Name == "route":
				methods = stringList(c.Keywords["methods"], f.src)
				if len(methods) == 0 {
					methods = []string{"GET"}
				}
			default:
				continue
			}

			path, ok := routePath(c, f.src)
			if !ok {
				continue
			}
			full := joinPath(f.prefixes[c.Object], path)
			for _, m := range methods {
				if method, ok := models.ParseMethod(m); ok {
					out = append(out, models.Endpoint{Method: method, Path: full})
				}
			}
		}
	}
	return out
}

func routePath(c *call, src []byte) (string, bool) {
	if len(c.Positional) > 0 {
		return stringValue(c.Positional[0], src)
	}
	for _, kw := range []string{"path", "rule"} {
		if n, ok := c.Keywords[kw]; ok {
			return stringValue(n, src)
		}
	}
	return "", false
}

func joinPath(prefix, path string) string {
	p := strings.TrimSuffix(prefix, "/") + path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
