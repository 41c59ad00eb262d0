package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// nodeText returns the source text covered by n.
func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}

// call is a parsed Python call expression.
type call struct {
	// Name is the called identifier, or the attribute name for a.b(...).
	Name string
	// Object is the receiver text for attribute calls.
	Object     string
	Positional []*sitter.Node
	Keywords   map[string]*sitter.Node
	Node       *sitter.Node
}

// parseCall returns nil if n is not a call.
func parseCall(n *sitter.Node, src []byte) *call {
	if n == nil || n.Type() != "call" {
		return nil
	}
	c := &call{Keywords: make(map[string]*sitter.Node), Node: n}

	fn := n.ChildByFieldName("function")
	switch {
	case fn == nil:
	case fn.Type() == "attribute":
		c.Name = nodeText(fn.ChildByFieldName("attribute"), src)
		c.Object = nodeText(fn.ChildByFieldName("object"), src)
	default:
		c.Name = nodeText(fn, src)
	}

	args := n.ChildByFieldName("arguments")
	if args == nil || args.Type() != "argument_list" {
		return c
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		a := args.NamedChild(i)
		switch a.Type() {
		case "keyword_argument":
			name := nodeText(a.ChildByFieldName("name"), src)
			c.Keywords[name] = a.ChildByFieldName("value")
		case "comment", "list_splat", "dictionary_splat":
		default:
			c.Positional = append(c.Positional, a)
		}
	}
	return c
}

// findCalls returns every call at or below n whose name is in names,
// outermost first.
func findCalls(n *sitter.Node, src []byte, names map[string]bool) []*call {
	var out []*call
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if c := parseCall(n, src); c != nil && names[c.Name] {
			out = append(out, c)
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(n)
	return out
}

// stringValue returns the contents of a string literal.
func stringValue(n *sitter.Node, src []byte) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case "string":
		return unquote(nodeText(n, src)), true
	case "concatenated_string":
		var b strings.Builder
		for i := 0; i < int(n.NamedChildCount()); i++ {
			s, ok := stringValue(n.NamedChild(i), src)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	default:
		return "", false
	}
}

// unquote strips a Python string prefix and quotes. Escapes are kept as
// written.
func unquote(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// literalValue renders a literal default value for a constraint string.
func literalValue(n *sitter.Node, src []byte) string {
	if s, ok := stringValue(n, src); ok {
		return s
	}
	return nodeText(n, src)
}

// stringList returns the string elements of a list or tuple literal.
func stringList(n *sitter.Node, src []byte) []string {
	if n == nil || (n.Type() != "list" && n.Type() != "tuple" && n.Type() != "set") {
		return nil
	}
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if s, ok := stringValue(n.NamedChild(i), src); ok {
			out = append(out, s)
		}
	}
	return out
}

func truthy(n *sitter.Node, src []byte) bool {
	return nodeText(n, src) == "True"
}

// decorators returns the decorator expressions of a decorated_definition.
func decorators(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "decorator" && child.NamedChildCount() > 0 {
			out = append(out, child.NamedChild(0))
		}
	}
	return out
}

// decoratorName returns the trailing identifier of a decorator expression:
// "computed_field" for @computed_field, "get" for @app.get("/x").
func decoratorName(expr *sitter.Node, src []byte) string {
	switch expr.Type() {
	case "call":
		return decoratorName(expr.ChildByFieldName("function"), src)
	case "attribute":
		return nodeText(expr.ChildByFieldName("attribute"), src)
	default:
		return nodeText(expr, src)
	}
}

// assignmentOf returns the assignment inside an expression_statement.
func assignmentOf(n *sitter.Node) *sitter.Node {
	if n == nil || n.Type() != "expression_statement" || n.NamedChildCount() == 0 {
		return nil
	}
	a := n.NamedChild(0)
	if a.Type() != "assignment" {
		return nil
	}
	return a
}

// lastSegment returns the part after the final dot: "sa.Column" -> "Column".
func lastSegment(s string) string {
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}
