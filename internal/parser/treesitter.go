package parser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"

	"github.com/cxrefd/cxrefd/internal/logging"
	"github.com/cxrefd/cxrefd/internal/types"
)

// cppQuery captures the declaration shapes cxrefd turns into cursor facts,
// grounded on the teacher's setupCpp query (internal/parser/parser_language_setup.go)
// but extended with destructors, which the symbol-name index and targetRank
// tie-break (spec.md §4.7) both need. Constructors have no pattern of their
// own (functionOrCtorKind reclassifies function/method captures), and
// enumerators are read from each captured enum's body by enumerators().
const cppQuery = `
(function_definition declarator: (function_declarator declarator: (identifier) @function.name)) @function
(function_definition declarator: (function_declarator declarator: (field_identifier) @method.name)) @method
(function_definition declarator: (function_declarator declarator: (destructor_name) @destructor.name)) @destructor
(declaration declarator: (function_declarator declarator: (identifier) @function.decl.name)) @function.decl
(class_specifier name: (type_identifier) @class.name) @class
(struct_specifier name: (type_identifier) @struct.name) @struct
(enum_specifier name: (type_identifier) @enum.name) @enum
(namespace_definition name: (namespace_identifier) @namespace.name) @namespace
(preproc_include) @include
(field_declaration declarator: (field_identifier) @field.name) @field
`

// TreeSitterBackend implements Backend on top of go-tree-sitter and
// tree-sitter-cpp (both already part of the teacher's dependency surface via
// its multi-language parser package), producing structural cursor facts
// without attempting template instantiation, overload resolution, or macro
// expansion — the semantic analysis spec.md §1 places out of scope.
//
// USRs are synthesized as a deterministic digest of (kind, qualified name)
// rather than clang's actual USR mangling scheme; this is documented in
// DESIGN.md as the one place a real semantic USR would differ. Dropping the
// defining file from the digest is deliberate: spec.md §3's USR is meant to
// identify "a named C/C++ entity stable across translation units", so a
// function's declaration (in a header) and its definition (in a .cpp) must
// synthesize the same USR for the indexer job's declaration/definition
// linking (spec.md §4.5 item 3) to ever find them as the same entity.
type TreeSitterBackend struct {
	mu     sync.Mutex
	parser *tree_sitter.Parser
	query  *tree_sitter.Query
}

// NewTreeSitterBackend builds and configures a parser for one of
// {.c,.cc,.cpp,.cxx,.h,.hpp,.hxx}; every TranslationUnit parse reuses it
// under a mutex since go-tree-sitter parsers aren't safe for concurrent use.
func NewTreeSitterBackend() (*TreeSitterBackend, error) {
	p := tree_sitter.NewParser()
	lang := tree_sitter.NewLanguage(tree_sitter_cpp.Language())
	if err := p.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("parser: set cpp language: %w", err)
	}
	q, err := tree_sitter.NewQuery(lang, cppQuery)
	if err != nil || q == nil {
		return nil, fmt.Errorf("parser: compile cpp query: %w", err)
	}
	return &TreeSitterBackend{parser: p, query: q}, nil
}

func (b *TreeSitterBackend) Parse(ctx context.Context, req Request) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// go-tree-sitter's C library mutates its input buffer; parse a private
	// copy so the caller's buffer stays immutable.
	buf := make([]byte, len(req.Contents))
	copy(buf, req.Contents)

	tree := b.parser.Parse(buf, nil)
	if tree == nil {
		return nil, fmt.Errorf("parser: %s: tree-sitter returned no tree", req.Path)
	}
	defer tree.Close()

	res := &Result{}
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	matches := qc.Matches(b.query, tree.RootNode(), buf)
	names := b.query.CaptureNames()

	var namespaceStack []string
	var namespaceEnds []uint
	var classStack []string

	for {
		match := matches.Next()
		if match == nil {
			break
		}
		if len(match.Captures) > 0 {
			start := match.Captures[0].Node.StartByte()
			for len(namespaceEnds) > 0 && start >= namespaceEnds[len(namespaceEnds)-1] {
				namespaceStack = namespaceStack[:len(namespaceStack)-1]
				namespaceEnds = namespaceEnds[:len(namespaceEnds)-1]
			}
		}
		captured := make(map[string]tree_sitter.Node, 4)
		for _, c := range match.Captures {
			if name := names[c.Index]; strings.HasSuffix(name, ".name") {
				captured[name] = c.Node
			}
		}
		for _, c := range match.Captures {
			node := c.Node
			switch names[c.Index] {
			case "include":
				if inc := b.parseInclude(&node, buf, req); inc != nil {
					res.Includes = append(res.Includes, *inc)
				}
			case "function":
				if nameNode, ok := captured["function.name"]; ok {
					res.Cursors = append(res.Cursors, b.cursor(&nameNode, buf, req, functionOrCtorKind(&nameNode, buf, classStack, types.KindFunction), namespaceStack, true))
				}
			case "function.decl":
				if nameNode, ok := captured["function.decl.name"]; ok {
					res.Cursors = append(res.Cursors, b.cursor(&nameNode, buf, req, functionOrCtorKind(&nameNode, buf, classStack, types.KindFunction), namespaceStack, false))
				}
			case "method":
				if nameNode, ok := captured["method.name"]; ok {
					res.Cursors = append(res.Cursors, b.cursor(&nameNode, buf, req, functionOrCtorKind(&nameNode, buf, classStack, types.KindMethod), namespaceStack, true))
				}
			case "destructor":
				if nameNode, ok := captured["destructor.name"]; ok {
					res.Cursors = append(res.Cursors, b.cursor(&nameNode, buf, req, types.KindDestructor, namespaceStack, true))
				}
			case "class":
				if nameNode, ok := captured["class.name"]; ok {
					classStack = append(classStack, nodeText(&nameNode, buf))
					res.Cursors = append(res.Cursors, b.cursor(&nameNode, buf, req, types.KindClass, namespaceStack, true))
				}
			case "struct":
				if nameNode, ok := captured["struct.name"]; ok {
					classStack = append(classStack, nodeText(&nameNode, buf))
					res.Cursors = append(res.Cursors, b.cursor(&nameNode, buf, req, types.KindStruct, namespaceStack, true))
				}
			case "enum":
				if nameNode, ok := captured["enum.name"]; ok {
					res.Cursors = append(res.Cursors, b.cursor(&nameNode, buf, req, types.KindEnum, namespaceStack, true))
					res.Cursors = append(res.Cursors, b.enumerators(&node, buf, req)...)
				}
			case "field":
				if nameNode, ok := captured["field.name"]; ok {
					res.Cursors = append(res.Cursors, b.cursor(&nameNode, buf, req, types.KindField, namespaceStack, true))
				}
			case "namespace":
				if nameNode, ok := captured["namespace.name"]; ok {
					namespaceStack = append(namespaceStack, nodeText(&nameNode, buf))
					namespaceEnds = append(namespaceEnds, node.EndByte())
				}
			}
		}
	}

	return res, nil
}

// functionOrCtorKind reclassifies a function/method capture as a constructor
// when its name matches the innermost enclosing class_specifier/
// struct_specifier's own name — tree-sitter-cpp gives constructors no
// dedicated node type the way it does destructor_name, so this is the only
// structural signal available (a constructor's name is always its class's
// name).
func functionOrCtorKind(nameNode *tree_sitter.Node, content []byte, classStack []string, fallback types.CursorKind) types.CursorKind {
	if len(classStack) == 0 {
		return fallback
	}
	if nodeText(nameNode, content) == classStack[len(classStack)-1] {
		return types.KindConstructor
	}
	return fallback
}

func (b *TreeSitterBackend) cursor(nameNode *tree_sitter.Node, content []byte, req Request, kind types.CursorKind, namespaces []string, isDefinition bool) RawCursor {
	name := nodeText(nameNode, content)
	offset := uint32(nameNode.StartByte())
	qualified := qualifiedName(namespaces, name)
	return RawCursor{
		Location:      types.EncodeLocation(req.File, offset),
		Kind:          kind,
		Name:          name,
		QualifiedName: qualified,
		Length:        uint32(len(name)),
		USR:           synthesizeUSR(kind, qualified),
		IsDefinition:  isDefinition,
	}
}

func (b *TreeSitterBackend) enumerators(enumNode *tree_sitter.Node, content []byte, req Request) []RawCursor {
	var out []RawCursor
	list := enumNode.ChildByFieldName("body")
	if list == nil {
		return nil
	}
	count := int(list.ChildCount())
	for i := 0; i < count; i++ {
		child := list.Child(uint(i))
		if child == nil || child.Kind() != "enumerator" {
			continue
		}
		nameNode := child.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := nodeText(nameNode, content)
		offset := uint32(nameNode.StartByte())
		out = append(out, RawCursor{
			Location:      types.EncodeLocation(req.File, offset),
			Kind:          types.KindEnumConstant,
			Name:          name,
			QualifiedName: name,
			Length:        uint32(len(name)),
			USR:           synthesizeUSR(types.KindEnumConstant, name),
			IsDefinition:  true,
		})
	}
	return out
}

func (b *TreeSitterBackend) parseInclude(node *tree_sitter.Node, content []byte, req Request) *Include {
	raw := nodeText(node, content)
	spelled, system := parseIncludeSpelling(raw)
	if spelled == "" {
		return nil
	}
	if req.ResolveInclude == nil {
		logging.Warnf("PARSER", "%s: no include resolver configured, dropping #include %q", req.Path, spelled)
		return nil
	}
	if _, ok := req.ResolveInclude(spelled); !ok {
		return nil
	}
	return &Include{
		Location:     types.EncodeLocation(req.File, uint32(node.StartByte())),
		ResolvedPath: spelled,
		System:       system,
	}
}

// parseIncludeSpelling extracts the path out of `#include "foo.h"` or
// `#include <foo.h>` and reports whether it used angle-bracket (system)
// syntax.
func parseIncludeSpelling(raw string) (path string, system bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "#include")
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 {
		return "", false
	}
	switch raw[0] {
	case '"':
		if end := strings.IndexByte(raw[1:], '"'); end >= 0 {
			return raw[1 : end+1], false
		}
	case '<':
		if end := strings.IndexByte(raw[1:], '>'); end >= 0 {
			return raw[1 : end+1], true
		}
	}
	return "", false
}

func nodeText(n *tree_sitter.Node, content []byte) string {
	return string(content[n.StartByte():n.EndByte()])
}

func qualifiedName(namespaces []string, name string) string {
	if len(namespaces) == 0 {
		return name
	}
	return strings.Join(namespaces, "::") + "::" + name
}

// synthesizeUSR builds a deterministic stand-in for clang's USR: stable
// across re-parses as long as the declaration's kind and qualified name
// don't change. The file is not part of it (see TreeSitterBackend).
func synthesizeUSR(kind types.CursorKind, qualifiedName string) types.USR {
	return types.USR(fmt.Sprintf("c:@%s@%s", kind.String(), qualifiedName))
}
