// Package gosrc locates declarations in Go source files.
package gosrc

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// ErrNotFound is returned when no declaration matches.
var ErrNotFound = errors.New("declaration not found")

// Decl is the line range of a declaration, inclusive.
type Decl struct {
	File    string
	Line    int
	EndLine int
}

// ParseName splits a symbol such as "main.(*Server).Run", "Server.Run" or
// "pkg.Func" into an optional receiver type and the declared name.
func ParseName(symbol string) (recv, name string) {
	s := strings.NewReplacer("(*", "", "(", "", ")", "", "*", "").Replace(symbol)
	parts := strings.Split(s, ".")
	name = parts[len(parts)-1]
	if len(parts) >= 2 {
		recv = parts[len(parts)-2]
	}
	return recv, name
}

// FindInSource searches one file. The receiver is tried first, so
// "pkg.Func" still matches a plain function when pkg is not a type.
func FindInSource(filename string, src []byte, symbol string) (Decl, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return Decl{}, fmt.Errorf("parse %s: %w", filename, err)
	}

	recv, name := ParseName(symbol)
	if recv != "" {
		if node := lookup(file, recv, name); node != nil {
			return span(fset, filename, node), nil
		}
	}
	if node := lookup(file, "", name); node != nil {
		return span(fset, filename, node), nil
	}
	return Decl{}, fmt.Errorf("%s: %w", symbol, ErrNotFound)
}

// FindInDir searches the non-test Go files of dir in fsys, in name order.
func FindInDir(fsys fs.FS, dir, symbol string) (Decl, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return Decl{}, fmt.Errorf("read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file := path.Join(dir, name)
		src, err := fs.ReadFile(fsys, file)
		if err != nil {
			continue
		}
		decl, err := FindInSource(file, src, symbol)
		if err == nil {
			return decl, nil
		}
	}
	return Decl{}, fmt.Errorf("%s: %w", symbol, ErrNotFound)
}

func lookup(file *ast.File, recv, name string) ast.Node {
	for _, d := range file.Decls {
		switch decl := d.(type) {
		case *ast.FuncDecl:
			if decl.Name.Name != name {
				continue
			}
			if receiverName(decl) == recv {
				return decl
			}
		case *ast.GenDecl:
			if recv != "" {
				continue
			}
			for _, spec := range decl.Specs {
				if specDeclares(spec, name) {
					if len(decl.Specs) == 1 {
						return decl
					}
					return spec
				}
			}
		}
	}
	return nil
}

func receiverName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	expr := fn.Recv.List[0].Type
	for {
		switch e := expr.(type) {
		case *ast.StarExpr:
			expr = e.X
		case *ast.IndexExpr:
			expr = e.X
		case *ast.IndexListExpr:
			expr = e.X
		case *ast.Ident:
			return e.Name
		default:
			return ""
		}
	}
}

func specDeclares(spec ast.Spec, name string) bool {
	switch s := spec.(type) {
	case *ast.TypeSpec:
		return s.Name.Name == name
	case *ast.ValueSpec:
		for _, n := range s.Names {
			if n.Name == name {
				return true
			}
		}
	}
	return false
}

func span(fset *token.FileSet, filename string, node ast.Node) Decl {
	return Decl{
		File:    filename,
		Line:    fset.Position(node.Pos()).Line,
		EndLine: fset.Position(node.End()).Line,
	}
}
