package engine

import "strings"

// Builtins are Go's predeclared identifiers.
var Builtins = []string{
	"any", "append", "bool", "byte", "cap", "clear", "close", "comparable",
	"complex", "complex128", "complex64", "copy", "delete", "error", "false",
	"float32", "float64", "imag", "int", "int16", "int32", "int64", "int8",
	"iota", "len", "make", "max", "min", "new", "nil", "panic", "print",
	"println", "real", "recover", "rune", "string", "true", "uint", "uint16",
	"uint32", "uint64", "uint8", "uintptr",
}

// IsReserved reports whether name is synthetic: Delve's return values (~r0),
// shadowed variables ((x)) and internal names (.closureptr).
func IsReserved(name string) bool {
	return name == "" || strings.HasPrefix(name, "~") || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "(")
}
