package memmap

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// scriptLexer tokenises the subset of GNU ld scripts that describes memory:
// MEMORY blocks and REGION_ALIAS statements.
var scriptLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `/\*([^*]|\*+[^*/])*\*+/|//[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},

	{Name: "KwMemory", Pattern: `\bMEMORY\b`},
	{Name: "KwAlias", Pattern: `\bREGION_ALIAS\b`},
	{Name: "KwOrigin", Pattern: `\b(ORIGIN|org|o)\b`},
	{Name: "KwLength", Pattern: `\b(LENGTH|len|l)\b`},

	{Name: "Number", Pattern: `(0[xX][0-9a-fA-F]+|[0-9]+)[KkMm]?`},
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Ident", Pattern: `[A-Za-z_.][A-Za-z0-9_.]*`},
	{Name: "Punct", Pattern: `[{}():,;=+!]`},
})
