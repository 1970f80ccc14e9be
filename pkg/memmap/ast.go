package memmap

// script is the parse tree of a memory description.
type script struct {
	Statements []*statement `@@*`
}

type statement struct {
	Memory *memoryBlock `  @@`
	Alias  *aliasDecl   `| @@`
}

// memoryBlock: MEMORY { ROM (rx) : ORIGIN = 0x0, LENGTH = 64K ... }
type memoryBlock struct {
	Regions []*regionDecl `KwMemory "{" @@* "}"`
}

type regionDecl struct {
	Name   string `@Ident`
	Attrs  string `( "(" @( "!" | Ident )* ")" )?`
	Origin *expr  `":" KwOrigin "=" @@ ","?`
	Length *expr  `KwLength "=" @@`
}

// expr is a sum of literals, enough for ORIGIN = 0x1000 + 4K.
type expr struct {
	Terms []string `@Number ( "+" @Number )*`
}

// aliasDecl: REGION_ALIAS("REGION_TEXT", ROM);
type aliasDecl struct {
	Alias  string `KwAlias "(" @String ","`
	Region string `@Ident ")" ";"?`
}
