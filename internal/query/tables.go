package query

import "sort"

// functions whose argument list uses FROM as a plain keyword.
var fromFunctions = map[string]bool{
	"extract":   true,
	"substring": true,
	"trim":      true,
	"position":  true,
	"overlay":   true,
}

// clause keywords that end a table list and can never be an alias.
var clauseKeywords = map[string]bool{
	"where": true, "group": true, "order": true, "having": true, "limit": true,
	"offset": true, "union": true, "intersect": true, "except": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true, "cross": true,
	"natural": true, "on": true, "using": true, "window": true, "fetch": true,
	"for": true, "lateral": true, "straight_join": true, "set": true, "values": true,
	"returning": true, "select": true,
}

// ExtractTables returns the tables a query reads, by name without schema
// qualification, sorted and de-duplicated. Names of common table
// expressions and subquery aliases are not tables and are left out. It is
// a lexical pass, not a parser: it finds the identifiers that follow FROM,
// JOIN, UPDATE, and INTO.
func ExtractTables(sql string) []string {
	var toks []token
	for _, t := range tokenize(sql) {
		if t.typ != tokSpace && t.typ != tokComment {
			toks = append(toks, t)
		}
	}

	ctes := map[string]bool{}
	for i := 0; i+2 < len(toks); i++ {
		// WITH name AS (   or   , name AS (
		if toks[i].isIdent() && toks[i+1].is("as") && toks[i+2].value == "(" && i > 0 {
			prev := toks[i-1]
			if prev.is("with") || prev.is("recursive") || prev.value == "," {
				ctes[toks[i].ident()] = true
			}
		}
	}

	seen := map[string]bool{}
	var parens []string // function name (or "") per open paren

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.value == "(":
			fn := ""
			if i > 0 && toks[i-1].typ == tokWord {
				fn = toks[i-1].ident()
			}
			parens = append(parens, fn)
			continue
		case t.value == ")":
			if len(parens) > 0 {
				parens = parens[:len(parens)-1]
			}
			continue
		}

		if t.typ != tokWord {
			continue
		}
		kw := t.ident()
		switch kw {
		case "from":
			if len(parens) > 0 && fromFunctions[parens[len(parens)-1]] {
				continue
			}
			if i > 0 && toks[i-1].is("distinct") { // IS DISTINCT FROM
				continue
			}
			i = readTableList(toks, i+1, true, seen)
		case "update":
			// Only a statement-leading UPDATE names a table; FOR UPDATE
			// and ON DUPLICATE KEY UPDATE do not.
			if i == 0 || toks[i-1].value == ";" {
				i = readTableList(toks, i+1, false, seen)
			}
		case "join", "into":
			i = readTableList(toks, i+1, false, seen)
		}
	}

	tables := make([]string, 0, len(seen))
	for name := range seen {
		if !ctes[name] {
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	return tables
}

// readTableList reads one table reference at toks[i] (or a comma-separated
// list when list is set) and returns the index of the last token consumed.
func readTableList(toks []token, i int, list bool, seen map[string]bool) int {
	for i < len(toks) {
		if toks[i].is("only") || toks[i].is("lateral") {
			i++
			continue
		}
		if i >= len(toks) || !toks[i].isIdent() {
			return i - 1 // subquery or something we do not understand
		}

		// Qualified name: a.b.c, keep the last part.
		name := toks[i].ident()
		for i+2 < len(toks) && toks[i+1].value == "." && toks[i+2].isIdent() {
			i += 2
			name = toks[i].ident()
		}
		// A name followed by "(" is a table function.
		if i+1 < len(toks) && toks[i+1].value == "(" {
			return i
		}
		seen[name] = true
		i++

		// Optional alias.
		if i < len(toks) && toks[i].is("as") {
			i++
		}
		if i < len(toks) && toks[i].isIdent() && !clauseKeywords[toks[i].ident()] {
			i++
		}

		if !list || i >= len(toks) || toks[i].value != "," {
			return i - 1
		}
		i++ // comma
	}
	return i - 1
}
