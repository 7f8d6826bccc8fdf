package query

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// identifierRegex matches names Reservoir is willing to create or switch to:
// roles, namespaces, and table names named in API calls.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MaxIdentifierLength is PostgreSQL's NAMEDATALEN - 1.
const MaxIdentifierLength = 63

// sqlReservedWords are rejected as role and namespace names even though
// quoting would make them legal.
var sqlReservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"UNION": true, "FROM": true, "WHERE": true, "TABLE": true,
	"GRANT": true, "REVOKE": true, "SCHEMA": true, "PUBLIC": true,
	"USER": true, "ROLE": true, "NONE": true, "DEFAULT": true,
	"CURRENT_USER": true, "SESSION_USER": true,
}

// ValidateIdentifier ensures a role, namespace, or table name is safe to
// use. It rejects empty strings, names longer than PostgreSQL keeps, names
// outside [a-zA-Z_][a-zA-Z0-9_]*, and reserved words.
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier too long (max %d chars): %q", MaxIdentifierLength, name)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if sqlReservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a SQL reserved word", name)
	}
	return nil
}

// TruncateMessage makes a driver error message safe to store in a TEXT
// column: NUL bytes are dropped (PostgreSQL rejects them) and the result is
// cut to at most maxLen bytes on a rune boundary.
func TruncateMessage(msg string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 4096
	}
	msg = strings.ReplaceAll(msg, "\x00", "")
	if len(msg) <= maxLen {
		return msg
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
