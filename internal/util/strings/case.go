// Package strings holds the identifier conventions shared by schema metadata
// and the SQL store: Go field names to columns, tables and client names.
package strings

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts CamelCase to snake_case, keeping acronyms together
// (HTTPRequest -> http_request, CompanyID -> company_id).
func ToSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				if unicode.IsLower(prev) || unicode.IsDigit(prev) {
					b.WriteRune('_')
				} else if i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
					b.WriteRune('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToLowerCamel lowers the leading upper-case run of a Go identifier
// (ID -> id, CompanyID -> companyID, URLPath -> urlPath).
func ToLowerCamel(s string) string {
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			break
		}
		if i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// Pluralize applies simple English pluralization
func Pluralize(s string) string {
	switch {
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"), strings.HasSuffix(s, "z"),
		strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

// TableName derives the default table for a type name (CaseProduct -> case_products).
func TableName(typeName string) string {
	return Pluralize(ToSnakeCase(typeName))
}
