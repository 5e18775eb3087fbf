package sqlast

import "strings"

// sqlKeywords is the set of keywords FormatSQL uppercases. Identifiers
// that collide with a keyword come out of the serializer backtick-quoted,
// so a bare word here is always a keyword.
var sqlKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "and": {}, "or": {}, "not": {},
	"in": {}, "is": {}, "null": {}, "like": {}, "between": {}, "exists": {},
	"join": {}, "inner": {}, "left": {}, "right": {}, "outer": {}, "cross": {},
	"on": {}, "as": {}, "distinct": {}, "group": {}, "by": {}, "having": {},
	"order": {}, "asc": {}, "desc": {}, "limit": {}, "offset": {},
	"union": {}, "all": {}, "case": {}, "when": {}, "then": {}, "else": {},
	"end": {}, "insert": {}, "into": {}, "values": {}, "update": {}, "set": {},
	"delete": {}, "create": {}, "alter": {}, "drop": {}, "table": {},
	"interval": {}, "using": {}, "natural": {}, "straight_join": {},
}

// FormatSQL uppercases SQL keywords outside quoted strings and quoted
// identifiers. The serializer emits lowercase keywords; responses carry
// the conventional uppercase form.
func FormatSQL(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	i := 0
	for i < len(sql) {
		c := sql[i]
		switch c {
		case '\'', '"', '`':
			// Copy the quoted region verbatim, honoring doubled quotes.
			j := i + 1
			for j < len(sql) {
				if sql[j] == '\\' && c != '`' {
					j += 2
					continue
				}
				if sql[j] == c {
					j++
					break
				}
				j++
			}
			if j > len(sql) {
				j = len(sql)
			}
			b.WriteString(sql[i:j])
			i = j
		default:
			if isWordByte(c) {
				j := i
				for j < len(sql) && isWordByte(sql[j]) {
					j++
				}
				word := sql[i:j]
				if _, ok := sqlKeywords[strings.ToLower(word)]; ok {
					b.WriteString(strings.ToUpper(word))
				} else {
					b.WriteString(word)
				}
				i = j
			} else {
				b.WriteByte(c)
				i++
			}
		}
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
