package orm

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// sqlChunk is a piece of a statement. Literal chunks (strings, quoted identifiers,
// comments, dollar quoted bodies) are copied through untouched.
type sqlChunk struct {
	text    string
	literal bool
}

// splitSQL cuts query into code and literal chunks.
func splitSQL(query string) []sqlChunk {
	var chunks []sqlChunk
	start := 0
	flush := func(end int, literal bool) {
		if end > start {
			chunks = append(chunks, sqlChunk{text: query[start:end], literal: literal})
		}
		start = end
	}

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			flush(i, false)
			j := i + 1
			for j < len(query) {
				if query[j] == c {
					if j+1 < len(query) && query[j+1] == c { // doubled quote
						j += 2
						continue
					}
					j++
					break
				}
				j++
			}
			flush(j, true)
			i = j
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			flush(i, false)
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				j = len(query)
			} else {
				j += i
			}
			flush(j, true)
			i = j
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			flush(i, false)
			j := strings.Index(query[i+2:], "*/")
			if j < 0 {
				j = len(query)
			} else {
				j += i + 4
			}
			flush(j, true)
			i = j
		case c == '$':
			tag, ok := dollarTag(query[i:])
			if !ok {
				i++
				continue
			}
			flush(i, false)
			j := strings.Index(query[i+len(tag):], tag)
			if j < 0 {
				j = len(query)
			} else {
				j += i + 2*len(tag)
			}
			flush(j, true)
			i = j
		default:
			i++
		}
	}
	flush(len(query), false)
	return chunks
}

// dollarTag returns the opening tag of a PostgreSQL dollar quoted string ($$ or $tag$).
func dollarTag(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	if s[1] == '$' {
		return "$$", true
	}
	if !isIdentStart(s[1]) {
		return "", false
	}
	j := 2
	for j < len(s) && isIdentChar(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// bindBuilder collects arguments and renders placeholders in the dialect's syntax.
type bindBuilder struct {
	gen  *QueryGenerator
	sb   strings.Builder
	args []interface{}
}

func (b *bindBuilder) bind(v interface{}) {
	b.args = append(b.args, v)
	b.sb.WriteString(b.gen.placeholder(len(b.args)))
}

// bindList binds a slice value as a comma separated list, anything else as one value.
func (b *bindBuilder) bindList(v interface{}) {
	values, ok := sliceValues(v)
	if !ok {
		b.bind(v)
		return
	}
	if len(values) == 0 {
		b.sb.WriteString("NULL")
		return
	}
	for i, item := range values {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.bind(item)
	}
}

// ApplyReplacements converts `?` (slice replacements) or `:name` (map replacements) into
// bind parameters of the dialect. A slice value expands to a comma separated list, so
// `IN (?)` with []int{1, 2} becomes `IN ($1, $2)` on PostgreSQL. Text inside string
// literals, quoted identifiers, comments and `::` casts is left alone.
func (g *QueryGenerator) ApplyReplacements(query string, replacements interface{}) (string, []interface{}, error) {
	if replacements == nil {
		return query, nil, nil
	}
	if named, ok := toNamedValues(replacements); ok {
		return g.rewriteNamed(query, ':', named, true)
	}
	positional, ok := sliceValues(replacements)
	if !ok {
		return "", nil, fmt.Errorf("%w: replacements must be a slice or a map, got %T", ErrInvalidReplacement, replacements)
	}

	b := bindBuilder{gen: g}
	used := 0
	for _, chunk := range splitSQL(query) {
		if chunk.literal {
			b.sb.WriteString(chunk.text)
			continue
		}
		for i := 0; i < len(chunk.text); i++ {
			c := chunk.text[i]
			if c != '?' {
				b.sb.WriteByte(c)
				continue
			}
			if used >= len(positional) {
				return "", nil, fmt.Errorf("%w: query has more ? than the %d replacements given", ErrInvalidReplacement, len(positional))
			}
			b.bindList(positional[used])
			used++
		}
	}
	if used != len(positional) {
		return "", nil, fmt.Errorf("%w: %d replacements given, query uses %d", ErrInvalidReplacement, len(positional), used)
	}
	return b.sb.String(), b.args, nil
}

// ApplyBind converts `$1..$n` (slice) or `$name` (map) bind parameters into the dialect's
// placeholders. Values are never inlined.
func (g *QueryGenerator) ApplyBind(query string, bind interface{}) (string, []interface{}, error) {
	if bind == nil {
		return query, nil, nil
	}
	if named, ok := toNamedValues(bind); ok {
		return g.rewriteNamed(query, '$', named, false)
	}
	positional, ok := sliceValues(bind)
	if !ok {
		return "", nil, fmt.Errorf("%w: bind must be a slice or a map, got %T", ErrInvalidReplacement, bind)
	}

	b := bindBuilder{gen: g}
	for _, chunk := range splitSQL(query) {
		if chunk.literal {
			b.sb.WriteString(chunk.text)
			continue
		}
		text := chunk.text
		for i := 0; i < len(text); i++ {
			if text[i] != '$' || i+1 >= len(text) || text[i+1] < '0' || text[i+1] > '9' {
				b.sb.WriteByte(text[i])
				continue
			}
			j := i + 1
			for j < len(text) && text[j] >= '0' && text[j] <= '9' {
				j++
			}
			n, _ := strconv.Atoi(text[i+1 : j])
			if n < 1 || n > len(positional) {
				return "", nil, fmt.Errorf("%w: $%d has no bind value (%d given)", ErrInvalidReplacement, n, len(positional))
			}
			b.bind(positional[n-1])
			i = j - 1
		}
	}
	return b.sb.String(), b.args, nil
}

// rewriteNamed replaces prefix+name tokens with values from named. With expand set,
// slice values become comma separated lists.
func (g *QueryGenerator) rewriteNamed(query string, prefix byte, named map[string]interface{}, expand bool) (string, []interface{}, error) {
	b := bindBuilder{gen: g}
	for _, chunk := range splitSQL(query) {
		if chunk.literal {
			b.sb.WriteString(chunk.text)
			continue
		}
		text := chunk.text
		for i := 0; i < len(text); i++ {
			c := text[i]
			if c != prefix || i+1 >= len(text) || !isIdentStart(text[i+1]) {
				b.sb.WriteByte(c)
				continue
			}
			// a::text cast, or a name glued to a preceding word
			if i > 0 && (text[i-1] == prefix || isIdentChar(text[i-1])) {
				b.sb.WriteByte(c)
				continue
			}
			j := i + 1
			for j < len(text) && isIdentChar(text[j]) {
				j++
			}
			name := text[i+1 : j]
			value, ok := named[name]
			if !ok {
				return "", nil, fmt.Errorf("%w: named parameter %q has no value", ErrInvalidReplacement, string(prefix)+name)
			}
			if expand {
				b.bindList(value)
			} else {
				b.bind(value)
			}
			i = j - 1
		}
	}
	return b.sb.String(), b.args, nil
}

// toNamedValues accepts any map with string keys.
func toNamedValues(v interface{}) (map[string]interface{}, bool) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// Rebind rewrites `?` placeholders outside literals into the dialect's syntax.
func (g *QueryGenerator) Rebind(query string) string {
	if g.Placeholder == nil {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, chunk := range splitSQL(query) {
		if chunk.literal {
			sb.WriteString(chunk.text)
			continue
		}
		for i := 0; i < len(chunk.text); i++ {
			if chunk.text[i] == '?' {
				n++
				sb.WriteString(g.Placeholder(n))
				continue
			}
			sb.WriteByte(chunk.text[i])
		}
	}
	return sb.String()
}
