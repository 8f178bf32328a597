package db

import (
	"fmt"
	"strings"
)

// Text codecs for the native wire representation of structured and
// array values. The quoting rules follow the postgres composite and
// array literal syntax, the same forms lib/pq produces and consumes.

func encodeComposite(attrs []string, null []bool) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, attr := range attrs {
		if i > 0 {
			b.WriteByte(',')
		}
		if null[i] {
			continue // NULL attribute is the empty field
		}
		b.WriteString(quoteCompositeField(attr))
	}
	b.WriteByte(')')
	return b.String()
}

func quoteCompositeField(s string) string {
	if s != "" && !strings.ContainsAny(s, `(),"\ `) {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteRune(r)
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// parseComposite splits a composite literal into its raw attribute
// texts. A nil entry marks a NULL attribute.
func parseComposite(s string) ([]*string, error) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("db: malformed composite literal %q", s)
	}
	return splitLiteral(s[1:len(s)-1], func(raw string, quoted bool) *string {
		if !quoted && raw == "" {
			return nil
		}
		return &raw
	})
}

// parseArray splits an array literal into its raw element texts. A nil
// entry marks a NULL element.
func parseArray(s string) ([]*string, error) {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("db: malformed array literal %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []*string{}, nil
	}
	return splitLiteral(body, func(raw string, quoted bool) *string {
		if !quoted && strings.EqualFold(raw, "NULL") {
			return nil
		}
		return &raw
	})
}

func encodeArray(elems []string, null []bool) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, elem := range elems {
		if i > 0 {
			b.WriteByte(',')
		}
		if null[i] {
			b.WriteString("NULL")
			continue
		}
		b.WriteString(quoteArrayElem(elem))
	}
	b.WriteByte('}')
	return b.String()
}

func quoteArrayElem(s string) string {
	if s != "" && !strings.ContainsAny(s, `{},"\ `) && !strings.EqualFold(s, "NULL") {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// splitLiteral walks a comma-separated literal body honoring double
// quotes, backslash escapes and nested parens/braces.
func splitLiteral(body string, conv func(raw string, quoted bool) *string) ([]*string, error) {
	var (
		out     []*string
		cur     strings.Builder
		quoted  bool
		wasQ    bool
		depth   int
		runes   = []rune(body)
		flushed = func() {
			raw := cur.String()
			out = append(out, conv(raw, wasQ))
			cur.Reset()
			wasQ = false
		}
	)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quoted:
			switch r {
			case '\\':
				if i+1 < len(runes) {
					i++
					cur.WriteRune(runes[i])
				}
			case '"':
				// doubled quote escapes a quote inside quoting
				if i+1 < len(runes) && runes[i+1] == '"' {
					i++
					cur.WriteByte('"')
				} else {
					quoted = false
				}
			default:
				cur.WriteRune(r)
			}
		case r == '"':
			quoted = true
			wasQ = true
		case r == '(' || r == '{':
			depth++
			cur.WriteRune(r)
		case r == ')' || r == '}':
			depth--
			cur.WriteRune(r)
		case r == ',' && depth == 0:
			flushed()
		default:
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("db: unterminated quote in literal %q", body)
	}
	flushed()
	return out, nil
}
