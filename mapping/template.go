package mapping

import (
	"fmt"
	"strings"

	"github.com/geowatch/eogate/service"
)

// Template is the parsed form of an outbound query template such as
// "producttype={productType}" or "date={startTimeFromAscendingNode#to_iso_date}".
// Parsing happens once at mapping-compile time.
type Template struct {
	raw      string
	segments []segment
}

type segment struct {
	literal string
	// placeholder fields, empty for literal segments
	name      string
	formatter *formatterRef
	def       string
	hasDef    bool
}

type formatterRef struct {
	name string
	args []string
}

// ParseTemplate builds the template AST. Placeholder syntax:
//
//	{name}                 mandatory binding
//	{name:default}         optional binding with default
//	{name#fmt(arg,...)}    binding passed through a formatter
func ParseTemplate(raw string) (*Template, error) {
	t := &Template{raw: raw}
	rest := raw
	for {
		open := strings.IndexByte(rest, '{')
		if open == -1 {
			if rest != "" {
				t.segments = append(t.segments, segment{literal: rest})
			}
			return t, nil
		}
		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}
		rest = rest[open+1:]
		close := matchingBrace(rest)
		if close == -1 {
			return nil, service.MalformedPathError{Path: raw, Reason: "unclosed placeholder"}
		}
		placeholder := rest[:close]
		rest = rest[close+1:]
		seg, err := parsePlaceholder(placeholder)
		if err != nil {
			return nil, service.MalformedPathError{Path: raw, Reason: err.Error()}
		}
		t.segments = append(t.segments, seg)
	}
}

// matchingBrace returns the index of the closing brace of a placeholder that
// started just before s, accounting for nested braces in formatter arguments.
func matchingBrace(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

func parsePlaceholder(s string) (segment, error) {
	if s == "" {
		return segment{}, fmt.Errorf("empty placeholder")
	}
	seg := segment{}
	if i := strings.IndexByte(s, '#'); i != -1 {
		ref, err := parseFormatterRef(s[i+1:])
		if err != nil {
			return segment{}, err
		}
		seg.formatter = ref
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i != -1 {
		seg.def = s[i+1:]
		seg.hasDef = true
		s = s[:i]
	}
	if s == "" {
		return segment{}, fmt.Errorf("placeholder without a name")
	}
	seg.name = s
	return seg, nil
}

// parseFormatterRef parses "name" or "name(arg1,arg2)". The argument list is
// taken verbatim up to the final closing parenthesis, so regex arguments may
// contain parentheses and pipes.
func parseFormatterRef(s string) (*formatterRef, error) {
	open := strings.IndexByte(s, '(')
	if open == -1 {
		if s == "" {
			return nil, fmt.Errorf("empty formatter name")
		}
		return &formatterRef{name: s}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("unclosed formatter arguments in %q", s)
	}
	name := s[:open]
	if name == "" {
		return nil, fmt.Errorf("empty formatter name")
	}
	argstr := s[open+1 : len(s)-1]
	ref := &formatterRef{name: name}
	if argstr != "" {
		ref.args = splitArgs(argstr)
	}
	return ref, nil
}

// splitArgs splits on commas that are not nested in parentheses.
func splitArgs(s string) []string {
	var args []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, s[start:i])
				start = i + 1
			}
		}
	}
	return append(args, s[start:])
}

// Check validates the formatter references of the template against the
// registry, so a malformed reference fails at parse time, not per request.
func (t *Template) Check(registry *Registry) error {
	for _, seg := range t.segments {
		if seg.formatter == nil {
			continue
		}
		if err := registry.Check(seg.formatter.name, seg.formatter.args); err != nil {
			return err
		}
	}
	return nil
}

// Build renders the template against the bindings. A mandatory placeholder
// (no default) without a binding fails with MissingBindingError.
func (t *Template) Build(bindings map[string]interface{}, registry *Registry) (string, error) {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.name == "" {
			b.WriteString(seg.literal)
			continue
		}
		value, ok := bindings[seg.name]
		if !ok || value == nil {
			if !seg.hasDef {
				return "", service.MissingBindingError{Placeholder: seg.name}
			}
			b.WriteString(seg.def)
			continue
		}
		if seg.formatter != nil {
			var err error
			if value, err = registry.Apply(seg.formatter.name, seg.formatter.args, value); err != nil {
				return "", fmt.Errorf("build[%s].%w", t.raw, err)
			}
		}
		b.WriteString(stringify(value))
	}
	return b.String(), nil
}
