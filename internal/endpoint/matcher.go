package endpoint

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled Ant-style path pattern.
//
//	?       matches one character within a segment
//	*       matches zero or more characters within a segment
//	**      matches zero or more whole segments
//	{name}  matches one segment (or the rest of it when mixed with literals)
//	{name:regex} matches a segment part against regex
//
// Empty segments are ignored, so "/a//b/" and "/a/b" are the same path.
type Pattern struct {
	raw      string
	segments []segment
}

type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentGlob
	segmentRegexp
	segmentDoubleStar
)

type segment struct {
	kind  segmentKind
	text  string
	regex *regexp.Regexp
}

// CompilePattern parses an Ant-style pattern. Invalid variable regexes and
// unbalanced braces are reported as errors.
func CompilePattern(raw string) (*Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("pattern %q must start with /", raw)
	}
	p := &Pattern{raw: raw}
	for _, part := range splitPath(raw) {
		seg, err := compileSegment(part)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", raw, err)
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

// MatchPattern reports whether path matches the Ant-style pattern. It compiles
// the pattern on every call; hot paths use CompilePattern once instead.
func MatchPattern(pattern, path string) bool {
	p, err := CompilePattern(pattern)
	if err != nil {
		return false
	}
	return p.Match(path)
}

// String returns the source pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether path matches the pattern.
func (p *Pattern) Match(path string) bool {
	return matchSegments(p.segments, splitPath(path))
}

func matchSegments(pattern []segment, path []string) bool {
	pi, si := 0, 0
	for pi < len(pattern) {
		if pattern[pi].kind == segmentDoubleStar {
			for pi < len(pattern) && pattern[pi].kind == segmentDoubleStar {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for k := si; k <= len(path); k++ {
				if matchSegments(pattern[pi:], path[k:]) {
					return true
				}
			}
			return false
		}
		if si >= len(path) || !pattern[pi].match(path[si]) {
			return false
		}
		pi++
		si++
	}
	return si == len(path)
}

func (s segment) match(value string) bool {
	switch s.kind {
	case segmentLiteral:
		return s.text == value
	case segmentGlob:
		return globMatch(s.text, value)
	case segmentRegexp:
		return s.regex.MatchString(value)
	default:
		return false
	}
}

func compileSegment(part string) (segment, error) {
	if part == "**" {
		return segment{kind: segmentDoubleStar}, nil
	}
	if !strings.ContainsAny(part, "*?{}") {
		return segment{kind: segmentLiteral, text: part}, nil
	}
	if !strings.ContainsAny(part, "{}") {
		return segment{kind: segmentGlob, text: part}, nil
	}

	// Variables: rewrite to a glob when none carries a custom regex,
	// otherwise build an anchored regexp for the whole segment.
	var (
		glob     strings.Builder
		expr     strings.Builder
		hasRegex bool
	)
	expr.WriteString("^")
	for i := 0; i < len(part); {
		c := part[i]
		switch c {
		case '{':
			end := closingBrace(part[i:])
			if end < 0 {
				return segment{}, fmt.Errorf("unbalanced { in segment %q", part)
			}
			body := part[i+1 : i+end]
			if name, re, ok := strings.Cut(body, ":"); ok {
				if name == "" {
					return segment{}, fmt.Errorf("empty variable name in segment %q", part)
				}
				hasRegex = true
				expr.WriteString("(" + re + ")")
			} else {
				expr.WriteString("(.*)")
			}
			glob.WriteByte('*')
			i += end + 1
		case '}':
			return segment{}, fmt.Errorf("unbalanced } in segment %q", part)
		case '*':
			glob.WriteByte(c)
			expr.WriteString(".*")
			i++
		case '?':
			glob.WriteByte(c)
			expr.WriteString(".")
			i++
		default:
			glob.WriteByte(c)
			expr.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	expr.WriteString("$")

	if !hasRegex {
		return segment{kind: segmentGlob, text: glob.String()}, nil
	}
	re, err := regexp.Compile(expr.String())
	if err != nil {
		return segment{}, fmt.Errorf("segment %q: %w", part, err)
	}
	return segment{kind: segmentRegexp, regex: re}, nil
}

// closingBrace returns the index of the brace closing s[0], counting nested
// braces such as regex quantifiers and skipping escaped characters. It
// returns -1 when the braces are unbalanced.
func closingBrace(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// globMatch matches value against a pattern of literals, '*' and '?'.
func globMatch(pattern, value string) bool {
	p, v := 0, 0
	star, mark := -1, 0
	for v < len(value) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, v
			p++
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == value[v]):
			p++
			v++
		case star >= 0:
			p = star + 1
			mark++
			v = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
