package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const labelClass = `[A-Za-z0-9_-]`

// LqueryRegexp translates an lquery pattern into a regular expression that
// matches a dot path with a trailing "." appended.
//
// Supported: plain labels, "*" (any number of labels), "*{n}", "*{n,}",
// "*{,m}", "*{n,m}", prefix labels ("foo*") and alternatives ("a|b").
func LqueryRegexp(pattern string) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("empty lquery")
	}
	var b strings.Builder
	b.WriteString("^")
	for _, tok := range strings.Split(pattern, ".") {
		if tok == "" {
			return "", fmt.Errorf("invalid lquery %q: empty level", pattern)
		}
		if tok[0] == '*' {
			quant, err := lqueryQuantifier(tok[1:])
			if err != nil {
				return "", fmt.Errorf("invalid lquery %q: %w", pattern, err)
			}
			b.WriteString("(?:" + labelClass + `+\.)` + quant)
			continue
		}
		alts := strings.Split(tok, "|")
		parts := make([]string, 0, len(alts))
		for _, alt := range alts {
			prefix := strings.HasSuffix(alt, "*")
			alt = strings.TrimSuffix(alt, "*")
			if alt == "" || strings.ContainsAny(alt, "!@%{}") || !validLabel.MatchString(alt) {
				return "", fmt.Errorf("invalid lquery %q: unsupported level %q", pattern, tok)
			}
			p := regexp.QuoteMeta(alt)
			if prefix {
				p += labelClass + "*"
			}
			parts = append(parts, p)
		}
		b.WriteString("(?:" + strings.Join(parts, "|") + `)\.`)
	}
	b.WriteString("$")
	return b.String(), nil
}

var validLabel = regexp.MustCompile(`^` + labelClass + `+$`)

func lqueryQuantifier(s string) (string, error) {
	if s == "" {
		return "*", nil
	}
	if s[0] != '{' || s[len(s)-1] != '}' {
		return "", fmt.Errorf("bad quantifier %q", s)
	}
	body := s[1 : len(s)-1]
	lo, hi, ranged := strings.Cut(body, ",")
	check := func(v string) error {
		if v == "" {
			return nil
		}
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("bad quantifier %q", s)
		}
		return nil
	}
	if err := check(lo); err != nil {
		return "", err
	}
	if err := check(hi); err != nil {
		return "", err
	}
	if !ranged {
		if lo == "" {
			return "", fmt.Errorf("bad quantifier %q", s)
		}
		return "{" + lo + "}", nil
	}
	if lo == "" {
		lo = "0"
	}
	return "{" + lo + "," + hi + "}", nil
}

// MatchLquery reports whether path matches the lquery pattern.
func MatchLquery(pattern, path string) (bool, error) {
	expr, err := LqueryRegexp(pattern)
	if err != nil {
		return false, err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false, err
	}
	return re.MatchString(path + "."), nil
}
