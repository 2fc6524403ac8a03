// Package pathmap rewrites filesystem prefixes inside free text, mapping the
// virtual mount seen by user code to a session's physical workspace and back.
//
// Matching is boundary-aware: a prefix only matches as a whole path segment
// run, so "/mnt/data" does not match inside "/mnt/database" or
// "/x/mnt/data", and a root of ".../s1" does not match inside ".../s10".
package pathmap

import (
	"regexp"
	"strings"
)

// Translator maps between one virtual prefix and one physical root.
type Translator struct {
	virtual  string
	physical string
	toPhys   *regexp.Regexp
	toVirt   *regexp.Regexp
}

// New returns a Translator for the virtual prefix and physical root.
// Trailing slashes on either side are ignored.
func New(virtual, physical string) *Translator {
	v := trimPrefix(virtual)
	p := trimPrefix(physical)
	return &Translator{
		virtual:  v,
		physical: p,
		toPhys:   compile(v),
		toVirt:   compile(p),
	}
}

// Virtual returns the virtual prefix.
func (t *Translator) Virtual() string { return t.virtual }

// Physical returns the physical root.
func (t *Translator) Physical() string { return t.physical }

// ToPhysical rewrites every bounded occurrence of the virtual prefix in text.
func (t *Translator) ToPhysical(text string) string {
	return replace(text, t.toPhys, t.physical)
}

// ToVirtual rewrites every bounded occurrence of the physical root in text.
func (t *Translator) ToVirtual(text string) string {
	return replace(text, t.toVirt, t.virtual)
}

// ToPhysical replaces virtualPrefix with root in text.
func ToPhysical(text, virtualPrefix, root string) string {
	return New(virtualPrefix, root).ToPhysical(text)
}

// ToVirtual replaces root with virtualPrefix in text.
func ToVirtual(text, root, virtualPrefix string) string {
	return New(virtualPrefix, root).ToVirtual(text)
}

func trimPrefix(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimRight(p, "/")
}

// compile builds a pattern for prefix that tolerates repeated separators.
func compile(prefix string) *regexp.Regexp {
	if prefix == "" || prefix == "/" {
		return nil
	}
	leading := strings.HasPrefix(prefix, "/")
	parts := strings.FieldsFunc(prefix, func(r rune) bool { return r == '/' })
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = regexp.QuoteMeta(p)
	}
	expr := strings.Join(quoted, "/+")
	if leading {
		expr = "/+" + expr
	}
	return regexp.MustCompile(expr)
}

func replace(text string, re *regexp.Regexp, with string) string {
	if re == nil || text == "" {
		return text
	}
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if !bounded(text, start, end) {
			continue
		}
		b.WriteString(text[last:start])
		// Only the last slash of a leading run belongs to the prefix; the
		// rest stay literal so "sqlite:///mnt/data" keeps its "//".
		b.WriteString(text[start : start+extraSlashes(text[start:end], with)])
		b.WriteString(with)
		last = end
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

func extraSlashes(match, with string) int {
	if !strings.HasPrefix(with, "/") {
		return 0
	}
	n := len(match) - len(strings.TrimLeft(match, "/"))
	if n <= 1 {
		return 0
	}
	return n - 1
}

// bounded reports whether text[start:end] stands alone as a path prefix.
func bounded(text string, start, end int) bool {
	if start > 0 {
		prev := text[start-1]
		if isNameByte(prev) || prev == '/' || prev == '~' {
			return false
		}
	}
	if end < len(text) && isNameByte(text[end]) {
		return false
	}
	return true
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_' || c == '-':
		return true
	case c >= 0x80:
		// UTF-8 continuation or lead byte of a non-ASCII name rune.
		return true
	}
	return false
}
