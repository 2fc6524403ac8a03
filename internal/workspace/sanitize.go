package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxNameBytes is the common per-component filename limit.
const maxNameBytes = 255

// SanitizeName reduces a user-chosen display name to a safe single path
// component. Letters, digits, '.', '_', '-' and ' ' survive; separators and
// every other rune are dropped, ".." runs are removed and leading dots or
// spaces are trimmed. The result may be empty.
func SanitizeName(displayName string) string {
	var b strings.Builder
	b.Grow(len(displayName))
	for _, r := range displayName {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-' || r == ' ':
			b.WriteRune(r)
		}
	}

	name := b.String()
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", "")
	}
	name = strings.TrimLeft(name, ". ")
	name = strings.TrimRight(name, " ")

	return truncateName(name)
}

func truncateName(name string) string {
	if len(name) <= maxNameBytes {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= maxNameBytes/2 {
		ext = ""
	}
	return trimRunes(strings.TrimSuffix(name, ext), maxNameBytes-len(ext)) + ext
}

// NameClaims maps workspace names to the file id holding them. Claiming the
// same refs in the same order always yields the same names, so callers that
// only describe a workspace agree with Prepare.
type NameClaims map[string]string

// Claim sanitizes displayName and reserves a unique name for fileID. It
// returns "" when nothing usable is left of displayName.
func (c NameClaims) Claim(displayName, fileID string) string {
	name := SanitizeName(displayName)
	if name == "" {
		return ""
	}
	name = uniqueName(name, fileID, c)
	c[name] = fileID
	return name
}

// uniqueName returns name, or a "_N"-suffixed variant when name is already
// claimed by a different file in this preparation.
func uniqueName(name, fileID string, claimed map[string]string) string {
	if owner, ok := claimed[name]; !ok || owner == fileID {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		suffix := fmt.Sprintf("_%d", i)
		candidate := trimRunes(stem, maxNameBytes-len(ext)-len(suffix)) + suffix + ext
		if owner, ok := claimed[candidate]; !ok || owner == fileID {
			return candidate
		}
	}
}

func trimRunes(s string, limit int) string {
	if limit < 0 {
		limit = 0
	}
	for len(s) > limit {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}
