// Package outputs detects business-format files produced by executed code.
//
// A Capture snapshots the workspace before execution and, afterwards, reports
// only files that are new, regular and carry an allowed extension.
package outputs

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Default policy values.
var (
	DefaultFormats        = []string{"xlsx", "xls", "csv", "pdf"}
	DefaultFormatKeywords = []string{"excel", "csv", "pdf", ".xlsx", ".xls", ".csv", ".pdf"}
	DefaultIntentKeywords = []string{"save", "export", "write", "to_excel", "to_csv", "savefig"}
	DefaultExclude        = []string{"**/.ipynb_checkpoints/**", "**/__pycache__/**", "**/~$*"}
)

// Policy decides which executions are tracked and which files count as
// outputs. Formats are extensions without the leading dot.
type Policy struct {
	Formats        []string
	FormatKeywords []string
	IntentKeywords []string
	Exclude        []string
}

// DefaultPolicy returns the spreadsheet/table/document policy.
func DefaultPolicy() Policy {
	return Policy{
		Formats:        append([]string(nil), DefaultFormats...),
		FormatKeywords: append([]string(nil), DefaultFormatKeywords...),
		IntentKeywords: append([]string(nil), DefaultIntentKeywords...),
		Exclude:        append([]string(nil), DefaultExclude...),
	}
}

// WithDefaults fills empty fields. Format keywords are derived from Formats
// when unset.
func (p Policy) WithDefaults() Policy {
	if len(p.Formats) == 0 {
		p.Formats = append([]string(nil), DefaultFormats...)
	}
	formats := make([]string, 0, len(p.Formats))
	for _, f := range p.Formats {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if f != "" {
			formats = append(formats, f)
		}
	}
	p.Formats = formats

	if len(p.FormatKeywords) == 0 {
		p.FormatKeywords = deriveFormatKeywords(p.Formats)
	}
	if len(p.IntentKeywords) == 0 {
		p.IntentKeywords = append([]string(nil), DefaultIntentKeywords...)
	}
	if p.Exclude == nil {
		p.Exclude = append([]string(nil), DefaultExclude...)
	}
	return p
}

func deriveFormatKeywords(formats []string) []string {
	var kws []string
	excel := false
	for _, f := range formats {
		kws = append(kws, f, "."+f)
		if f == "xlsx" || f == "xls" {
			excel = true
		}
	}
	if excel {
		kws = append(kws, "excel")
	}
	return kws
}

// Decision explains a ShouldTrack verdict.
type Decision struct {
	Track     bool `json:"track"`
	HasFormat bool `json:"has_format"`
	HasIntent bool `json:"has_intent"`
}

// ShouldTrack reports whether code mentions both an output format and a
// save/export/write intent. Matching is case-insensitive substring search.
func (p Policy) ShouldTrack(code string) Decision {
	if strings.TrimSpace(code) == "" {
		return Decision{}
	}
	lower := strings.ToLower(code)
	d := Decision{
		HasFormat: containsAny(lower, p.FormatKeywords),
		HasIntent: containsAny(lower, p.IntentKeywords),
	}
	d.Track = d.HasFormat && d.HasIntent
	return d
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Format returns the lowercase extension of rel without the dot, or "" when
// rel has no extension.
func Format(rel string) string {
	ext := path.Ext(rel)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// Allowed reports whether the slash-separated relative path has an allowed
// extension and is not excluded.
func (p Policy) Allowed(rel string) bool {
	format := Format(rel)
	if format == "" {
		return false
	}
	found := false
	for _, f := range p.Formats {
		if strings.EqualFold(f, format) {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	return !p.Excluded(rel)
}

// Excluded reports whether rel matches any exclude glob.
func (p Policy) Excluded(rel string) bool {
	for _, pattern := range p.Exclude {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// ContentType maps a format to its MIME type.
func ContentType(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "csv":
		return "text/csv"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "xls":
		return "application/vnd.ms-excel"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
