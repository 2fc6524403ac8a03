package interpreter

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/mattjoyce/mntdata/internal/workspace"
)

// BuildPrompt appends an "Available Files" section describing files to base.
// Names are shown as Prepare places them in the workspace, collision
// suffixes included. With no usable files base is returned unchanged.
func BuildPrompt(base, virtual string, files []workspace.FileRef) string {
	if virtual == "" {
		virtual = DefaultVirtualPrefix
	}

	var names []string
	var lines []string
	seen := make(map[string]struct{}, len(files))
	claimed := make(workspace.NameClaims, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.FileID) == "" {
			continue
		}
		if _, dup := seen[f.FileID]; dup {
			continue
		}
		seen[f.FileID] = struct{}{}
		name := claimed.Claim(f.DisplayName, f.FileID)
		if name == "" {
			continue
		}
		names = append(names, name)
		lines = append(lines, fmt.Sprintf("- `%s`%s", name, humanSize(f.Size)))
	}
	if len(names) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n#### Available Files\n")
	fmt.Fprintf(&b, "The following files are available in your `%s` directory:\n", virtual)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "You can access these files directly using their filenames in `%s/`. For example:\n", virtual)
	b.WriteString("```python\n")
	b.WriteString("import pandas as pd\n")
	b.WriteString(exampleRead(virtual, names[0]))
	b.WriteString("```\n\n")
	fmt.Fprintf(&b, "**Important**: Save and persist output only if the user requests the format in Excel, CSV, or PDF file formats in the '%s' directory.", virtual)
	return b.String()
}

func exampleRead(virtual, name string) string {
	p := virtual + "/" + name
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return fmt.Sprintf("df = pd.read_csv('%s')\n", p)
	case ".xlsx", ".xls":
		return fmt.Sprintf("df = pd.read_excel('%s')\n", p)
	case ".json":
		return fmt.Sprintf("import json\nwith open('%s', 'r') as f:\n    data = json.load(f)\n", p)
	default:
		return fmt.Sprintf("# Process %s\nwith open('%s', 'r') as f:\n    content = f.read()\n", name, p)
	}
}

func humanSize(n int64) string {
	switch {
	case n <= 0:
		return ""
	case n > 1024*1024:
		return fmt.Sprintf(" (%.1f MB)", float64(n)/(1024*1024))
	case n > 1024:
		return fmt.Sprintf(" (%.1f KB)", float64(n)/1024)
	default:
		return fmt.Sprintf(" (%d bytes)", n)
	}
}

// Prompt builds the prompt for a session from its resolved attachments.
func (e *Executor) Prompt(ctx context.Context, sessionID, base string) (string, error) {
	if e.resolver == nil || sessionID == "" {
		return base, nil
	}
	refs, err := e.resolver.Resolve(ctx, sessionID)
	if err != nil {
		return base, err
	}
	return BuildPrompt(base, e.virtual, refs), nil
}
