package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/mntdata/internal/attach"
	"github.com/mattjoyce/mntdata/internal/log"
)

func runWorkspaceNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printWorkspaceNounHelp(os.Stdout)
		if len(args) == 0 {
			return 1
		}
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "prepare":
		return runWorkspacePrepare(actionArgs)
	case "ls", "list":
		return runWorkspaceList(actionArgs)
	case "rm", "remove":
		return runWorkspaceRemove(actionArgs)
	case "prune":
		return runWorkspacePrune(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown workspace action: %s\n", action)
		return 1
	}
}

func printWorkspaceNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: mntdata workspace <action> [flags]")
	fmt.Fprintln(w, "Actions: prepare, ls, rm, prune")
	fmt.Fprintln(w, "  prepare --session ID [--json]   Link the session's attachments into its workspace")
	fmt.Fprintln(w, "  ls --session ID [--json]        List workspace files by virtual path")
	fmt.Fprintln(w, "  rm --session ID                 Delete the workspace directory")
	fmt.Fprintln(w, "  prune [--older-than DUR]        Delete idle workspaces (default workspace.retention)")
}

// workspaceFlags are shared by every workspace action.
type workspaceFlags struct {
	fs         *flag.FlagSet
	configPath *string
	sessionID  *string
	jsonOut    *bool
}

func newWorkspaceFlags(name string, withSession bool) *workspaceFlags {
	fs := flag.NewFlagSet("workspace "+name, flag.ContinueOnError)
	f := &workspaceFlags{
		fs:         fs,
		configPath: fs.String("config", "", "Path to configuration file or directory"),
		jsonOut:    fs.Bool("json", false, "Output JSON"),
	}
	if withSession {
		f.sessionID = fs.String("session", "", "Session id")
	}
	return f
}

func (f *workspaceFlags) parse(args []string) error {
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if f.sessionID != nil && *f.sessionID == "" {
		return errors.New("--session is required")
	}
	return nil
}

func runWorkspacePrepare(args []string) int {
	f := newWorkspaceFlags("prepare", true)
	if err := f.parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	s, code := openToolStack(*f.configPath)
	if s == nil {
		return code
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	refs, err := s.resolver.Resolve(ctx, *f.sessionID)
	if err != nil {
		if errors.Is(err, attach.ErrSessionNotFound) {
			fmt.Fprintf(os.Stderr, "Session not found: %s\n", *f.sessionID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	report, err := s.ws.Prepare(ctx, *f.sessionID, refs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *f.jsonOut {
		// Includes physical paths.
		return printJSON(report)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE ID\tNAME\tKIND\tDETAIL")
	for _, o := range report.Outcomes {
		detail := o.Reason
		if o.Err != nil {
			detail = o.Err.Error()
		} else if o.LinkError != "" {
			detail = "link failed, copied: " + o.LinkError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.FileID, o.Name, o.Kind, detail)
	}
	_ = tw.Flush()
	fmt.Printf("%d prepared, %d failed, %d skipped in %s\n",
		len(report.Prepared()), len(report.Failed()), len(report.Skipped()), report.Root)
	if len(report.Failed()) > 0 {
		return 2
	}
	return 0
}

func runWorkspaceList(args []string) int {
	f := newWorkspaceFlags("ls", true)
	if err := f.parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	s, code := openToolStack(*f.configPath)
	if s == nil {
		return code
	}
	defer s.Close()

	entries, err := s.ws.List(context.Background(), *f.sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *f.jsonOut {
		return printJSON(entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED\tLINK")
	for _, e := range entries {
		link := ""
		if e.Symlink {
			link = "symlink"
		}
		fmt.Fprintf(tw, "%s/%s\t%d\t%s\t%s\n", s.cfg.Workspace.VirtualPrefix, e.Path, e.Size,
			e.ModTime.UTC().Format(time.RFC3339), link)
	}
	_ = tw.Flush()
	return 0
}

func runWorkspaceRemove(args []string) int {
	f := newWorkspaceFlags("rm", true)
	if err := f.parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	s, code := openToolStack(*f.configPath)
	if s == nil {
		return code
	}
	defer s.Close()

	if err := s.ws.Remove(context.Background(), *f.sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Removed workspace for %s\n", *f.sessionID)
	return 0
}

func runWorkspacePrune(args []string) int {
	f := newWorkspaceFlags("prune", false)
	olderThan := f.fs.Duration("older-than", 0, "Idle age threshold (default workspace.retention)")
	if err := f.parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	s, code := openToolStack(*f.configPath)
	if s == nil {
		return code
	}
	defer s.Close()

	age := *olderThan
	if age == 0 {
		age = s.cfg.Workspace.Retention
	}
	report, err := s.ws.Cleanup(context.Background(), age)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *f.jsonOut {
		return printJSON(map[string]any{"deleted_dirs": report.DeletedDirs, "older_than": age.String()})
	}
	fmt.Printf("Pruned %d workspace(s) idle longer than %s\n", report.DeletedDirs, age)
	return 0
}

// openToolStack loads config and wires the stack for one-shot commands. It
// returns a nil stack and the exit code on failure.
func openToolStack(configPath string) (*stack, int) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}
	log.SetupTo(os.Stderr, "error", cfg.Service.LogFormat)

	s, err := openStack(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, 1
	}
	return s, 0
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
