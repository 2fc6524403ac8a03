package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/mntdata/internal/catalog"
)

func runFileNoun(args []string) int {
	if len(args) == 0 || isHelpToken(args[0]) {
		printFileNounHelp(os.Stdout)
		if len(args) == 0 {
			return 1
		}
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "add":
		return runFileAdd(actionArgs)
	case "attach":
		return runFileAttach(actionArgs)
	case "ls", "list":
		return runFileList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown file action: %s\n", action)
		return 1
	}
}

func printFileNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: mntdata file <action> [flags]")
	fmt.Fprintln(w, "Actions: add, attach, ls")
	fmt.Fprintln(w, "  add [--name NAME] [--user ID] [--session ID] PATH   Register a local file; optionally attach it")
	fmt.Fprintln(w, "  attach --session ID --file-id ID [--message ID]     Attach a catalog file to a session")
	fmt.Fprintln(w, "  ls [--user ID] [--limit N] [--json]                 List catalog files, newest first")
}

func runFileAdd(args []string) int {
	fs := flag.NewFlagSet("file add", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	name := fs.String("name", "", "Display name (default: base name of PATH)")
	userID := fs.String("user", "", "Owning user id")
	sessionID := fs.String("session", "", "Attach the new file to this session")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: mntdata file add [--name NAME] [--user ID] [--session ID] PATH")
		return 1
	}

	f, err := catalog.FileFromPath(fs.Arg(0), *name, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	s, exit := openToolStack(*configPath)
	if s == nil {
		return exit
	}
	defer s.Close()

	ctx := context.Background()
	f, err = s.catalog.AddFile(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *sessionID != "" {
		if err := s.catalog.Attach(ctx, *sessionID, f.ID, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Added %s but attach failed: %v\n", f.ID, err)
			return 1
		}
	}
	fmt.Println(f.ID)
	return 0
}

func runFileAttach(args []string) int {
	fs := flag.NewFlagSet("file attach", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	sessionID := fs.String("session", "", "Session id")
	fileID := fs.String("file-id", "", "Catalog file id")
	messageID := fs.String("message", "", "Message the attachment belongs to")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *sessionID == "" || *fileID == "" {
		fmt.Fprintln(os.Stderr, "Flag error: --session and --file-id are required")
		return 1
	}

	s, exit := openToolStack(*configPath)
	if s == nil {
		return exit
	}
	defer s.Close()

	if err := s.catalog.Attach(context.Background(), *sessionID, *fileID, *messageID); err != nil {
		if errors.Is(err, catalog.ErrFileNotFound) {
			fmt.Fprintf(os.Stderr, "File not found: %s\n", *fileID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Attached %s to %s\n", *fileID, *sessionID)
	return 0
}

func runFileList(args []string) int {
	fs := flag.NewFlagSet("file ls", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	userID := fs.String("user", "", "Only files owned by this user")
	limit := fs.Int("limit", 50, "Maximum number of files")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	s, exit := openToolStack(*configPath)
	if s == nil {
		return exit
	}
	defer s.Close()

	files, err := s.catalog.ListFiles(context.Background(), *userID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(files)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tCREATED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", f.ID, f.Filename, f.ContentType, f.Size,
			f.CreatedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
	return 0
}
