package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattjoyce/mntdata/internal/interpreter"
)

func runExec(args []string) int {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	sessionID := fs.String("session", "", "Session id (empty runs statelessly)")
	userID := fs.String("user", "", "User id recorded on generated outputs")
	codeArg := fs.String("code", "", "Code to execute")
	codeFile := fs.String("file", "", "Read code from PATH, or - for stdin")
	timeout := fs.Duration("timeout", 0, "Execution timeout (default gateway.timeout)")
	jsonOut := fs.Bool("json", false, "Print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	src, err := readCode(*codeArg, *codeFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	s, exit := openToolStack(*configPath)
	if s == nil {
		return exit
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, runErr := s.exec.Run(ctx, interpreter.Request{
		SessionID: *sessionID,
		UserID:    *userID,
		Code:      src,
		Timeout:   *timeout,
	})

	if *jsonOut {
		if err := printExecJSON(res, runErr); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
			return 1
		}
	} else {
		printExecResult(res, runErr)
	}
	if runErr != nil || res.Status == "error" {
		return 1
	}
	return 0
}

func readCode(code, path string) (string, error) {
	switch {
	case code != "" && path != "":
		return "", errors.New("use either --code or --file, not both")
	case code != "":
		return code, nil
	case path == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", errors.New("--code or --file is required")
	}
}

type execJSON struct {
	*interpreter.Result
	Error string            `json:"error,omitempty"`
	Stage interpreter.Stage `json:"failed_stage,omitempty"`
}

func printExecJSON(res *interpreter.Result, runErr error) error {
	out := execJSON{Result: res}
	if runErr != nil {
		out.Error = runErr.Error()
		var se *interpreter.StageError
		if errors.As(runErr, &se) {
			out.Stage = se.Stage
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printExecResult(res *interpreter.Result, runErr error) {
	if res != nil {
		if res.Stdout != "" {
			fmt.Print(withNewline(res.Stdout))
		}
		if res.Result != "" {
			fmt.Print(withNewline(res.Result))
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, withNewline(res.Stderr))
		}
		for _, a := range res.Attachments {
			fmt.Fprintf(os.Stderr, "attachment %s: %s (%s)\n", a.FileID, a.Name, a.Kind)
		}
		for _, f := range res.Files {
			fmt.Printf("generated %s %s (%d bytes) %s\n", f.ID, f.Name, f.Size, f.URL)
		}
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
	}
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
