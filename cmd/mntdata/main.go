package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/mntdata/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const configEnv = "MNTDATA_CONFIG"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "workspace":
		return runWorkspaceNoun(args)
	case "file":
		return runFileNoun(args)

	// --- VERBS ---
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "exec":
		if hasHelpFlag(args) {
			printExecHelp()
			return 0
		}
		return runExec(args)
	case "doctor":
		if hasHelpFlag(args) {
			printDoctorHelp()
			return 0
		}
		return runDoctor(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: mntdata version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("mntdata %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// loadConfig resolves the config from the flag, then MNTDATA_CONFIG, then
// ./config.yaml. With none of them present the built-in defaults are used.
func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		configPath = os.Getenv(configEnv)
	}
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
	}
	if configPath == "" {
		return config.Defaults(), "", nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func printUsage() {
	fmt.Print(`mntdata - /mnt/data workspaces for sandboxed code execution

Usage:
  mntdata <command> [flags]
  mntdata <noun> <action> [flags]

Commands:
  serve              Run the HTTP API in the foreground
  exec               Execute code for a session and print the result
  doctor             Validate configuration and environment
  watch              Real-time TUI over a running server
  version            Show version information

Workspace Commands:
  workspace prepare  Materialize a session's attachments
  workspace ls       List files in a session workspace
  workspace rm       Delete a session workspace
  workspace prune    Delete workspaces idle longer than the retention

File Commands:
  file add <path>    Register a local file in the catalog
  file attach        Attach a catalog file to a session
  file ls            List catalog files

General:
  --config PATH      Config file or directory (or MNTDATA_CONFIG)
  --version          Show version information
  help               Show this help message

Use 'mntdata <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printServeHelp() {
	fmt.Println("Usage: mntdata serve [--config PATH] [--listen ADDR]")
	fmt.Println("Run the HTTP API until SIGINT or SIGTERM. Holds the data directory lock.")
}

func printExecHelp() {
	fmt.Println("Usage: mntdata exec [--config PATH] [--session ID] (--code CODE | --file PATH|-) [--timeout DUR] [--json]")
	fmt.Println("Execute code with the session workspace mounted at the virtual prefix.")
	fmt.Println("Without --session the code runs statelessly.")
}

func printDoctorHelp() {
	fmt.Println("Usage: mntdata doctor [--config PATH] [--json] [--offline]")
	fmt.Println("Validate configuration, data directory, link support and gateway reachability.")
}

func printWatchHelp() {
	fmt.Println("Usage: mntdata watch [flags]")
	fmt.Println()
	fmt.Println("Real-time TUI over a running server: health, sessions and event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Server API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or MNTDATA_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate sessions")
}
