package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/mntdata/internal/doctor"
	"github.com/mattjoyce/mntdata/internal/kernel"
	"github.com/mattjoyce/mntdata/internal/tui/watch"
)

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON")
	offline := fs.Bool("offline", false, "Skip the gateway reachability check")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	var opts []doctor.Option
	if !*offline {
		client, err := kernel.New(kernel.Config{
			URL:      cfg.Gateway.URL,
			Token:    cfg.Gateway.Token,
			Username: cfg.Gateway.Username,
			Timeout:  cfg.Gateway.Timeout,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid gateway config: %v\n", err)
			return 1
		}
		opts = append(opts, doctor.WithPinger(client))
	}

	result := doctor.New(cfg, opts...).Validate(context.Background())
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Server API URL")
	apiKey := fs.String("api-key", os.Getenv("MNTDATA_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or MNTDATA_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
