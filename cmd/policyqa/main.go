// Command policyqa runs the insurance question-answering service.
//
// Usage:
//
//	policyqa serve --config config.yaml --addr :8080
//	policyqa ask --config config.yaml "Is a rental car covered after an accident?"
//	policyqa ingest --config config.yaml chunks.json
//	policyqa version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/coverbot/policyqa"
	"github.com/coverbot/policyqa/config"
	"github.com/coverbot/policyqa/types"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "ask":
		err = runAsk(os.Args[2:])
	case "ingest":
		err = runIngest(os.Args[2:])
	case "version":
		fmt.Printf("policyqa %s\n", version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: policyqa <serve|ask|ingest|version> [flags]`)
}

func buildSystem(configPath string) (*policyqa.System, error) {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		return nil, err
	}
	return policyqa.New(cfg)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "configuration file")
	addr := fs.String("addr", ":8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sys, err := buildSystem(*configPath)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys.Logger.Info("starting server", zap.String("addr", *addr), zap.String("version", version))
	return newServer(sys, *addr).run(ctx)
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "configuration file")
	domain := fs.String("domain", "", "declared insurance domain")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("ask expects exactly one question argument")
	}

	sys, err := buildSystem(*configPath)
	if err != nil {
		return err
	}
	defer sys.Close()

	resp, err := sys.Answer(context.Background(), fs.Arg(0), types.Domain(*domain))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("ingest expects exactly one chunks file argument")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	var chunks []types.DocumentChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return fmt.Errorf("failed to parse chunks file: %w", err)
	}

	sys, err := buildSystem(*configPath)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.Ingest(context.Background(), chunks); err != nil {
		return err
	}
	sys.Logger.Info("chunks ingested", zap.Int("count", len(chunks)))
	return nil
}
