// ABOUTME: Entry point for the scheduler-gateway authentication server
// ABOUTME: Subcommands serve the gateway, check its health and mint account keys and user tokens

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/scheduler-gateway/internal/config"
	"github.com/2389/scheduler-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _              _       _                                 _
 ___  ___| |__   ___  __| |_   _| | ___ _ __       __ ___      __ | |
/ __|/ __| '_ \ / _ \/ _' | | | | |/ _ \ '__|____ / _' \ \ /\ / / | |
\__ \ (__| | | |  __/ (_| | |_| | |  __/ | |_____| (_| |\ V  V /  |_|
|___/\___|_| |_|\___|\__,_|\__,_|_|\___|_|        \__, | \_/\_/   (_)
                                                  |___/
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: scheduler-gateway <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                  Start the gateway server")
	fmt.Fprintln(w, "  health                 Check gateway health")
	fmt.Fprintln(w, "  keygen                 Generate an RSA key pair for signing user tokens")
	fmt.Fprintln(w, "  token --key FILE ...   Sign a user token with an account's private key")
	fmt.Fprintln(w, "  version                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "health":
		err = runHealth(ctx, args, os.Stdout)
	case "keygen":
		err = runKeygen(args, os.Stdout)
	case "token":
		err = runToken(args, os.Stdout)
	case "version", "--version":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseConfigFlag handles the --config flag shared by serve and health.
func parseConfigFlag(name string, args []string) (string, error) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "config file (default: $SCHEDULER_GATEWAY_CONFIG or XDG config dir)")
	if err := flagSet.Parse(args); err != nil {
		return "", err
	}
	if flagSet.NArg() > 0 {
		return "", fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if *configPath == "" {
		return config.DefaultPath(), nil
	}
	return *configPath, nil
}

func runServe(ctx context.Context, args []string) error {
	configPath, err := parseConfigFlag("serve", args)
	if err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", cfg.Database.Driver)
	if cfg.Cache.Redis.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Key cache: ")
		cyan.Println(cfg.Cache.Redis.Addr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Accounts:  ")
	if cfg.Auth.AccountCreation == "open" {
		yellow.Println("open registration")
	} else {
		fmt.Println(cfg.Auth.AccountCreation)
	}
	fmt.Println()

	logger.Info("starting scheduler-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	configPath, err := parseConfigFlag("health", args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return checkHealth(ctx, "http://"+cfg.Server.HTTPAddr, out)
}

// checkHealth asks the readiness endpoint at baseURL and prints its answer.
func checkHealth(ctx context.Context, baseURL string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintf(out, "healthy: %s\n", body)
	return nil
}
