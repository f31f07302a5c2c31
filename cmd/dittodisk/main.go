package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/config"
)

const usage = `DittoDisk - multi-tenant file tree engine

Usage:
  dittodisk <command> [flags] [args]

Commands:
  init                          Write a default configuration file
  provision <user> [role]       Create an account and its storage roots
  check [user]                  Verify tree consistency (all accounts by default)
  export <user> <folder-id> <out.zip|s3>
                                Archive a folder to a file or the S3 sink
  serve                         Run the metrics server and periodic checker

Run 'dittodisk <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = runInit(args)
	case "provision":
		err = runProvision(args)
	case "check":
		err = runCheck(args)
	case "export":
		err = runExport(args)
	case "serve":
		err = runServe(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	_ = logger.Sync()
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// newFlagSet returns a flag set carrying the common --config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittodisk/config.yaml)")
	return fs, configPath
}

// loadRuntime loads the configuration, configures logging and builds the
// runtime.
func loadRuntime(ctx context.Context, configPath string) (*config.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	return config.InitializeRuntime(ctx, cfg)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file")
	path := fs.String("config", "", "Where to write the config file (default: $XDG_CONFIG_HOME/dittodisk/config.yaml)")
	_ = fs.Parse(args)

	target := *path
	if target == "" {
		target = config.GetDefaultConfigPath()
	}
	if err := config.InitConfigToPath(target, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", target)
	return nil
}

func runProvision(args []string) error {
	fs, configPath := newFlagSet("provision")
	_ = fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New("usage: dittodisk provision [--config path] <user> [role]")
	}

	ctx := context.Background()
	rt, err := loadRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	role := rt.Config.Quota.DefaultRole
	if fs.NArg() == 2 {
		role = fs.Arg(1)
	}

	acct, err := rt.Tree.Provision(ctx, fs.Arg(0), role)
	if err != nil {
		return err
	}

	fmt.Printf("Provisioned %s (role %s, root %s)\n", acct.Username, acct.Role, acct.RootID)
	return nil
}

func runCheck(args []string) error {
	fs, configPath := newFlagSet("check")
	physical := fs.Bool("physical", false, "Also verify content presence and sizes (implied by check.physical)")
	_ = fs.Parse(args)

	ctx := context.Background()
	rt, err := loadRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(ctx) }()

	checker := rt.Checker
	if *physical && !rt.Config.Check.Physical {
		if checker, err = newPhysicalChecker(rt); err != nil {
			return err
		}
	}

	var users []string
	if fs.NArg() > 0 {
		users = fs.Args()
	}

	reports, err := checkUsers(ctx, checker, users)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range reports {
		fmt.Println(r.Summary())
		for _, f := range r.Findings {
			fmt.Printf("  %s\n", f)
		}
		if !r.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d account(s) inconsistent", failed, len(reports))
	}
	return nil
}

func runExport(args []string) error {
	fs, configPath := newFlagSet("export")
	_ = fs.Parse(args)
	if fs.NArg() != 3 {
		return errors.New("usage: dittodisk export [--config path] <user> <folder-id> <out.zip|s3>")
	}

	folderID, err := uuid.Parse(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("invalid folder id: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := loadRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	sess, err := rt.Tree.StartSession(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	if dest := fs.Arg(2); dest == "s3" {
		if rt.Sink == nil {
			return errors.New("archive.s3 is not enabled")
		}
		key, err := rt.Sink.Upload(ctx, sess, folderID)
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded s3://%s/%s\n", rt.Config.Archive.S3.Bucket, key)
		return nil
	}

	return exportToFile(ctx, rt, sess, folderID, fs.Arg(2))
}

func runServe(args []string) error {
	fs, configPath := newFlagSet("serve")
	_ = fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("DittoDisk - multi-tenant file tree engine")

	rt, err := loadRuntime(ctx, *configPath)
	if err != nil {
		return err
	}
	cfg := rt.Config
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Metadata store: %s", cfg.Metadata.Type)
	logger.Info("Content roots: live=%s recycle=%s", cfg.Storage.LiveRoot, cfg.Storage.RecycleRoot)

	rt.Checker.Start()

	serverDone := make(chan error, 1)
	if rt.Metrics.Server != nil {
		go func() {
			serverDone <- rt.Metrics.Server.Start(ctx)
		}()
	} else {
		logger.Info("Metrics disabled; only the periodic checker runs")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("DittoDisk is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()
		if rt.Metrics.Server != nil {
			runErr = <-serverDone
		}
	case runErr = <-serverDone:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr == nil {
		logger.Info("DittoDisk stopped gracefully")
	}
	return runErr
}
