// dfl-vast is an interactive console for renting GPU instances on the
// Vast.ai marketplace and provisioning them with DeepFaceLab Desktop.
// It wraps the vastai CLI: searching offers, managing templates, creating
// instances, and following provisioning logs until the instance reports
// that it is ready.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/MannyJMusic/dfl-desktop/cli"
	"github.com/MannyJMusic/dfl-desktop/config"
	"github.com/MannyJMusic/dfl-desktop/console"
	"github.com/MannyJMusic/dfl-desktop/logger"
	"github.com/MannyJMusic/dfl-desktop/process"
	"github.com/MannyJMusic/dfl-desktop/vast"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var cmdErr *vast.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
			os.Exit(cmdErr.ExitCode)
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		binaryFlag  string
		apiKeyFlag  string
		ownerIDFlag string
		configFlag  string
		debugFlag   bool
		readmeFlag  bool
		checkFlag   bool
	)

	flagSet := pflag.NewFlagSet("dfl-vast", pflag.ContinueOnError)
	flagSet.StringVar(&binaryFlag, "vastai-binary", "", "path to the vastai CLI (default: vastai on PATH)")
	flagSet.StringVar(&apiKeyFlag, "api-key", "", "Vast.ai API key (overrides config file and VAST_API_KEY)")
	flagSet.StringVar(&ownerIDFlag, "owner-id", "", "account id used to mark templates as yours (overrides config file and VAST_OWNER_ID)")
	flagSet.StringVar(&configFlag, "config", "", "path to config file (default: XDG config dir)")
	flagSet.BoolVar(&debugFlag, "debug", false, "log at debug level")
	flagSet.BoolVar(&readmeFlag, "print-readme", false, "print setup instructions and exit")
	flagSet.BoolVar(&checkFlag, "check", false, "check prerequisites and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Println("Usage: dfl-vast [flags]")
		fmt.Println()
		fmt.Println(flagSet.FlagUsages())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	if readmeFlag {
		console.PrintReadme(os.Stdout)
		return nil
	}

	cfg, err := config.LoadAndMerge(configFlag)
	if err != nil {
		return err
	}
	if binaryFlag != "" {
		cfg.Binary = binaryFlag
	}
	apiKey := cfg.ResolveAPIKey(apiKeyFlag)
	ownerID := cfg.ResolveOwnerID(ownerIDFlag)

	if logPath, err := logger.DefaultLogPath(); err == nil {
		if err := logger.Init(logPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
		}
	}
	defer logger.Close()
	logger.SetDebug(debugFlag || cfg.Debug)

	prereqs := cli.DefaultPrerequisites(cfg.Binary)
	if checkFlag {
		fmt.Print(cli.FormatCheckResults(cli.CheckAll(prereqs)))
		return cli.ValidateRequired(prereqs)
	}
	if err := cli.ValidateRequired(prereqs); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := vast.NewClient(cfg.Binary, apiKey)
	resolver := vast.NewResolver(client, ownerID)

	cleanupOrphans(ctx, client)

	if err := console.New(client, resolver, cfg, os.Stdin, os.Stdout).Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "\ninterrupted")
			os.Exit(130)
		}
		return err
	}
	return nil
}

// cleanupOrphans kills leftover `vastai logs --follow` processes from
// previous sessions that no longer match a live instance. Best-effort:
// a failed instance listing just skips the sweep.
func cleanupOrphans(ctx context.Context, client *vast.Client) {
	log := logger.WithComponent("startup")
	known := make(map[string]bool)
	instances, err := client.ShowInstances(ctx)
	if err != nil {
		log.Warn("orphan sweep skipped, instance listing failed", "error", err)
		return
	}
	for _, inst := range instances {
		if id := vast.ExtractInstanceID(inst); id != "" {
			known[id] = true
		}
	}
	killed, err := process.CleanupOrphanedLogStreams(known)
	if err != nil {
		log.Warn("orphan sweep incomplete", "error", err)
	}
	if killed > 0 {
		fmt.Fprintf(os.Stderr, "cleaned up %d orphaned log stream(s)\n", killed)
	}
}
