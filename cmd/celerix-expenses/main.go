package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/celerix-dev/celerix-expenses/internal/auth"
	"github.com/celerix-dev/celerix-expenses/internal/blobstore"
	"github.com/celerix-dev/celerix-expenses/internal/config"
	"github.com/celerix-dev/celerix-expenses/internal/engine"
	"github.com/celerix-dev/celerix-expenses/internal/report"
	"github.com/celerix-dev/celerix-expenses/pkg/sdk"
)

type options struct {
	configPath string
	sort       string
	search     string
	page       int
	perPage    int
	out        string
	legacy     bool
	timeout    time.Duration
}

func main() {
	var opts options
	flagSet := pflag.NewFlagSet("celerix-expenses", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", os.Getenv(config.ConfigEnvVar), "YAML config for local commands")
	flagSet.StringVar(&opts.sort, "sort", engine.SortRecent, "list order: recent, name or date")
	flagSet.StringVarP(&opts.search, "query", "q", "", "filter list by name, email, phone or budget")
	flagSet.IntVar(&opts.page, "page", 1, "list page")
	flagSet.IntVar(&opts.perPage, "per-page", 0, "list page size (server default when 0)")
	flagSet.StringVarP(&opts.out, "out", "o", "", "output file for pdf (default expense-report-<id>.pdf)")
	flagSet.BoolVar(&opts.legacy, "sha256", false, "hash-password: emit the legacy sha256 hex format")
	flagSet.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall command timeout")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatal(err)
	}
	args := flagSet.Args()
	if len(args) < 1 {
		printUsage(flagSet)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	command := strings.ToLower(args[0])
	args = args[1:]

	switch command {
	case "hash-password":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-expenses hash-password <password> [--sha256]")
		}
		if opts.legacy {
			fmt.Println(auth.SHA256Hex(args[0]))
			return
		}
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(hash)

	case "migrate", "reindex":
		repo, closeStore := openLocal(ctx, opts.configPath)
		defer closeStore()
		if command == "migrate" {
			res, err := repo.Migrate(ctx)
			if err != nil {
				log.Fatal(err)
			}
			printJSON(res)
			return
		}
		res, err := repo.Reindex(ctx)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(res)

	default:
		runRemote(ctx, command, args, opts)
	}
}

// openLocal opens the configured blob store directly, bypassing the daemon.
func openLocal(ctx context.Context, configPath string) (*engine.Repository, func()) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	store, closer, err := blobstore.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open %s blob store: %v", cfg.Store.Backend, err)
	}
	return engine.New(store, engine.OptionsFromConfig(cfg.Repository, logger)), func() { closer.Close() }
}

func runRemote(ctx context.Context, command string, args []string, opts options) {
	client, err := sdk.New(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	switch command {
	case "health":
		n, err := client.Health(ctx)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("OK (%d blobs)\n", n)

	case "list":
		listing, err := client.List(ctx, engine.Query{
			Sort:    opts.sort,
			Search:  opts.search,
			Page:    opts.page,
			PerPage: opts.perPage,
		})
		if err != nil {
			log.Fatal(err)
		}
		printJSON(listing)

	case "get":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-expenses get <id>")
		}
		s, err := client.Get(ctx, args[0])
		if err != nil {
			log.Fatal(err)
		}
		printJSON(s)

	case "reimburse", "unreimburse":
		if len(args) < 1 {
			log.Fatalf("Usage: celerix-expenses %s <id>", command)
		}
		if err := client.SetReimbursed(ctx, args[0], command == "reimburse"); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "delete":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-expenses delete <id>")
		}
		if err := client.Delete(ctx, args[0]); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	case "pdf":
		if len(args) < 1 {
			log.Fatal("Usage: celerix-expenses pdf <id> [-o file]")
		}
		body, err := client.PDF(ctx, args[0])
		if err != nil {
			log.Fatal(err)
		}
		out := opts.out
		if out == "" {
			out = report.Filename(args[0])
		}
		if err := os.WriteFile(out, body, 0o644); err != nil {
			log.Fatal(err)
		}
		fmt.Println(out)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(2)
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Println("celerix-expenses - admin CLI for the Celerix expenses service")
	fmt.Println("\nLocal commands (open the configured blob store):")
	fmt.Println("  celerix-expenses hash-password <password> [--sha256]")
	fmt.Println("  celerix-expenses migrate")
	fmt.Println("  celerix-expenses reindex")
	fmt.Println("\nRemote commands (talk to a running daemon):")
	fmt.Println("  celerix-expenses health")
	fmt.Println("  celerix-expenses list [--sort recent|name|date] [-q text] [--page n] [--per-page n]")
	fmt.Println("  celerix-expenses get <id>")
	fmt.Println("  celerix-expenses reimburse <id>")
	fmt.Println("  celerix-expenses unreimburse <id>")
	fmt.Println("  celerix-expenses delete <id>")
	fmt.Println("  celerix-expenses pdf <id> [-o file]")
	fmt.Println("\nFlags:")
	fmt.Print(flagSet.FlagUsages())
	fmt.Println("\nEnvironment Variables:")
	fmt.Printf("  %-28s Daemon URL (default: %s)\n", sdk.EnvURL, sdk.DefaultURL)
	fmt.Printf("  %-28s Admin password for remote commands\n", sdk.EnvPassword)
	fmt.Printf("  %-28s Config file for local commands\n", config.ConfigEnvVar)
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
