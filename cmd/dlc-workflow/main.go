// Command dlc-workflow activates the DeepLabCut workflow schemas and
// reports on the configured data directories.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/datajoint/workflow-deeplabcut/internal/config"
	"github.com/datajoint/workflow-deeplabcut/internal/db"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to a JSON or YAML configuration file")
	dbPath     = flag.String("db", "", "SQLite database file (overrides database.path)")
	envFile    = flag.String("env", "", "dotenv file to load (default .env)")
)

func main() {
	flag.Usage = func() { printUsage(flag.CommandLine.Output()) }
	flag.Parse()

	command := "activate"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "version":
		printVersion(os.Stdout)
		return
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	}

	cfg, err := loadConfig(*configPath, *dbPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if command == "paths" {
		if err := runPaths(cfg, args, os.Stdout); err != nil {
			log.Fatalf("paths: %v", err)
		}
		return
	}

	dbCfg, err := cfg.Database()
	if err != nil {
		log.Fatalf("Invalid database configuration: %v", err)
	}
	database, err := db.Open(dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	switch command {
	case "activate":
		err = runActivate(cfg, database, os.Stdout)
	case "status":
		err = runStatus(cfg, database, args, os.Stdout)
	case "drop":
		err = runDrop(cfg, database, args, os.Stdout)
	case "serve":
		err = runServe(cfg, database, dbCfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		// Fatal exits without running deferred calls.
		database.Close()
		log.Fatalf("%s: %v", command, err)
	}
}

// loadConfig reads the configuration file, applies dotenv and DJ_*
// overrides, then the -db flag.
func loadConfig(path, dbOverride, envFile string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if envFile != "" {
		cfg = config.ApplyEnv(cfg, envFile)
	} else {
		cfg = config.ApplyEnv(cfg)
	}
	if dbOverride != "" {
		cfg = cfg.With("database.backend", config.DefaultBackend).With("database.path", dbOverride)
	}
	return cfg, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: dlc-workflow [flags] <command> [command flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  activate            Activate every schema under the configured prefix (default)")
	fmt.Fprintln(w, "  paths [-create]     Print the root data and processed output directories")
	fmt.Fprintln(w, "  status [-log N]     Print the schema version of every module")
	fmt.Fprintln(w, "  serve [-listen A]   Serve the SQL debug UI over the pipeline database")
	fmt.Fprintln(w, "  drop -force         Drop every schema in reverse activation order")
	fmt.Fprintln(w, "  version             Print build information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
}
