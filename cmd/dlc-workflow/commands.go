package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/datajoint/workflow-deeplabcut/internal/api"
	"github.com/datajoint/workflow-deeplabcut/internal/config"
	"github.com/datajoint/workflow-deeplabcut/internal/db"
	"github.com/datajoint/workflow-deeplabcut/internal/paths"
	"github.com/datajoint/workflow-deeplabcut/internal/pipeline"
	"github.com/datajoint/workflow-deeplabcut/internal/version"
)

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "dlc-workflow %s\n", version.String())
}

func runActivate(cfg *config.Config, database *db.DB, w io.Writer) error {
	p, err := pipeline.Activate(context.Background(), cfg, database)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tNAMESPACE\tVERSION\tAPPLIED\tSEEDED")
	for _, r := range p.Results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%d\n", r.Module, r.Namespace, r.Version, r.Applied, r.Seeded)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s\n", p.RunID())
	return nil
}

func runPaths(cfg *config.Config, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("paths", flag.ContinueOnError)
	create := fs.Bool("create", false, "Create the processed output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resolver := paths.NewResolver(cfg, nil)
	roots := resolver.RootDataDirs()
	if len(roots) == 0 {
		fmt.Fprintln(w, "root data directories: (none)")
	} else {
		fmt.Fprintln(w, "root data directories:")
		for _, r := range roots {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}

	var (
		dir string
		err error
	)
	if *create {
		dir, err = resolver.EnsureProcessedDir()
	} else {
		dir, err = resolver.ProcessedDataDir()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "processed data directory: %s\n", dir)
	return nil
}

func runStatus(cfg *config.Config, database *db.DB, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	logRows := fs.Int("log", 10, "Number of activation log rows to show (0 hides the log)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	results, err := pipeline.Status(ctx, cfg, database)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tNAMESPACE\tVERSION")
	for _, r := range results {
		v := "-"
		if r.Applied {
			v = fmt.Sprint(r.Version)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Module, r.Namespace, v)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if *logRows <= 0 {
		return nil
	}
	entries, err := database.Activations(ctx, *logRows)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTIVATED\tRUN\tMODULE\tNAMESPACE\tVERSION\tAPPLIED")
	for _, a := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%v\n",
			time.Unix(0, a.ActivatedAt).UTC().Format(time.RFC3339), a.RunID, a.Module, a.Namespace, a.Version, a.Applied)
	}
	return tw.Flush()
}

var errDropNeedsForce = errors.New("refusing to drop schemas without -force")

func runDrop(cfg *config.Config, database *db.DB, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("drop", flag.ContinueOnError)
	force := fs.Bool("force", false, "Really drop every table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		return errDropNeedsForce
	}
	if err := pipeline.Drop(context.Background(), cfg, database); err != nil {
		return err
	}
	fmt.Fprintf(w, "dropped schemas under prefix %q\n", cfg.DatabasePrefix())
	return nil
}

func runServe(cfg *config.Config, database *db.DB, dbCfg config.Database, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "localhost:8080", "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen == "" {
		return errors.New("listen address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Activate(ctx, cfg, database)
	if err != nil {
		return err
	}

	mux := api.NewServer(cfg, database, p).ServeMux()
	label := dbCfg.Path
	if dbCfg.Backend == "postgres" {
		label = fmt.Sprintf("%s:%d/%s", dbCfg.Host, dbCfg.Port, dbCfg.Name)
	}
	if err := database.AttachAdminRoutes(mux, label); err != nil {
		return err
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/debug/", http.StatusFound)
	})

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("serving debug UI on http://%s/debug/", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Print("server stopped")
	return nil
}
