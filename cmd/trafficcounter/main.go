package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"trafficcounter/internal/app"
	"trafficcounter/internal/capture"
	"trafficcounter/internal/config"
	"trafficcounter/internal/frame"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/repository/sqlite"
	"trafficcounter/internal/storage"
)

const version = "0.1.0"

const usage = `Usage: trafficcounter <command> [flags]

Commands:
  serve      run the HTTP server (default)
  snapshot   capture one frame and write it to a file
  migrate    manage the snapshot catalogue (up, down, version, import)
  version    print the version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(args)
	case "snapshot":
		err = snapshot(args, stdout)
	case "migrate":
		err = migrate(args, stdout)
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, version)
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	application, err := app.NewApp(config.Load())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// not running under systemd is not an error
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer daemon.SdNotify(false, daemon.SdNotifyStopping)

	return application.Run(ctx)
}

func snapshot(args []string, stdout io.Writer) error {
	cfg := config.Load()

	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	videoURL := fs.String("video-url", cfg.VideoURL, "Video source to capture from")
	path := fs.String("filepath", "snapshot.jpg", "Output image path; the extension selects the encoding")
	if err := fs.Parse(args); err != nil {
		return err
	}

	enc, err := frame.ParseEncoding(filepath.Ext(*path))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(*path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := capture.Snapshot(*videoURL, enc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*path, f.Data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	fmt.Fprintf(stdout, "Saved %dx%d snapshot to %s\n", f.Width, f.Height, *path)
	return nil
}

func migrate(args []string, stdout io.Writer) error {
	cfg := config.Load()

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DatabasePath, "Database path")
	dir := fs.String("snapshots", cfg.SnapshotDir, "Directory containing snapshots, used by import")
	if err := fs.Parse(args); err != nil {
		return err
	}
	action := "up"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	migLog := logger.New(stdout)
	db, err := sqlite.New(*dbPath, migLog)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	switch action {
	case "up":
		// sqlite.New has already applied pending migrations
	case "down":
		if err := db.MigrateDown(); err != nil {
			return err
		}
	case "import":
		store := storage.NewSnapshotStore(*dir, sqlite.NewSnapshotRepository(db), migLog)
		added, skipped, err := store.Import()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Imported %d snapshots from %s\n", added, *dir)
		if skipped > 0 {
			fmt.Fprintf(stdout, "Skipped %d files with unrecognised names\n", skipped)
		}
		return nil
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}

	v, dirty, err := db.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Schema version %d (dirty: %v)\n", v, dirty)
	return nil
}
