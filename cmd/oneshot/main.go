// Package main provides the oneshot binary. With no subcommand (or "serve")
// it runs the HTTP service for one-time encrypted file sharing; "useradd"
// creates an uploader account.
//
// The serve flow:
//  1. Load defaults, the optional YAML file and environment variables.
//  2. Open the shared SQLite database and the configured record backend.
//  3. Start the metrics manager and the janitor.
//  4. Serve HTTP until SIGINT/SIGTERM, then shut down gracefully.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/haukened/oneshot/internal/app"
	"github.com/haukened/oneshot/internal/auth"
	"github.com/haukened/oneshot/internal/config"
	"github.com/haukened/oneshot/internal/httpx"
	"github.com/haukened/oneshot/internal/janitor"
	"github.com/haukened/oneshot/internal/metrics"
	"github.com/haukened/oneshot/internal/store"
	"github.com/haukened/oneshot/internal/store/badger"
	"github.com/haukened/oneshot/internal/store/bolt"
	"github.com/haukened/oneshot/internal/store/filesystem"
	"github.com/haukened/oneshot/internal/store/sqlite"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		return runServe(ctx, args, stderr)
	case "useradd":
		return runUseradd(ctx, args, stdin, stderr)
	default:
		return fmt.Errorf("unknown command %q (want serve or useradd)", cmd)
	}
}

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	configPath := flagSet.String("config", "", "path to a YAML configuration file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(stderr)
	slog.SetDefault(logger)
	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := ensureDataDir(cfg.DataDir); err != nil {
		return err
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	users, err := auth.NewUsers(db)
	if err != nil {
		return fmt.Errorf("init users: %w", err)
	}
	backend, err := openBackend(cfg, db, logger)
	if err != nil {
		return err
	}
	st := store.New(backend)
	defer st.Close()

	mgr := metrics.New(db, metrics.Config{FlushInterval: cfg.MetricsFlush, Logger: logger})
	if err := mgr.InitSchema(ctx); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	mgr.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Stop(stopCtx); err != nil {
			logger.Error("final metrics flush", "domain", "metrics", "error", err)
		}
	}()

	jan := janitor.New(st, mgr, janitor.Config{Interval: cfg.JanitorInterval, Logger: logger})
	jan.Start(ctx)
	defer jan.Stop()

	svc := buildService(cfg, st, mgr, logger)
	srv := newServer(cfg, buildHandler(cfg, svc, users, mgr, readiness(db, st), logger))

	if n, err := users.Count(ctx); err == nil && n == 0 {
		logger.Warn("no uploader accounts exist; create one with 'oneshot useradd'")
	}
	logger.Info("starting server", "addr", cfg.Addr, "backend", cfg.Backend, "pid", os.Getpid())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// openBackend builds the record backend selected by cfg.Backend. The sqlite
// backend shares db; the others keep their own files under DataDir.
func openBackend(cfg *config.Config, db *sql.DB, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendFilesystem:
		root := filepath.Join(cfg.DataDir, "files")
		if err := os.MkdirAll(root, 0o700); err != nil {
			return nil, fmt.Errorf("create files directory: %w", err)
		}
		return filesystem.New(root, filesystem.WithStaleAfter(cfg.StaleAfter))
	case config.BackendSQLite:
		return sqlite.New(db)
	case config.BackendBolt:
		return bolt.Open(filepath.Join(cfg.DataDir, "records.bolt"))
	case config.BackendBadger:
		return badger.Open(badger.Options{Dir: filepath.Join(cfg.DataDir, "badger"), Logger: logger})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func buildService(cfg *config.Config, st app.SealedStore, rec app.Recorder, logger *slog.Logger) *app.Service {
	return &app.Service{
		Store:       st,
		Metrics:     rec,
		Logger:      logger,
		MaxBytes:    int64(cfg.MaxBytes),
		Retries:     cfg.CollisionRetries,
		OpenTimeout: cfg.OpenTimeout,
	}
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type storePinger interface {
	Ping(ctx context.Context) error
}

func readiness(db pinger, st storePinger) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := st.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		return nil
	}
}

func buildHandler(cfg *config.Config, svc httpx.ServicePort, users httpx.UserPort, snap metrics.SnapshotProvider, ready func(context.Context) error, logger *slog.Logger) http.Handler {
	h := httpx.New(svc, users, int64(cfg.MaxBytes), ready)
	h.AllowRegister = cfg.AllowRegister
	h.Metrics = metrics.Handler(snap, cfg.MetricsToken)
	h.Logger = logger
	return h.Router()
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}

// promptPassword reads a password twice from the terminal with echo off.
// Replaced in tests.
var promptPassword = func(stderr io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; use --password-stdin")
	}
	fmt.Fprint(stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("reading password confirmation: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func runUseradd(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("useradd", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	configPath := flagSet.String("config", "", "path to a YAML configuration file")
	fromStdin := flagSet.Bool("password-stdin", false, "read the password from the first line of stdin")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("usage: oneshot useradd [--password-stdin] <username>")
	}
	username := flagSet.Arg(0)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	var password string
	if *fromStdin {
		password, err = readPasswordLine(stdin)
	} else {
		password, err = promptPassword(stderr)
	}
	if err != nil {
		return err
	}

	if err := ensureDataDir(cfg.DataDir); err != nil {
		return err
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	users, err := auth.NewUsers(db)
	if err != nil {
		return fmt.Errorf("init users: %w", err)
	}
	user, err := users.Create(ctx, username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "created user %s\n", user.Username)
	return nil
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is empty")
	}
	return line, nil
}
