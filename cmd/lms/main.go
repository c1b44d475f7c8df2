package main

import (
	"context"
	"encoding/json"
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matiku/lms/internal/exam"
	"github.com/matiku/lms/internal/filestore"
	"github.com/matiku/lms/internal/handler"
	appI18n "github.com/matiku/lms/internal/i18n"
	"github.com/matiku/lms/internal/llm"
	"github.com/matiku/lms/internal/model"
	"github.com/matiku/lms/internal/store"
)

const (
	sessionCleanupInterval = time.Hour
	finishedAttemptTTL     = 15 * time.Minute
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lms",
		Short: "Classroom learning management server with timed CBT exams",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `lms --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "lms.db", "SQLite database path")
	f.StringP("lang", "l", "id", "Default UI language (en, id)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /lms)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Int64("max-upload-mb", 20, "Maximum upload size in megabytes")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables AI features)")
	f.String("llm-key", "", "API key for LLM")
	f.String("llm-model", "gpt-4o-mini", "LLM model name")
	f.Bool("llm-ping", true, "Check the LLM endpoint at startup")
	f.String("storage", "local", "File storage backend (local, s3)")
	f.String("storage-dir", "uploads", "Directory for local file storage")
	f.String("s3-bucket", "", "S3 bucket for file storage")
	f.String("s3-region", "us-east-1", "S3 region")
	f.String("s3-endpoint", "", "Custom S3 endpoint for S3-compatible services")
	f.String("public-url", "", "Public base URL for stored objects")
	f.StringSlice("cors-origins", nil, "Origins allowed to call the JSON API")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam attempts as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "lms.db", "SQLite database path")
	f.String("teacher", "", "Only export exams of this teacher username (default all)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [flags] FILE...",
		Short: "Import exams from JSON files for a teacher",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "lms.db", "SQLite database path")
	f.String("teacher", "", "Username of the teacher who will own the exams (required)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("teacher")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LMS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lms")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/lms")
	v.AddConfigPath("/etc/lms")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func newFileStore(v *viper.Viper, basePath string) (filestore.Store, error) {
	switch strings.ToLower(v.GetString("storage")) {
	case "s3":
		return filestore.NewS3(filestore.S3Config{
			Bucket:    v.GetString("s3-bucket"),
			Region:    v.GetString("s3-region"),
			Endpoint:  v.GetString("s3-endpoint"),
			PublicURL: v.GetString("public-url"),
		})
	case "local", "":
		baseURL := v.GetString("public-url")
		if baseURL == "" {
			baseURL = basePath + "/files"
		}
		return filestore.NewLocal(v.GetString("storage-dir"), baseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", v.GetString("storage"))
	}
}

func newAI(ctx context.Context, v *viper.Viper) (handler.AI, error) {
	url := v.GetString("llm-url")
	if url == "" {
		slog.Warn("no LLM endpoint configured, AI features disabled")
		return nil, nil
	}
	client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	if v.GetBool("llm-ping") {
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
	}
	return client, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ai, err := newAI(ctx, v)
	if err != nil {
		return err
	}

	basePath := normalizeBasePath(v.GetString("base-path"))
	files, err := newFileStore(v, basePath)
	if err != nil {
		return fmt.Errorf("open file storage: %w", err)
	}

	cfg := model.ServerConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		MaxUploadMB:   v.GetInt64("max-upload-mb"),
		Lang:          lang,
	}
	h := handler.New(db, ai, files, cfg, exam.Options{})
	defer h.Close()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	go cleanup(ctx, db, h)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"lang", lang,
			"base_path", basePath,
			"storage", v.GetString("storage"),
			"ai", ai != nil,
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// cleanup periodically removes expired login sessions and finished exam
// attempts whose results were never opened.
func cleanup(ctx context.Context, db *store.Store, h *handler.Handler) {
	t := time.NewTicker(sessionCleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := h.SweepAttempts(time.Now().Add(-finishedAttemptTTL)); n > 0 {
				slog.Info("released finished exam attempts", "count", n)
			}
			n, err := db.CleanupExpiredSessions()
			if err != nil {
				slog.Error("failed to clean up sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("removed expired sessions", "count", n)
			}
		}
	}
}

// teacherByUsername looks up a user and checks it is a teacher.
func teacherByUsername(db *store.Store, username string) (*model.User, error) {
	u, err := db.GetUserByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("look up teacher %s: %w", username, err)
	}
	if u == nil {
		return nil, fmt.Errorf("teacher %s not found", username)
	}
	if u.Role != model.UserRoleTeacher {
		return nil, fmt.Errorf("user %s is not a teacher", username)
	}
	return u, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var teacherID int64
	if name := v.GetString("teacher"); name != "" {
		u, err := teacherByUsername(db, name)
		if err != nil {
			return err
		}
		teacherID = u.ID
	}

	export, err := db.ExportAttempts(teacherID)
	if err != nil {
		return fmt.Errorf("export attempts: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported attempts", "exams", len(export.Exams))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	teacher, err := teacherByUsername(db, v.GetString("teacher"))
	if err != nil {
		return err
	}

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := exam.Checksum(data)
		name := filepath.Base(path)
		dup, err := db.HashImported(teacher.ID, hash)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if dup {
			slog.Info("exam file unchanged, skipping", "path", path)
			continue
		}

		d, err := exam.ParseImport(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		id, err := db.CreateExam(d.Exam(teacher.ID))
		if err != nil {
			return fmt.Errorf("create exam from %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(teacher.ID, name, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported exam", "path", path, "exam_id", id, "questions", len(d.Questions))
	}
	return nil
}
