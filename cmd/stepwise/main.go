package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
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
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/stepwise/internal/cache"
	"github.com/pavelanni/stepwise/internal/event"
	"github.com/pavelanni/stepwise/internal/handler"
	appI18n "github.com/pavelanni/stepwise/internal/i18n"
	"github.com/pavelanni/stepwise/internal/llm"
	"github.com/pavelanni/stepwise/internal/model"
	"github.com/pavelanni/stepwise/internal/quiz"
	"github.com/pavelanni/stepwise/internal/remote"
	"github.com/pavelanni/stepwise/internal/service"
	"github.com/pavelanni/stepwise/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stepwise",
		Short: "Lesson progression service with LLM-generated quizzes",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd(), userCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `stepwise --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json, tint)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "stepwise.db", "SQLite database path")
	f.StringSlice("lessons", nil, "Paths to lesson JSON files or directories to import (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Duration("llm-timeout", 30*time.Second, "Timeout for a single LLM generation")
	f.Bool("skip-llm-check", false, "Do not check the LLM endpoint at startup")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.Duration("cooldown", quiz.DefaultCooldown, "Wait after a failed quiz before the next attempt")
	f.Duration("pending-ttl", time.Hour, "How long a generated quiz can be submitted")
	f.String("records-url", "", "Base URL of a remote lesson records API (empty = local database)")
	f.String("records-token", "", "Service token for remote lesson reads; attempts and progress use each student's own token")
	f.Duration("records-timeout", 10*time.Second, "Timeout for remote records API calls")
	f.String("redis-url", "", "Redis URL for pending quizzes (empty = local database)")
	f.String("amqp-url", "", "RabbitMQ URL for progression events (empty = disabled)")
	f.String("amqp-exchange", event.DefaultExchange, "RabbitMQ topic exchange")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed CORS origins")
	f.Int64("max-upload-size", 10<<20, "Maximum lessons upload size in bytes")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set STEPWISE_ADMIN_PASSWORD)")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export quiz attempts as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "stepwise.db", "SQLite database path")
	f.Int64("subject-id", 0, "Only export lessons of this subject (0 = all)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files or directories...]",
		Short: "Import lesson JSON files into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	cmd.Flags().String("db", "stepwise.db", "SQLite database path")
	addLogFlags(cmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE:  runUserAdd,
	}
	f := add.Flags()
	f.String("db", "stepwise.db", "SQLite database path")
	f.StringP("username", "u", "", "Username (required)")
	f.String("display-name", "", "Display name (defaults to username)")
	f.StringP("password", "p", "", "Password (required)")
	f.StringP("role", "r", string(model.UserRoleStudent), "Role (student, teacher, admin)")
	addLogFlags(add)
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("password")
	cmd.AddCommand(add)
	return cmd
}

func setupLogging(v *viper.Viper) {
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
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel, AddSource: true})
	case "tint":
		logHandler = tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel, TimeFormat: time.RFC3339})
	default:
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("STEPWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("stepwise")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/stepwise")
	v.AddConfigPath("/etc/stepwise")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cfg := model.WorkflowConfig{
		Cooldown:      v.GetDuration("cooldown"),
		LLMTimeout:    v.GetDuration("llm-timeout"),
		PendingTTL:    v.GetDuration("pending-ttl"),
		DefaultLang:   v.GetString("lang"),
		MaxUploadSize: v.GetInt64("max-upload-size"),
		SecureCookies: v.GetBool("secure-cookies"),
		RemoteRecords: v.GetString("records-url") != "",
	}
	db.SetCooldown(cfg.Cooldown)

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if files := v.GetStringSlice("lessons"); cfg.RemoteRecords && len(files) > 0 {
		slog.Warn("ignoring lesson files: lessons come from the remote records API", "files", files)
	} else if err := loadLessons(ctx, db, files); err != nil {
		return fmt.Errorf("load lessons: %w", err)
	}

	if err := appI18n.Init(cfg.DefaultLang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	var records service.RecordStore = db
	if url := v.GetString("records-url"); url != "" {
		records = remote.New(url, v.GetString("records-token"), v.GetDuration("records-timeout"))
		slog.Info("using remote lesson records", "url", url)
	}

	var quizzes service.QuizCache = db
	if url := v.GetString("redis-url"); url != "" {
		qc, err := cache.New(ctx, url)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer qc.Close()
		quizzes = qc
		slog.Info("using redis for pending quizzes")
	}

	publisher, err := event.NewAMQPPublisher(v.GetString("amqp-url"), v.GetString("amqp-exchange"))
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer publisher.Close()

	llmClient := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	if !v.GetBool("skip-llm-check") {
		if err := llmClient.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", llmClient.Model())
	}

	svc := service.NewLessonService(records, quizzes, db, llmClient, publisher, cfg)
	h := handler.New(svc, db, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   v.GetStringSlice("cors-origins"),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language", handler.RecordsTokenHeader},
		ExposedHeaders:   []string{"Retry-After", "Content-Language"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	go cleanupLoop(ctx, db)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", cfg.DefaultLang,
		"cooldown", cfg.Cooldown,
		"pending_ttl", cfg.PendingTTL,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// cleanupLoop removes expired pending quizzes and auth sessions until ctx is done.
func cleanupLoop(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupExpiredQuizzes(ctx)
			if err != nil {
				slog.Error("failed to clean up pending quizzes", "error", err)
			} else if n > 0 {
				slog.Debug("removed expired pending quizzes", "count", n)
			}
			if err := db.CleanupExpiredSessions(ctx); err != nil {
				slog.Error("failed to clean up auth sessions", "error", err)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export := model.AttemptExport{ExportedAt: time.Now().UTC()}
	subjectID := v.GetInt64("subject-id")
	if subjectID != 0 {
		subject, err := db.GetSubject(ctx, subjectID)
		if err != nil {
			return fmt.Errorf("get subject: %w", err)
		}
		export.Subject = subject.Name
	}
	export.Results, err = db.ExportAttempts(ctx, subjectID)
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
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return loadLessons(context.Background(), db, args)
}

func runUserAdd(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := context.Background()

	role := model.UserRole(v.GetString("role"))
	if !role.IsValid() {
		return fmt.Errorf("invalid role %q", role)
	}
	username := strings.TrimSpace(v.GetString("username"))
	displayName := v.GetString("display-name")
	if displayName == "" {
		displayName = username
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	existing, err := db.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("user %q already exists", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(v.GetString("password")), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = db.CreateUser(ctx, model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	return err
}

// lessonFiles expands directories into the JSON files they contain.
func lessonFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

func loadLessons(ctx context.Context, db *store.Store, paths []string) error {
	files, err := lessonFiles(paths)
	if err != nil {
		return err
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		stored, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if stored != "" && stored != store.ContentHash(data) {
			slog.Warn("lessons file changed since last import, skipping to keep existing progress", "path", path)
			continue
		}
		if _, err := db.ImportSubjectFile(ctx, path, data); err != nil {
			return err
		}
	}
	count, err := db.LessonCount(ctx)
	if err != nil {
		return err
	}
	slog.Info("lessons available", "count", count)
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or STEPWISE_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
