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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/viva/internal/handler"
	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/qbank"
	"github.com/pavelanni/viva/internal/store"
	"github.com/pavelanni/viva/internal/viva"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viva",
		Short: "Spoken and typed training assessments with leveled questions",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), sweepCmd(), addUserCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `viva --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP viva server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "viva.db", "SQLite database path")
	f.StringSliceP("questions", "q", nil, "Question files to import at startup, JSON or TOML (repeatable)")
	f.StringP("lang", "l", "hi", "Default viva language (hi, en)")
	f.IntP("num-questions", "n", 20, "Questions per viva when the request does not say")
	f.Int("max-questions", 50, "Upper bound on questions per viva (0 = no bound)")
	f.Bool("shuffle", true, "Shuffle the drawn questions")
	f.String("evaluator", "keyword", "Answer evaluator (keyword, embedding, llm)")
	f.String("llm-provider", "ollama", "Judge provider (ollama, openai, gemini, anthropic, mock)")
	f.String("llm-url", "", "Judge API base URL (provider default when empty)")
	f.String("llm-key", "", "Judge API key")
	f.String("llm-model", "", "Judge model name (provider default when empty)")
	f.Duration("llm-timeout", 20*time.Second, "Time allowed for one model call; an LLM evaluation may take several")
	f.Int("llm-retries", 2, "Judge attempts per answer for transient failures")
	f.String("prompt-variant", "standard", "Judge prompt variant (strict, standard, lenient)")
	f.String("embed-url", "http://localhost:11434/v1", "OpenAI-compatible embeddings base URL")
	f.String("embed-key", "ollama", "Embeddings API key")
	f.String("embed-model", "nomic-embed-text", "Embeddings model name")
	f.Int("embed-cache", 512, "Cached embeddings kept in memory")
	f.String("stt-url", "", "Whisper-compatible transcription base URL (empty disables /api/stt)")
	f.String("stt-key", "", "Transcription API key")
	f.String("stt-model", "", "Transcription model name")
	f.String("session-store", "memory", "Where live sessions are kept (memory, sqlite)")
	f.Duration("session-idle-ttl", 2*time.Hour, "Idle time before an active viva is abandoned (0 disables)")
	f.String("sweep-schedule", "@every 5m", "Cron schedule for idle session sweeps")
	f.String("admin-password", "", "Initial admin password (or set VIVA_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import question files into the question bank",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "viva.db", "SQLite database path")
	f.StringP("lang", "l", "hi", "Language for questions that do not declare one (hi, en)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export viva results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "viva.db", "SQLite database path")
	f.String("subject-id", "", "Only export results for this subject")
	f.Int64("topic-id", 0, "Only export results for this topic")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Abandon idle sessions and purge finished ones in the sqlite session store",
		RunE:  runSweep,
	}
	f := cmd.Flags()
	f.String("db", "viva.db", "SQLite database path")
	f.Duration("session-idle-ttl", 2*time.Hour, "Idle time before an active viva is abandoned")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func addUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adduser <username>",
		Short: "Create a back-office user (admin or supervisor)",
		Args:  cobra.ExactArgs(1),
		RunE:  runAddUser,
	}
	f := cmd.Flags()
	f.String("db", "viva.db", "SQLite database path")
	f.String("role", string(model.UserRoleSupervisor), "User role (admin, supervisor)")
	f.String("password", "", "Password (or VIVA_PASSWORD env var)")
	f.String("display-name", "", "Name shown in logs and reports")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
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

	v.SetEnvPrefix("VIVA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("viva")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/viva")
	v.AddConfigPath("/etc/viva")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func defaultLanguage(v *viper.Viper) (model.Language, error) {
	lang, err := model.ParseLanguage(v.GetString("lang"))
	if err != nil {
		return "", err
	}
	if lang == "" {
		lang = model.LangHindi
	}
	return lang, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang, err := defaultLanguage(v)
	if err != nil {
		return fmt.Errorf("--lang: %w", err)
	}
	if err := appI18n.Init(string(lang)); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if n, err := db.CleanupExpiredAuthSessions(); err != nil {
		slog.Warn("failed to clean up expired auth sessions", "error", err)
	} else if n > 0 {
		slog.Info("removed expired auth sessions", "count", n)
	}

	if _, err := importFiles(ctx, db, v.GetStringSlice("questions"), lang); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	ev, err := buildEvaluator(ctx, v)
	if err != nil {
		return fmt.Errorf("build evaluator: %w", err)
	}

	sessions, err := sessionStore(v.GetString("session-store"), db)
	if err != nil {
		return err
	}

	vivaCfg := model.VivaConfig{
		DefaultLanguage: lang,
		QuestionCount:   v.GetInt("num-questions"),
		MaxQuestions:    v.GetInt("max-questions"),
		Shuffle:         v.GetBool("shuffle"),
		IdleTTL:         v.GetDuration("session-idle-ttl"),
		EvalTimeout:     evalTimeout(v),
	}
	svc := viva.NewService(viva.Deps{
		Sampler:  viva.NewSampler(db, vivaCfg.Shuffle, nil),
		Sessions: sessions,
		Scorer:   guard(ev, vivaCfg.EvalTimeout),
		Results:  db,
		Usage:    db,
		Logger:   slog.Default(),
	}, vivaCfg)

	if vivaCfg.IdleTTL > 0 {
		sweeper, err := viva.NewSweeper(svc, v.GetString("sweep-schedule"), slog.Default())
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() { <-sweeper.Stop().Done() }()
	}

	h, err := handler.New(svc, db, buildTranscriber(v), handler.Config{DefaultLanguage: lang})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(string(lang)))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"num_questions", vivaCfg.QuestionCount,
		"max_questions", vivaCfg.MaxQuestions,
		"shuffle", vivaCfg.Shuffle,
		"evaluator", ev.Name(),
		"session_store", v.GetString("session-store"),
		"idle_ttl", vivaCfg.IdleTTL,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sessionStore(kind string, db *store.Store) (viva.SessionStore, error) {
	switch strings.ToLower(kind) {
	case "", "memory":
		return viva.NewMemoryStore(), nil
	case "sqlite":
		return viva.NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("unknown session store %q (want memory or sqlite)", kind)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang, err := defaultLanguage(v)
	if err != nil {
		return fmt.Errorf("--lang: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	reports, err := importFiles(cmd.Context(), db, args, lang)
	for _, rep := range reports {
		if rep.Skipped {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: skipped (%s)\n", rep.Path, rep.Reason)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: imported %d questions into %q\n", rep.Path, rep.Imported, rep.Topic)
	}
	return err
}

// importFiles imports question files in order and stops at the first failure.
func importFiles(ctx context.Context, db *store.Store, paths []string, lang model.Language) ([]qbank.Report, error) {
	var reports []qbank.Report
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return reports, fmt.Errorf("read %s: %w", path, err)
		}
		rep, err := qbank.Import(ctx, db, filepath.Clean(path), data, lang)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportResults(context.Background(), model.ExportFilter{
		SubjectID: v.GetString("subject-id"),
		TopicID:   v.GetInt64("topic-id"),
	})
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
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

	slog.Info("exported results", "count", export.Count, "output", outPath)
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	svc := viva.NewService(viva.Deps{
		Sessions: viva.NewSQLStore(db),
		Results:  db,
		Logger:   slog.Default(),
	}, model.VivaConfig{IdleTTL: v.GetDuration("session-idle-ttl")})

	rep, err := svc.SweepIdle(context.Background())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "abandoned %d idle sessions, purged %d finished sessions\n", rep.Abandoned, rep.Purged)
	return nil
}

func runAddUser(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	role := model.UserRole(strings.ToLower(strings.TrimSpace(v.GetString("role"))))
	if role != model.UserRoleAdmin && role != model.UserRoleSupervisor {
		return fmt.Errorf("unknown role %q: use admin or supervisor", role)
	}
	password := v.GetString("password")
	if password == "" {
		return fmt.Errorf("password is required: set --password flag or VIVA_PASSWORD env var")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	id, err := db.CreateUser(model.User{
		Username:     args[0],
		DisplayName:  v.GetString("display-name"),
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user %q: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s user %q (id %d)\n", role, args[0], id)
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or VIVA_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
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
