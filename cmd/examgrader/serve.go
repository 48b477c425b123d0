package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examgrader/internal/auth"
	"github.com/pavelanni/examgrader/internal/grades"
	"github.com/pavelanni/examgrader/internal/grading"
	"github.com/pavelanni/examgrader/internal/handler"
	appI18n "github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/notify"
	"github.com/pavelanni/examgrader/internal/store"
	"github.com/pavelanni/examgrader/internal/submission"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the grading API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addDBFlags(cmd)
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables assisted grading)")
	f.String("llm-key", "", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Duration("llm-timeout", 20*time.Second, "Timeout of one scoring call")
	f.Int("llm-attempts", 2, "Scoring attempts per question, including the first")
	f.Int("grading-concurrency", submission.DefaultConcurrency, "Questions graded in parallel per submission")
	f.String("jwt-secret", "", "HMAC secret for access tokens (or set EXAMGRADER_JWT_SECRET)")
	f.Duration("token-ttl", auth.DefaultTTL, "Access token lifetime")
	f.String("admin-password", "", "Initial admin password (or set EXAMGRADER_ADMIN_PASSWORD)")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed CORS origins")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.StringSlice("notify-driver", []string{"eventlog"}, "Notification drivers (log, eventlog, sendgrid)")
	f.String("sendgrid-key", "", "SendGrid API key")
	f.String("mail-from", "Exam Grader <no-reply@example.com>", "Sender of notification emails")
	addLogFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	scorer, err := newScorer(v)
	if err != nil {
		return err
	}
	notifier, err := newNotifier(v, db, lang)
	if err != nil {
		return err
	}
	tokens, err := auth.New(v.GetString("jwt-secret"), v.GetDuration("token-ttl"))
	if err != nil {
		return fmt.Errorf("create token service: %w", err)
	}

	policy := grading.DefaultRetryPolicy()
	policy.MaxAttempts = v.GetInt("llm-attempts")
	policy.CallTimeout = v.GetDuration("llm-timeout")
	grader := grading.NewGrader(scorer, policy)

	h := handler.New(db, tokens,
		submission.NewService(db, grader, v.GetInt("grading-concurrency")),
		grades.NewManager(db, notifier))

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
		ExposedHeaders: []string{"Content-Length"},
		MaxAge:         300,
	}))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", db.Driver(),
		"llm_url", v.GetString("llm-url"),
		"model", v.GetString("llm-model"),
		"prompt_variant", v.GetString("prompt-variant"),
		"grading_concurrency", v.GetInt("grading-concurrency"),
		"notify", v.GetStringSlice("notify-driver"),
		"lang", lang,
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newScorer returns the LLM client, or a scorer that always falls back to
// manual review when no endpoint is configured.
func newScorer(v *viper.Viper) (grading.Scorer, error) {
	url := v.GetString("llm-url")
	if url == "" {
		slog.Warn("no llm-url configured, assisted questions will wait for manual review")
		return grading.NullScorer{}, nil
	}
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), prompts.PromptVariant(variant))
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return client, nil
}

func newNotifier(v *viper.Viper, db *store.Store, lang string) (notify.Notifier, error) {
	var out notify.Multi
	for _, d := range v.GetStringSlice("notify-driver") {
		switch strings.ToLower(strings.TrimSpace(d)) {
		case "log":
			out = append(out, notify.Log{})
		case "eventlog":
			out = append(out, notify.NewEventLog(db))
		case "sendgrid":
			key := v.GetString("sendgrid-key")
			if key == "" {
				return nil, fmt.Errorf("notify driver sendgrid needs --sendgrid-key")
			}
			name, email, err := parseAddress(v.GetString("mail-from"))
			if err != nil {
				return nil, err
			}
			out = append(out, notify.NewSendGrid(key, name, email, lang))
		case "":
		default:
			return nil, fmt.Errorf("unknown notify driver %q", d)
		}
	}
	if len(out) == 0 {
		return notify.Log{}, nil
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

// parseAddress splits an RFC 5322 address such as "Name <addr>" into its parts.
func parseAddress(s string) (name, email string, err error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", "", fmt.Errorf("parse mail-from %q: %w", s, err)
	}
	return addr.Name, addr.Address, nil
}
