package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-admin"
	"github.com/goliatone/go-auth-admin/activitymap"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type app struct {
	settings *auth.Settings
	zap      *zap.Logger
	logger   auth.Logger
	db       *bun.DB
}

func main() {
	var (
		configPath = os.Getenv(auth.EnvPrefix + "CONFIG")
		envFile    = ".env"
	)

	a := &app{}

	root := &cobra.Command{
		Use:           "adminauth",
		Short:         "Passwordless sign-in and administrative account lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(envFile, configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", configPath, "YAML config file (env ADMINAUTH_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "dotenv file loaded before the config")

	root.AddCommand(
		serveCmd(a),
		migrateCmd(a),
		tokenCmd(a),
		accountsCmd(a),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) load(envFile, configPath string) error {
	if err := auth.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	settings, err := auth.LoadSettings(configPath)
	if err != nil {
		return err
	}
	a.settings = settings

	zl, err := auth.BuildZap(settings.App.Env, settings.App.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.zap = zl
	a.logger = auth.NewZapLogger(zl)

	return nil
}

func (a *app) openDB(ctx context.Context) (*bun.DB, error) {
	if a.db != nil {
		return a.db, nil
	}

	db, err := auth.OpenDatabase(ctx, a.settings.Database.Driver, a.settings.Database.DSN)
	if err != nil {
		return nil, err
	}

	if a.settings.Database.AutoMigrate {
		if err := auth.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	a.db = db
	return db, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
}

func (a *app) codec() (auth.TokenCodec, error) {
	return auth.NewTokenCodec(a.settings.GetTokenScheme(), []byte(a.settings.GetSigningKey()), a.settings.GetIssuer())
}

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the metrics listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	s := a.settings

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}

	repo := auth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	codec, err := a.codec()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := auth.NewMetrics(reg)
	if err != nil {
		return err
	}

	activity := activitymap.Sink(func(n activitymap.Normalized) error {
		a.zap.Info("activity",
			zap.String("verb", n.Verb),
			zap.String("actor_id", n.ActorID),
			zap.String("object_type", n.ObjectType),
			zap.String("object_id", n.ObjectID),
			zap.Any("metadata", n.Metadata),
			zap.Time("occurred_at", n.OccurredAt),
		)
		return nil
	})

	verifierOpts := []auth.VerifierOption{
		auth.WithAdminIdentity(s.GetAdminEmail()),
		auth.WithClockSkew(s.GetClockSkew()),
		auth.WithVerifierLogger(a.logger),
		auth.WithVerifierActivitySink(activity),
		auth.WithVerifierMetrics(metrics),
	}

	if s.GetSingleUseTokens() {
		switch s.Replay.Kind {
		case "redis":
			guard := auth.NewRedisReplayGuard(s.Replay.Redis.Addr, s.Replay.Redis.DB, s.Replay.Redis.Prefix)
			defer guard.Close()
			verifierOpts = append(verifierOpts, auth.WithReplayGuard(guard))
		default:
			verifierOpts = append(verifierOpts, auth.WithReplayGuard(auth.NewMemoryReplayGuard()))
		}
	}

	verifier := auth.NewTokenVerifier(codec, repo.Accounts(), verifierOpts...)

	var mailer auth.Mailer = auth.LogMailer{Logger: a.logger}
	if s.SMTP.Host != "" {
		smtp := auth.NewSMTPMailer(s.SMTP.Host, s.SMTP.Port, s.SMTP.From, s.SMTP.User, s.SMTP.Pass)
		if s.SMTP.TLSMode != "" {
			smtp.TLSMode = s.SMTP.TLSMode
		}
		mailer = smtp
	}

	links := auth.NewMagicLinkService(codec, repo.Accounts(),
		auth.WithMailer(mailer),
		auth.WithLinkBase(s.GetBaseURL(), s.GetVerifyPath()),
		auth.WithMagicLinkLogger(a.logger),
		auth.WithMagicLinkActivitySink(activity),
		auth.WithMagicLinkMetrics(metrics),
		auth.WithMagicLinkTimeout(s.GetOperationTimeout()),
	)

	machine := auth.NewAccountStateMachine(repo,
		auth.WithStateMachineLogger(a.logger),
		auth.WithStateMachineActivitySink(activity),
		auth.WithStateMachineMetrics(metrics),
		auth.WithStateMachineTimeout(s.GetOperationTimeout()),
	)

	assigner := auth.NewPermissionAssigner(repo,
		auth.WithAssignerLogger(a.logger),
		auth.WithAssignerActivitySink(activity),
		auth.WithAssignerMetrics(metrics),
		auth.WithAssignerTimeout(s.GetOperationTimeout()),
	)

	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "adminauth",
			DisableStartupMessage: true,
			StrictRouting:         false,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
		}))
	})

	auth.NewMagicLinkController(links, verifier, s, a.logger).
		RegisterRoutes(srv.Router(), s.GetVerifyPath())

	auth.NewAccountsController(repo, machine, assigner, auth.WithAccountsControllerLogger(a.logger)).
		RegisterRoutes(srv.Router(), auth.AdminAPIKeyGuard(s.Server.AdminAPIKey, a.logger))

	if s.Server.AdminAPIKey == "" {
		a.logger.Warn("administrative routes are not protected, set %sADMIN_API_KEY", auth.EnvPrefix)
	}

	metricsSrv := &http.Server{
		Addr:              s.Server.MetricsAddr,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("metrics listening on %s", s.Server.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("http listening on %s", s.Server.Addr)
		srv.Serve(s.Server.Addr)

		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// the fiber listener goes away with the process
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := auth.OpenDatabase(cmd.Context(), a.settings.Database.Driver, a.settings.Database.DSN)
			if err != nil {
				return err
			}
			a.db = db

			if err := auth.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			a.logger.Info("migrations applied")
			return nil
		},
	}
}

func tokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue or inspect magic tokens",
	}

	var at string
	issue := &cobra.Command{
		Use:   "issue <email>",
		Short: "Mint a token for email without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := a.codec()
			if err != nil {
				return err
			}

			issuedAt := time.Now()
			if at != "" {
				if issuedAt, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}

			svc := auth.NewMagicLinkService(codec, nil, auth.WithLinkBase(a.settings.GetBaseURL(), a.settings.GetVerifyPath()))
			token, err := svc.Issue(args[0], issuedAt)
			if err != nil {
				return err
			}

			return printJSON(map[string]any{
				"token":      token,
				"url":        svc.Link(token),
				"issued_at":  issuedAt.UTC(),
				"expires_at": issuedAt.Add(auth.TokenValidity).UTC(),
			})
		},
	}
	issue.Flags().StringVar(&at, "at", "", "issuance instant in RFC3339, defaults to now")

	inspect := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token against the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}

			codec, err := a.codec()
			if err != nil {
				return err
			}

			verifier := auth.NewTokenVerifier(codec, auth.NewAccountsRepository(db),
				auth.WithAdminIdentity(a.settings.GetAdminEmail()),
				auth.WithClockSkew(a.settings.GetClockSkew()),
				auth.WithVerifierLogger(a.logger),
			)

			result, verr := verifier.Verify(cmd.Context(), args[0])
			out := map[string]any{
				"outcome":  result.Outcome,
				"identity": result.Identity,
				"route":    result.Route,
			}
			if result.AccountID != 0 {
				out["account_id"] = result.AccountID
			}
			if !result.IssuedAt.IsZero() {
				out["issued_at"] = result.IssuedAt.UTC()
				out["expires_at"] = result.ExpiresAt.UTC()
			}
			if verr != nil {
				out["error"] = auth.TextCode(verr)
			}
			return printJSON(out)
		},
	}

	cmd.AddCommand(issue, inspect)
	return cmd
}

func accountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage administrative accounts",
	}

	var name string
	var active bool
	create := &cobra.Command{
		Use:   "create <email>",
		Short: "Register a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}

			acc, err := auth.NewAccountsRepository(db).Create(cmd.Context(), &auth.Account{
				Email:  args[0],
				Name:   name,
				Active: active,
			})
			if err != nil {
				return err
			}
			return printJSON(acc)
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().BoolVar(&active, "active", true, "create the account active")

	var search string
	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}

			accounts, total, err := auth.NewAccountsRepository(db).List(cmd.Context(), auth.ListAccountsCriteria{
				Search: search,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"total":    total,
				"accounts": accounts,
			})
		},
	}
	list.Flags().StringVar(&search, "search", "", "filter by email or name")
	list.Flags().IntVar(&limit, "limit", 50, "page size")
	list.Flags().IntVar(&offset, "offset", 0, "page offset")

	cmd.AddCommand(create, list)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
