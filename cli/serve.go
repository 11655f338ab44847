package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/csrf"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"moddash/audit"
	"moddash/auth"
	"moddash/config"
	"moddash/crypto"
	"moddash/db"
	"moddash/handlers"
	"moddash/logging"
	"moddash/service"
	"moddash/validate"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(cfgFile); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg := config.AppConfig
			if cmd.Flags().Changed("port") {
				cfg.ListenPort = port
			}
			if cmd.Flags().Changed("host") {
				cfg.ListenIP = host
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "HTTP listen host")

	return cmd
}

func runServe(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := logging.Options{Environment: cfg.Environment, Level: cfg.LogLevel, Dir: cfg.LogDir}
	logger, err := logging.New(opts)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()
	security, err := logging.NewSecurity(opts)
	if err != nil {
		return fmt.Errorf("init security logging: %w", err)
	}
	defer security.Sync()

	a, err := newApp(cfg, logger, security)
	if err != nil {
		logger.Error("Failed to start dashboard", zap.Error(err))
		return err
	}
	defer a.Close()

	addr := net.JoinHostPort(cfg.ListenIP, strconv.Itoa(cfg.ListenPort))
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", addr), zap.String("app", cfg.AppName), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// app owns the wired dashboard and the database handles behind it.
type app struct {
	handler   http.Handler
	dashboard *sqlx.DB
	platform  *sqlx.DB
}

func newApp(cfg config.Config, logger, security *zap.Logger) (*app, error) {
	dashboard, err := db.OpenDashboard(cfg.AuditDBPath)
	if err != nil {
		return nil, err
	}
	a := &app{dashboard: dashboard}

	dsn, err := cfg.DatabaseDSN()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.platform, err = db.Open(cfg.Database.Driver, dsn)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Database.Driver == "sqlite3" {
		if err := db.CreatePlatformSchema(a.platform); err != nil {
			a.Close()
			return nil, err
		}
	}

	auditStore := db.NewAuditStore(dashboard)
	trail := audit.NewTrail(logger, []audit.Sink{audit.NewLoggerSink(security), auditStore})

	store, err := auth.LoadCredentials(cfg.Admins, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	signer := auth.NewTokenSigner(crypto.DeriveKey(cfg.SecretKey, []byte("moddash-session-token")))
	validator := validate.New(trail, logger)

	server := handlers.New(handlers.Deps{
		AppName:        cfg.AppName,
		LoginRateLimit: cfg.LoginRateLimit,
		CORSOrigins:    cfg.CORSOrigins,
		Logger:         logger,
		Authenticator:  auth.NewAuthenticator(store, signer, trail, logger),
		Guard:          auth.NewGuard(signer, trail, logger, auth.WithTimeout(cfg.SessionTimeoutDuration())),
		Sessions:       auth.NewCookieSessions(cfg.SecretKey, cfg.SessionTimeoutDuration(), cfg.IsProduction()),
		Users:          service.NewUserService(a.platform, trail, validator, logger),
		Moderation:     service.NewModerationService(a.platform, trail, validator, logger),
		Chat:           service.NewChatService(a.platform, trail, validator, logger),
		Audit:          auditStore,
	})

	a.handler = withCSRF(cfg, server, http.HandlerFunc(server.CSRFFailure))
	return a, nil
}

// withCSRF guards every state-changing request. Outside production the
// dashboard is served over plain HTTP, which gorilla/csrf must be told.
func withCSRF(cfg config.Config, next, failure http.Handler) http.Handler {
	protect := csrf.Protect(
		crypto.DeriveKey(cfg.SecretKey, []byte("moddash-csrf")),
		csrf.Secure(cfg.IsProduction()),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(failure),
	)(next)
	if cfg.IsProduction() {
		return protect
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protect.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

func (a *app) Close() error {
	var errs []error
	if a.platform != nil {
		errs = append(errs, a.platform.Close())
	}
	if a.dashboard != nil {
		errs = append(errs, a.dashboard.Close())
	}
	return errors.Join(errs...)
}
