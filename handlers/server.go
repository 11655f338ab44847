package handlers

import (
	"context"
	"net/http"

	"github.com/dchest/captcha"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"moddash/audit"
	"moddash/auth"
	"moddash/service"
)

// AuditReader is the query side of the durable audit sink.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	AppName        string
	LoginRateLimit int
	CORSOrigins    []string
	Logger         *zap.Logger
	Authenticator  *auth.Authenticator
	Guard          *auth.Guard
	Sessions       *auth.CookieSessions
	Users          *service.UserService
	Moderation     *service.ModerationService
	Chat           *service.ChatService
	Audit          AuditReader
}

// Server is the dashboard's HTTP surface.
type Server struct {
	appName   string
	rateLimit int
	origins   []string
	logger    *zap.Logger
	authn     *auth.Authenticator
	guard     *auth.Guard
	sessions  *auth.CookieSessions
	users     *service.UserService
	mod       *service.ModerationService
	chat      *service.ChatService
	audit     AuditReader
	failures  *failureTracker
	router    chi.Router
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.LoginRateLimit <= 0 {
		d.LoginRateLimit = 10
	}
	s := &Server{
		appName:   d.AppName,
		rateLimit: d.LoginRateLimit,
		origins:   d.CORSOrigins,
		logger:    d.Logger,
		authn:     d.Authenticator,
		guard:     d.Guard,
		sessions:  d.Sessions,
		users:     d.Users,
		mod:       d.Moderation,
		chat:      d.Chat,
		audit:     d.Audit,
		failures:  newFailureTracker(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeadersMiddleware)

	r.Get("/healthz", s.Healthz)
	r.Handle("/captcha/*", captcha.Server(captcha.StdWidth, captcha.StdHeight))

	r.Get("/", s.Index)
	r.Get("/login", s.LoginPage)
	r.With(RateLimit(s.rateLimit)).Post("/login", s.Login)
	r.Post("/logout", s.Logout)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(s.sessions, s.guard, http.HandlerFunc(s.loginRequired)))
		r.Get("/dashboard", s.Dashboard)
		r.Get("/users/lookup", s.UserLookup)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(CORS(s.origins))
		r.Use(auth.RequireAuth(s.sessions, s.guard, http.HandlerFunc(s.apiUnauthorized)))

		r.Get("/users/search", s.APISearchUsers)
		r.Get("/users/{id}", s.APIGetUser)
		r.Post("/users/{id}/message", s.APISendMessage)
		r.Post("/users/{id}/ban", s.APIBanUser)
		r.Get("/reports", s.APIPendingReports)
		r.Get("/reports/{id}/user", s.APIReportedUser)
		r.Get("/messages/search", s.APISearchMessages)
		r.Post("/messages/{id}/flag", s.APIFlagMessage)
		r.Get("/chats/stats", s.APIChatStats)
		r.Get("/feedback", s.APISentFeedback)
		r.Get("/audit", s.APIAuditLog)
	})

	s.router = r
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "ok"})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
