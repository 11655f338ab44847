package handlers

import (
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"moddash/audit"
	"moddash/auth"
	"moddash/errs"
	"moddash/i18n"
	"moddash/models"
	"moddash/service"
	"moddash/validate"
)

//go:embed templates/*.html
var templates embed.FS

const recentAuditEntries = 20

func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	if s.guard.IsAuthenticated(r.Context(), sess) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.saveSession(w, r, sess)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) LoginPage(w http.ResponseWriter, r *http.Request) {
	if s.guard.IsAuthenticated(r.Context(), s.sessions.Load(r)) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.renderLogin(w, r, http.StatusOK, "", "")
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	ip := getClientIP(r)
	if !s.failures.Allow(ip) {
		s.renderLogin(w, r, http.StatusTooManyRequests, i18n.T(lang, "TooManyAttempts"), "")
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" || password == "" {
		s.renderLogin(w, r, http.StatusBadRequest, i18n.T(lang, "MissingCredentials"), username)
		return
	}

	if s.failures.NeedsCaptcha(ip) {
		id, solution := r.FormValue("captcha_id"), r.FormValue("captcha_solution")
		if id == "" || solution == "" {
			s.renderLogin(w, r, http.StatusBadRequest, i18n.T(lang, "CaptchaRequired"), username)
			return
		}
		if !captcha.VerifyString(id, solution) {
			s.failures.RecordFailure(ip)
			s.renderLogin(w, r, http.StatusBadRequest, i18n.T(lang, "CaptchaInvalid"), username)
			return
		}
	}

	sess := &auth.Session{}
	if !s.authn.Authenticate(r.Context(), sess, username, password) {
		s.failures.RecordFailure(ip)
		w.Header().Set("HX-Trigger", "loginError")
		s.renderLogin(w, r, http.StatusUnauthorized, i18n.T(lang, "InvalidCredentials"), username)
		return
	}

	s.failures.Reset(ip)
	if err := s.saveSession(w, r, sess); err != nil {
		http.Error(w, errs.PublicMessage(err), http.StatusInternalServerError)
		return
	}
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/dashboard")
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Load(r)
	s.guard.Logout(r.Context(), sess)
	s.saveSession(w, r, sess)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// saveSession writes sess to the response cookie and logs a failure.
func (s *Server) saveSession(w http.ResponseWriter, r *http.Request, sess *auth.Session) error {
	err := s.sessions.Save(w, r, sess)
	if err != nil {
		s.logger.Error("Failed to save session", zap.String("username", sess.Username), zap.Error(err))
	}
	return err
}

// loginRequired is the response for a protected page without a valid
// session.
func (s *Server) loginRequired(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, r, http.StatusUnauthorized, i18n.T(i18n.DetectLanguage(r), "LoginRequired"), "")
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, status int, message, username string) {
	data := map[string]any{
		"Error":    message,
		"Username": username,
	}
	if s.failures.NeedsCaptcha(getClientIP(r)) {
		data["CaptchaID"] = captcha.New()
	}
	s.renderTemplate(w, r, status, "login.html", data)
}

func (s *Server) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFrom(r.Context())
	data := map[string]any{"Session": sess}

	reports := errs.SafeExecute(s.logger, "pending_reports", func() ([]models.Report, error) {
		reports, err := s.mod.PendingReports(r.Context())
		if reports == nil && err == nil {
			reports = []models.Report{}
		}
		return reports, err
	}, nil)
	if reports == nil {
		data["Error"] = i18n.T(i18n.DetectLanguage(r), "ReportsUnavailable")
	}
	data["Reports"] = reports

	if s.audit != nil {
		data["Audit"] = errs.SafeExecute(s.logger, "audit_recent", func() ([]audit.Entry, error) {
			return s.audit.Recent(r.Context(), recentAuditEntries)
		}, nil)
	}
	s.renderTemplate(w, r, http.StatusOK, "dashboard.html", data)
}

type messageView struct {
	Content   template.HTML
	Timestamp string
	ChatID    string
}

func (s *Server) UserLookup(w http.ResponseWriter, r *http.Request) {
	searchType := r.URL.Query().Get("type")
	if searchType == "" {
		searchType = service.SearchByUserID
	}
	value := strings.TrimSpace(r.URL.Query().Get("value"))
	data := map[string]any{
		"Session":    auth.SessionFrom(r.Context()),
		"SearchType": searchType,
		"Value":      value,
	}
	if value == "" {
		s.renderTemplate(w, r, http.StatusOK, "lookup.html", data)
		return
	}

	status := http.StatusOK
	profile, err := s.users.GetUser(r.Context(), searchType, value)
	if err != nil {
		status = statusFor(err)
		data["Error"] = errs.PublicMessage(err)
	} else {
		messages := make([]messageView, 0, len(profile.RecentMessages))
		for _, m := range profile.RecentMessages {
			messages = append(messages, messageView{
				// SanitizeHTML leaves only tags without attributes.
				Content:   template.HTML(validate.SanitizeHTML(m.Content)),
				Timestamp: m.Timestamp,
				ChatID:    m.ChatID,
			})
		}
		data["Profile"] = profile
		data["Messages"] = messages
	}
	s.renderTemplate(w, r, status, "lookup.html", data)
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	lang := i18n.DetectLanguage(r)

	funcMap := template.FuncMap{
		"T": func(key string) string {
			return i18n.T(lang, key)
		},
	}

	tmpl, err := template.New(name).Funcs(funcMap).ParseFS(templates, "templates/layout.html", "templates/"+name)
	if err != nil {
		s.logger.Error("Failed to parse template", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	data["AppName"] = s.appName
	data["Lang"] = lang
	data["csrfField"] = csrf.TemplateField(r)
	data["csrfToken"] = csrf.Token(r)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		s.logger.Error("Failed to render template", zap.String("template", name), zap.Error(err))
	}
}
