package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"moddash/errs"
	"moddash/i18n"
	"moddash/service"
	"moddash/validate"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrAuthz):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func sendError(w http.ResponseWriter, err error) {
	sendJSONResponse(w, statusFor(err), APIResponse{Status: "error", Message: errs.PublicMessage(err)})
}

func (s *Server) apiUnauthorized(w http.ResponseWriter, r *http.Request) {
	sendError(w, errs.Authentication(i18n.T(i18n.DetectLanguage(r), "Unauthorized")))
}

func (s *Server) APIGetUser(w http.ResponseWriter, r *http.Request) {
	profile, err := s.users.GetUser(r.Context(), service.SearchByUserID, chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: profile})
}

func (s *Server) APIReportedUser(w http.ResponseWriter, r *http.Request) {
	profile, err := s.users.GetUserFromReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: profile})
}

// APISearchUsers returns matches with their string fields escaped for
// direct insertion into the dashboard page.
func (s *Server) APISearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		sendError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, validate.SanitizeDisplayData(map[string]any{
			"id":       u.ID,
			"username": u.Username,
			"email":    u.Email,
		}))
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: out})
}

func (s *Server) APIPendingReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.mod.PendingReports(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: reports})
}

func (s *Server) APISendMessage(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	var input struct {
		Message    string         `json:"message"`
		ActionType string         `json:"action_type"`
		ActionText string         `json:"action_text"`
		ActionData map[string]any `json:"action_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	var action *service.MessageAction
	if input.ActionType != "" || input.ActionText != "" || len(input.ActionData) > 0 {
		action = &service.MessageAction{Type: input.ActionType, Text: input.ActionText, Data: input.ActionData}
	}
	if err := s.mod.SendMessage(r.Context(), chi.URLParam(r, "id"), input.Message, action); err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "MessageSent")})
}

func (s *Server) APIBanUser(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	var input struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}
	if err := s.mod.PermanentBan(r.Context(), chi.URLParam(r, "id"), input.Reason); err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "UserBanned")})
}

func (s *Server) APIAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: []any{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		sendError(w, errs.HandleDatabase("audit_recent", err))
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: entries})
}

func (s *Server) APISearchMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := s.chat.SearchMessages(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: hits})
}

func (s *Server) APIFlagMessage(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	var input struct {
		ChatType string `json:"chat_type"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}
	if input.ChatType == "" {
		input.ChatType = service.ChatActivity
	}
	if err := s.chat.FlagMessage(r.Context(), chi.URLParam(r, "id"), input.ChatType, input.Reason); err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "MessageFlagged")})
}

func (s *Server) APIChatStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.chat.ChatStats(r.Context())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: stats})
}

func (s *Server) APISentFeedback(w http.ResponseWriter, r *http.Request) {
	feedback, err := s.mod.SentFeedback(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: feedback})
}
