// Package service implements the admin operations on the platform
// database: user lookup, moderation actions and chat review.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"moddash/audit"
	"moddash/errs"
	"moddash/models"
	"moddash/validate"
)

const (
	MaxRecentMessages = 10
	MaxSearchResults  = 50

	SearchByUserID   = "user_id"
	SearchByUsername = "username"
	SearchByEmail    = "email"

	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
	unknownValue    = "Unknown"
)

var validSearchTypes = []string{SearchByUserID, SearchByUsername, SearchByEmail}

// UserService reads user profiles from the platform database.
type UserService struct {
	db        *sqlx.DB
	trail     *audit.Trail
	validator *validate.Validator
	logger    *zap.Logger
}

func NewUserService(db *sqlx.DB, trail *audit.Trail, validator *validate.Validator, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{db: db, trail: trail, validator: validator, logger: logger}
}

// GetUser looks a user up by id, exact username or exact email. The value
// passes the search blocklist before anything touches the database.
func (s *UserService) GetUser(ctx context.Context, searchType, value string) (*models.UserProfile, error) {
	if searchType == "" || value == "" {
		return nil, errs.Validation("Search type and value are required", "search_type")
	}
	if !slices.Contains(validSearchTypes, searchType) {
		return nil, errs.Validation(fmt.Sprintf("Invalid search type '%s'. Must be one of: %s",
			searchType, strings.Join(validSearchTypes, ", ")), "search_type")
	}
	if !s.validator.SearchQuery(ctx, value) {
		return nil, errs.Validation("Invalid search query. Please check your input.", "search_value")
	}

	s.trail.LogAction(ctx, "USER_SEARCH", map[string]any{"search_type": searchType, "search_value": value}, true)

	var (
		user models.User
		err  error
	)
	switch searchType {
	case SearchByUserID:
		id, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil {
			return nil, errs.Validation(fmt.Sprintf("Invalid user ID '%s': must be a valid integer", value), "user_id")
		}
		err = s.db.GetContext(ctx, &user, userByIDQuery, id)
	case SearchByUsername:
		if !validate.Username(value) {
			return nil, errs.Validation(fmt.Sprintf("Invalid username '%s'", value), "username")
		}
		err = s.db.GetContext(ctx, &user, userByNameQuery, value)
	case SearchByEmail:
		if !validate.Email(value) {
			return nil, errs.Validation(fmt.Sprintf("Invalid email address '%s'", value), "email")
		}
		err = s.db.GetContext(ctx, &user, userByEmailQuery, value)
	}
	if errors.Is(err, sql.ErrNoRows) {
		nf := errs.UserNotFound(value)
		nf.Message = fmt.Sprintf("No user found with %s: '%s'", strings.ReplaceAll(searchType, "_", " "), value)
		return nil, nf
	}
	if err != nil {
		return nil, s.dbError("get_user", err)
	}
	return s.profile(ctx, &user)
}

// GetUserFromReport loads the profile of a reported user by id.
func (s *UserService) GetUserFromReport(ctx context.Context, reportedID string) (*models.UserProfile, error) {
	if reportedID == "" {
		return nil, errs.Validation("User ID is required for report lookup", "user_id")
	}
	id, err := strconv.ParseInt(reportedID, 10, 64)
	if err != nil {
		return nil, errs.Validation(fmt.Sprintf("Invalid user ID '%s' in report: must be a valid integer", reportedID), "user_id")
	}

	var user models.User
	err = s.db.GetContext(ctx, &user, userByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.UserNotFound(reportedID)
	}
	if err != nil {
		return nil, s.dbError("get_user_from_report", err)
	}
	return s.profile(ctx, &user)
}

// SearchUsers returns users whose name or email contains query.
func (s *UserService) SearchUsers(ctx context.Context, query string) ([]models.UserSummary, error) {
	query = strings.TrimSpace(query)
	if !s.validator.SearchQuery(ctx, query) {
		return nil, errs.Validation("Invalid search query", "query")
	}

	pattern := "%" + escapeLike(query) + "%"
	users := []models.UserSummary{}
	err := s.db.SelectContext(ctx, &users, `
		SELECT id, COALESCE(name, '') AS username, COALESCE(email, '') AS email
		FROM users
		WHERE name LIKE ? ESCAPE '!' OR email LIKE ? ESCAPE '!'
		ORDER BY id
		LIMIT ?`, pattern, pattern, MaxSearchResults)
	if err != nil {
		return nil, s.dbError("search_users", err)
	}
	return users, nil
}

const (
	userColumns      = "id, name, email, phone, created_at, last_active"
	userByIDQuery    = "SELECT " + userColumns + " FROM users WHERE id = ?"
	userByNameQuery  = "SELECT " + userColumns + " FROM users WHERE name = ? ORDER BY id LIMIT 1"
	userByEmailQuery = "SELECT " + userColumns + " FROM users WHERE email = ? ORDER BY id LIMIT 1"
)

func (s *UserService) profile(ctx context.Context, u *models.User) (*models.UserProfile, error) {
	p := &models.UserProfile{
		ID:         u.ID,
		Username:   fmt.Sprintf("User %d", u.ID),
		Email:      unknownValue,
		Status:     "active",
		CreatedAt:  unknownValue,
		LastActive: unknownValue,
	}
	if u.Name.Valid && u.Name.String != "" {
		p.Username = u.Name.String
	}
	if u.Email.Valid && u.Email.String != "" {
		p.Email = u.Email.String
	}
	if u.CreatedAt.Valid {
		p.CreatedAt = u.CreatedAt.Time.Format(dateLayout)
	}
	if u.LastActive.Valid {
		p.LastActive = u.LastActive.Time.Format(timestampLayout)
	}

	if err := s.db.GetContext(ctx, &p.ReportCount, "SELECT COUNT(*) FROM reported_users WHERE reported_id = ?", u.ID); err != nil {
		return nil, s.dbError("report_count", err)
	}
	var direct, group int
	if err := s.db.GetContext(ctx, &direct, "SELECT COUNT(*) FROM ind_messages WHERE sender_id = ?", u.ID); err != nil {
		return nil, s.dbError("message_count", err)
	}
	if err := s.db.GetContext(ctx, &group, "SELECT COUNT(*) FROM messages WHERE sender_id = ?", u.ID); err != nil {
		return nil, s.dbError("message_count", err)
	}
	p.MessageCount = direct + group
	p.RecentMessages = s.recentMessages(ctx, u.ID)
	return p, nil
}

type messageRow struct {
	Content   string `db:"content"`
	Timestamp int64  `db:"ts"`
	Ref       int64  `db:"ref"`
}

// recentMessages merges the newest direct and group messages. A failing
// query degrades to an empty history rather than failing the lookup.
func (s *UserService) recentMessages(ctx context.Context, userID int64) []models.Message {
	var direct, group []messageRow
	err := s.db.SelectContext(ctx, &direct, `
		SELECT COALESCE(content, '') AS content, COALESCE(timestamp, 0) AS ts, ind_chat_id AS ref
		FROM ind_messages WHERE sender_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, MaxRecentMessages)
	if err == nil {
		err = s.db.SelectContext(ctx, &group, `
			SELECT COALESCE(content, '') AS content, COALESCE(timestamp, 0) AS ts, id AS ref
			FROM messages WHERE sender_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, MaxRecentMessages)
	}
	if err != nil {
		s.logger.Warn("Failed to load recent messages", zap.Int64("user_id", userID), zap.Error(err))
		return []models.Message{}
	}

	out := make([]models.Message, 0, len(direct)+len(group))
	for _, m := range direct {
		out = append(out, toMessage(m, "IND"))
	}
	for _, m := range group {
		out = append(out, toMessage(m, "MSG"))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Raw > out[j].Raw })
	if len(out) > MaxRecentMessages {
		out = out[:MaxRecentMessages]
	}
	return out
}

func toMessage(m messageRow, prefix string) models.Message {
	msg := models.Message{
		Content:   m.Content,
		Timestamp: unknownValue,
		ChatID:    fmt.Sprintf("%s-%d", prefix, m.Ref),
		Raw:       m.Timestamp,
	}
	if msg.Content == "" {
		msg.Content = "No content"
	}
	if m.Timestamp > 0 {
		msg.Timestamp = time.Unix(m.Timestamp, 0).UTC().Format(timestampLayout)
	}
	return msg
}

func (s *UserService) dbError(op string, err error) error {
	s.logger.Error("Database error", zap.String("operation", op), zap.Error(err))
	return errs.HandleDatabase(op, err)
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
