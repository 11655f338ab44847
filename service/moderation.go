package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"moddash/audit"
	"moddash/errs"
	"moddash/models"
	"moddash/validate"
)

const (
	MaxBanReasonLength = 1000

	// AdminSenderID is the platform account that admin messages are sent
	// from.
	AdminSenderID = 1

	defaultActionType = "direct_message"
	defaultActionText = "Dashboard message"
)

// MessageAction is the optional call-to-action attached to an admin
// message.
type MessageAction struct {
	Type string
	Text string
	Data map[string]any
}

// ModerationService performs the audited moderation actions.
type ModerationService struct {
	db        *sqlx.DB
	trail     *audit.Trail
	validator *validate.Validator
	logger    *zap.Logger
	now       func() time.Time
}

type ModerationOption func(*ModerationService)

func WithModerationClock(now func() time.Time) ModerationOption {
	return func(s *ModerationService) { s.now = now }
}

func NewModerationService(db *sqlx.DB, trail *audit.Trail, validator *validate.Validator, logger *zap.Logger, opts ...ModerationOption) *ModerationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ModerationService{db: db, trail: trail, validator: validator, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage delivers an admin message to a user's direct inbox.
func (s *ModerationService) SendMessage(ctx context.Context, userID, message string, action *MessageAction) error {
	return s.trail.Do(ctx, "SEND_ADMIN_MESSAGE", func(ctx context.Context) error {
		if !validate.UserID(userID) {
			return errs.Validation("Invalid user ID format", "user_id")
		}
		if !s.validator.MessageContent(ctx, message) {
			return errs.Validation("Invalid message content", "message")
		}
		id, _ := strconv.ParseInt(userID, 10, 64)
		message = validate.SanitizeInput(message)

		actionType, actionText := defaultActionType, defaultActionText
		var actionData sql.NullString
		if action != nil {
			if action.Type != "" {
				actionType = action.Type
			}
			if action.Text != "" {
				actionText = action.Text
			}
			if len(action.Data) > 0 {
				b, err := json.Marshal(action.Data)
				if err != nil {
					return errs.Validation("Invalid message action data", "action_data")
				}
				actionData = sql.NullString{String: string(b), Valid: true}
			}
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO ind_messages (content, timestamp, sender_id, ind_chat_id, action_type, action_text, action_data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			message, s.now().Unix(), AdminSenderID, id, actionType, actionText, actionData)
		if err != nil {
			return s.dbError("send_message", err)
		}

		s.trail.LogAction(ctx, "MESSAGE_SENT", map[string]any{
			"recipient_id":   userID,
			"message_length": len(message),
			"has_action":     action != nil && action.Type != "",
		}, true)
		return nil
	})
}

// PermanentBan archives a user into deleted_users and removes the account.
func (s *ModerationService) PermanentBan(ctx context.Context, userID, reason string) error {
	return s.trail.Do(ctx, "PERMANENT_BAN_USER", func(ctx context.Context) error {
		if !validate.UserID(userID) {
			return errs.Validation("Invalid user ID format", "user_id")
		}
		if reason == "" || utf8.RuneCountInString(reason) > MaxBanReasonLength {
			return errs.Validation(fmt.Sprintf("Ban reason is required and must be under %d characters", MaxBanReasonLength), "reason")
		}
		id, _ := strconv.ParseInt(userID, 10, 64)
		reason = validate.SanitizeInput(reason)

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return s.dbError("permanent_ban", err)
		}
		defer tx.Rollback()

		var user models.User
		err = tx.GetContext(ctx, &user, userByIDQuery, id)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.UserNotFound(userID)
		}
		if err != nil {
			return s.dbError("permanent_ban", err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO deleted_users (user_id, name, email, phone, reason) VALUES (?, ?, ?, ?, ?)",
			user.ID, user.Name, user.Email, user.Phone, reason); err != nil {
			return s.dbError("permanent_ban", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", user.ID); err != nil {
			return s.dbError("permanent_ban", err)
		}
		if err := tx.Commit(); err != nil {
			return s.dbError("permanent_ban", err)
		}

		s.trail.LogAction(ctx, "USER_BANNED", map[string]any{
			"banned_user_id":  user.ID,
			"banned_username": user.Name.String,
			"ban_reason":      truncate(reason, 100),
		}, true)
		return nil
	})
}

type reportRow struct {
	ReportedID   int64  `db:"reported_id"`
	ReportCount  int    `db:"report_count"`
	ReportedName string `db:"reported_name"`
}

// PendingReports lists users reported more than once, most reported first.
func (s *ModerationService) PendingReports(ctx context.Context) ([]models.Report, error) {
	var rows []reportRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT r.reported_id AS reported_id, COUNT(r.id) AS report_count, COALESCE(u.name, '') AS reported_name
		FROM reported_users r
		LEFT JOIN users u ON r.reported_id = u.id
		GROUP BY r.reported_id, u.name
		HAVING COUNT(r.id) > 1
		ORDER BY report_count DESC, r.reported_id`)
	if err != nil {
		return nil, s.dbError("pending_reports", err)
	}

	reports := make([]models.Report, 0, len(rows))
	for _, row := range rows {
		reporters := []string{}
		err := s.db.SelectContext(ctx, &reporters, `
			SELECT u.name FROM users u
			JOIN reported_users r ON r.reporter_id = u.id
			WHERE r.reported_id = ? AND u.name IS NOT NULL AND u.name <> ''
			ORDER BY r.id`, row.ReportedID)
		if err != nil {
			return nil, s.dbError("pending_reports", err)
		}

		name := row.ReportedName
		if name == "" {
			name = fmt.Sprintf("User %d", row.ReportedID)
		}
		reports = append(reports, models.Report{
			ID:             fmt.Sprintf("rep_%d", row.ReportedID),
			ReportedUser:   name,
			ReportedUserID: strconv.FormatInt(row.ReportedID, 10),
			Description:    fmt.Sprintf("User has been reported %d times by different users", row.ReportCount),
			ReportCount:    row.ReportCount,
			Reporters:      reporters,
		})
	}
	return reports, nil
}

const maxFeedbackRows = 100

type feedbackRow struct {
	ID        int64          `db:"id"`
	UserID    sql.NullInt64  `db:"user_id"`
	UserName  sql.NullString `db:"user_name"`
	Message   sql.NullString `db:"feedback"`
	Rating    sql.NullInt64  `db:"rating"`
	CreatedAt sql.NullTime   `db:"created_at"`
}

// SentFeedback lists user feedback, rated entries first from the lowest
// rating up, then unrated entries newest first. A non-empty query keeps
// entries whose user name or message contains it, or whose user id equals
// it.
func (s *ModerationService) SentFeedback(ctx context.Context, query string) ([]models.Feedback, error) {
	query = strings.TrimSpace(query)
	if query != "" && !s.validator.SearchQuery(ctx, query) {
		return nil, errs.Validation("Invalid search query. Please check your input.", "query")
	}

	var rows []feedbackRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT f.id AS id, f.user_id AS user_id, u.name AS user_name, f.feedback AS feedback,
			f.rating AS rating, f.created_at AS created_at
		FROM feedback f
		LEFT JOIN users u ON u.id = f.user_id
		ORDER BY CASE WHEN f.rating IS NULL OR f.rating = 0 THEN 2 ELSE 1 END, f.rating ASC, f.id DESC
		LIMIT ?`, maxFeedbackRows)
	if err != nil {
		return nil, s.dbError("sent_feedback", err)
	}

	needle := strings.ToLower(query)
	out := make([]models.Feedback, 0, len(rows))
	for _, row := range rows {
		fb := models.Feedback{
			ID:        row.ID,
			UserID:    row.UserID.Int64,
			UserName:  fmt.Sprintf("User %d", row.UserID.Int64),
			Message:   "No feedback",
			Rating:    int(row.Rating.Int64),
			Timestamp: unknownValue,
		}
		if row.UserName.Valid && row.UserName.String != "" {
			fb.UserName = row.UserName.String
		}
		if row.Message.Valid {
			fb.Message = row.Message.String
		}
		if row.CreatedAt.Valid {
			fb.Timestamp = row.CreatedAt.Time.Format(timestampLayout)
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(fb.UserName), needle) &&
			!strings.Contains(strings.ToLower(fb.Message), needle) &&
			strconv.FormatInt(fb.UserID, 10) != query {
			continue
		}
		out = append(out, fb)
	}
	return out, nil
}

func (s *ModerationService) dbError(op string, err error) error {
	s.logger.Error("Database error", zap.String("operation", op), zap.Error(err))
	return errs.HandleDatabase(op, err)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
