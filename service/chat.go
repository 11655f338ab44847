package service

import (
	"context"
	"fmt"
	"sort"
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
	ChatActivity   = "activity"
	ChatIndividual = "individual"

	DefaultMessageSearchLimit = 100
	MaxMessageSearchLimit     = 500

	MinKeywordLength    = 2
	MinFlagReasonLength = 5
	MaxFlagReasonLength = 1000

	directMessageName = "Direct Message"
)

// ChatService lets moderators search chat history and flag messages.
type ChatService struct {
	db        *sqlx.DB
	trail     *audit.Trail
	validator *validate.Validator
	logger    *zap.Logger
}

func NewChatService(db *sqlx.DB, trail *audit.Trail, validator *validate.Validator, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{db: db, trail: trail, validator: validator, logger: logger}
}

type hitRow struct {
	ID         int64  `db:"id"`
	ChatID     int64  `db:"chat_id"`
	ChatName   string `db:"chat_name"`
	SenderID   int64  `db:"sender_id"`
	SenderName string `db:"sender_name"`
	Content    string `db:"content"`
	Timestamp  int64  `db:"ts"`
	Deleted    bool   `db:"deleted"`
}

const (
	activityHitsQuery = `
		SELECT m.id AS id, COALESCE(m.chat_id, 0) AS chat_id, COALESCE(c.activity_name, '') AS chat_name,
			COALESCE(m.sender_id, 0) AS sender_id, COALESCE(u.name, '') AS sender_name,
			COALESCE(m.content, '') AS content, COALESCE(m.timestamp, 0) AS ts, COALESCE(m.is_deleted, 0) AS deleted
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		LEFT JOIN chat_meta c ON c.id = m.chat_id
		WHERE LOWER(m.content) LIKE ? ESCAPE '!'
		ORDER BY m.timestamp DESC
		LIMIT ?`

	individualHitsQuery = `
		SELECT m.id AS id, m.ind_chat_id AS chat_id, '' AS chat_name,
			COALESCE(m.sender_id, 0) AS sender_id, COALESCE(u.name, '') AS sender_name,
			COALESCE(m.content, '') AS content, COALESCE(m.timestamp, 0) AS ts, 0 AS deleted
		FROM ind_messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE LOWER(m.content) LIKE ? ESCAPE '!'
		ORDER BY m.timestamp DESC
		LIMIT ?`
)

// SearchMessages finds group and direct messages containing keyword,
// ignoring case. Each source contributes at most half of limit; the merged
// result is newest first.
func (s *ChatService) SearchMessages(ctx context.Context, keyword string, limit int) ([]models.MessageHit, error) {
	keyword = strings.TrimSpace(keyword)
	if utf8.RuneCountInString(keyword) < MinKeywordLength {
		return nil, errs.Validation(fmt.Sprintf("Search keyword must be at least %d characters", MinKeywordLength), "keyword")
	}
	if !s.validator.SearchQuery(ctx, keyword) {
		return nil, errs.Validation("Invalid search query. Please check your input.", "keyword")
	}
	if limit <= 0 {
		limit = DefaultMessageSearchLimit
	}
	limit = min(limit, MaxMessageSearchLimit)
	per := max(limit/2, 1)

	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
	var activity, individual []hitRow
	if err := s.db.SelectContext(ctx, &activity, activityHitsQuery, pattern, per); err != nil {
		return nil, s.dbError("search_messages", err)
	}
	if err := s.db.SelectContext(ctx, &individual, individualHitsQuery, pattern, per); err != nil {
		return nil, s.dbError("search_messages", err)
	}

	hits := make([]models.MessageHit, 0, len(activity)+len(individual))
	for _, r := range activity {
		hits = append(hits, toHit(r, ChatActivity, unknownValue))
	}
	for _, r := range individual {
		hits = append(hits, toHit(r, ChatIndividual, directMessageName))
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Raw > hits[j].Raw })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func toHit(r hitRow, chatType, fallbackName string) models.MessageHit {
	h := models.MessageHit{
		Type:       chatType,
		MessageID:  r.ID,
		ChatID:     r.ChatID,
		ChatName:   r.ChatName,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		Content:    r.Content,
		Timestamp:  unknownValue,
		Deleted:    r.Deleted,
		Raw:        r.Timestamp,
	}
	if h.ChatName == "" {
		h.ChatName = fallbackName
	}
	if h.SenderName == "" {
		h.SenderName = unknownValue
	}
	if r.Timestamp > 0 {
		h.Timestamp = time.Unix(r.Timestamp, 0).UTC().Format(timestampLayout)
	}
	return h
}

// FlagMessage records a moderator flag. A flagged group message is hidden
// by marking it deleted; direct messages are left untouched. Flagging an
// id that no longer exists still records the flag.
func (s *ChatService) FlagMessage(ctx context.Context, messageID, chatType, reason string) error {
	return s.trail.Do(ctx, "FLAG_MESSAGE", func(ctx context.Context) error {
		id, err := strconv.ParseInt(messageID, 10, 64)
		if err != nil || id < 1 {
			return errs.Validation("Invalid message ID format", "message_id")
		}
		if chatType != ChatActivity && chatType != ChatIndividual {
			return errs.Validation(fmt.Sprintf("Invalid chat type '%s'. Must be one of: %s, %s",
				chatType, ChatActivity, ChatIndividual), "chat_type")
		}
		reason = strings.TrimSpace(reason)
		if n := utf8.RuneCountInString(reason); n < MinFlagReasonLength {
			return errs.Validation(fmt.Sprintf("Flag reason must be at least %d characters", MinFlagReasonLength), "reason")
		} else if n > MaxFlagReasonLength {
			return errs.Validation(fmt.Sprintf("Flag reason must be under %d characters", MaxFlagReasonLength), "reason")
		}
		reason = validate.SanitizeInput(reason)

		if chatType == ChatActivity {
			res, err := s.db.ExecContext(ctx, "UPDATE messages SET is_deleted = 1 WHERE id = ?", id)
			if err != nil {
				return s.dbError("flag_message", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				s.logger.Warn("Flagged message not found", zap.Int64("message_id", id))
			}
		}

		s.trail.LogAction(ctx, "MESSAGE_FLAGGED", map[string]any{
			"message_id": id,
			"chat_type":  chatType,
			"reason":     truncate(reason, 100),
		}, true)
		return nil
	})
}

// ChatStats counts chats and messages. Direct chats are counted by the
// distinct conversations that have messages.
func (s *ChatService) ChatStats(ctx context.Context) (*models.ChatStats, error) {
	st := &models.ChatStats{}
	counts := []struct {
		dst   *int
		query string
	}{
		{&st.ActivityChats, "SELECT COUNT(*) FROM chat_meta"},
		{&st.IndividualChats, "SELECT COUNT(DISTINCT ind_chat_id) FROM ind_messages"},
		{&st.ActivityMessages, "SELECT COUNT(*) FROM messages"},
		{&st.IndividualMessages, "SELECT COUNT(*) FROM ind_messages"},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dst, c.query); err != nil {
			return nil, s.dbError("chat_stats", err)
		}
	}
	return st, nil
}

func (s *ChatService) dbError(op string, err error) error {
	s.logger.Error("Database error", zap.String("operation", op), zap.Error(err))
	return errs.HandleDatabase(op, err)
}
