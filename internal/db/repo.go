package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"intake-triage/pkg"
)

// ErrSessionNotFound is returned when a session ID does not exist or is not
// a valid UUID.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned when writing to a session a clinician has
// already closed.
var ErrSessionClosed = errors.New("session closed")

// Repository wraps database operations for sessions, messages and summaries.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

func parseID(sessionID string) (uuid.UUID, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}
	return id, nil
}

// CreateSession opens a new anonymous intake session.
func (r *Repository) CreateSession(ctx context.Context, messageCap int, clientIP, userAgent *string) (*pkg.Session, error) {
	s := pkg.Session{
		ID:         uuid.NewString(),
		MessageCap: messageCap,
		ClientIP:   clientIP,
		UserAgent:  userAgent,
	}
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO sessions (id, message_cap, client_ip, user_agent)
         VALUES ($1, $2, $3, $4)
         RETURNING created_at`,
		s.ID, messageCap, clientIP, userAgent,
	).Scan(&s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &s, nil
}

// GetSession loads a session by ID.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*pkg.Session, error) {
	id, err := parseID(sessionID)
	if err != nil {
		return nil, err
	}
	var s pkg.Session
	var closedAt pq.NullTime
	var clientIP, userAgent sql.NullString
	err = r.DB.QueryRowContext(ctx,
		`SELECT id, created_at, closed_at, message_cap, client_ip, user_agent
         FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.CreatedAt, &closedAt, &s.MessageCap, &clientIP, &userAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	if closedAt.Valid {
		s.ClosedAt = &closedAt.Time
	}
	if clientIP.Valid {
		s.ClientIP = &clientIP.String
	}
	if userAgent.Valid {
		s.UserAgent = &userAgent.String
	}
	return &s, nil
}

// CloseSession marks a session as reviewed so it leaves the queue.
// Closing twice returns ErrSessionClosed.
func (r *Repository) CloseSession(ctx context.Context, sessionID string) error {
	id, err := parseID(sessionID)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET closed_at = NOW() WHERE id = $1 AND closed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}
	return nil
}

// CreateMessage stores a new message.  Writes to closed sessions are
// rejected with ErrSessionClosed.
func (r *Repository) CreateMessage(ctx context.Context, m *pkg.Message) error {
	id, err := parseID(m.SessionID)
	if err != nil {
		return err
	}
	var risk sql.NullInt64
	if m.RiskScore != nil {
		risk = sql.NullInt64{Int64: int64(*m.RiskScore), Valid: true}
	}
	err = r.DB.QueryRowContext(ctx,
		`INSERT INTO messages (session_id, role, content, risk_score, analysis, source)
         SELECT id, $2, $3, $4, $5, $6 FROM sessions WHERE id = $1 AND closed_at IS NULL
         RETURNING id, created_at`,
		id, m.Role, m.Content, risk, m.Analysis, string(m.Source),
	).Scan(&m.ID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetSession(ctx, m.SessionID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrSessionClosed, m.SessionID)
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetTranscript returns all messages of a session ordered by creation time.
func (r *Repository) GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error) {
	id, err := parseID(sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, session_id, role, content, risk_score, analysis, source, created_at
         FROM messages
         WHERE session_id = $1
         ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("select transcript: %w", err)
	}
	defer rows.Close()
	var transcript []pkg.Message
	for rows.Next() {
		var m pkg.Message
		var risk sql.NullInt64
		var source string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &risk, &m.Analysis, &source, &m.CreatedAt); err != nil {
			return nil, err
		}
		if risk.Valid {
			v := int(risk.Int64)
			m.RiskScore = &v
		}
		m.Source = pkg.ReplySource(source)
		transcript = append(transcript, m)
	}
	return transcript, rows.Err()
}

// CountPatientMessages counts patient messages in a session for message-cap
// enforcement.
func (r *Repository) CountPatientMessages(ctx context.Context, sessionID string) (int, error) {
	id, err := parseID(sessionID)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1 AND role = 'patient'`, id,
	).Scan(&count)
	return count, err
}

// UpsertSummary inserts or replaces the summary of a session.
func (r *Repository) UpsertSummary(ctx context.Context, s *pkg.Summary) error {
	id, err := parseID(s.SessionID)
	if err != nil {
		return err
	}
	var peak sql.NullInt64
	if s.PeakRiskScore != nil {
		peak = sql.NullInt64{Int64: int64(*s.PeakRiskScore), Valid: true}
	}
	err = r.DB.QueryRowContext(ctx,
		`INSERT INTO summaries (session_id, key_points, covered_topics, peak_risk_score, risk_band,
                                safety_concern, latest_analysis, free_text, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
         ON CONFLICT (session_id) DO UPDATE SET
             key_points = EXCLUDED.key_points,
             covered_topics = EXCLUDED.covered_topics,
             peak_risk_score = EXCLUDED.peak_risk_score,
             risk_band = EXCLUDED.risk_band,
             safety_concern = EXCLUDED.safety_concern,
             latest_analysis = EXCLUDED.latest_analysis,
             free_text = EXCLUDED.free_text,
             updated_at = EXCLUDED.updated_at
         RETURNING id`,
		id, pq.Array(s.KeyPoints), pq.Array(s.CoveredTopics), peak, string(s.RiskBand),
		s.SafetyConcern, s.LatestAnalysis, s.FreeText, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// GetSummary returns the summary of a session, or nil when none exists yet.
func (r *Repository) GetSummary(ctx context.Context, sessionID string) (*pkg.Summary, error) {
	id, err := parseID(sessionID)
	if err != nil {
		return nil, err
	}
	var s pkg.Summary
	var peak sql.NullInt64
	var band string
	err = r.DB.QueryRowContext(ctx,
		`SELECT id, session_id, key_points, covered_topics, peak_risk_score, risk_band,
                safety_concern, latest_analysis, free_text, updated_at
         FROM summaries WHERE session_id = $1`, id,
	).Scan(&s.ID, &s.SessionID, pq.Array(&s.KeyPoints), pq.Array(&s.CoveredTopics), &peak, &band,
		&s.SafetyConcern, &s.LatestAnalysis, &s.FreeText, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select summary: %w", err)
	}
	if peak.Valid {
		v := int(peak.Int64)
		s.PeakRiskScore = &v
	}
	s.RiskBand = pkg.RiskBand(band)
	return &s, nil
}

// ListQueue returns open sessions for the clinician dashboard, highest risk
// band first and most recent activity first within a band.
func (r *Repository) ListQueue(ctx context.Context, limit int) ([]pkg.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT s.id,
                COALESCE(sm.risk_band, 'unassessed'),
                sm.peak_risk_score,
                COALESCE(sm.safety_concern, FALSE),
                COALESCE(sm.key_points, '{}'),
                COALESCE(sm.updated_at, s.created_at),
                COALESCE(MAX(m.created_at), s.created_at) AS last_message
         FROM sessions s
         LEFT JOIN summaries sm ON sm.session_id = s.id
         LEFT JOIN messages m ON m.session_id = s.id
         WHERE s.closed_at IS NULL
         GROUP BY s.id, sm.id
         ORDER BY CASE COALESCE(sm.risk_band, 'unassessed')
                      WHEN 'high' THEN 0
                      WHEN 'moderate' THEN 1
                      WHEN 'low' THEN 2
                      ELSE 3
                  END,
                  last_message DESC
         LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select queue: %w", err)
	}
	defer rows.Close()
	var out []pkg.QueueEntry
	for rows.Next() {
		var e pkg.QueueEntry
		var band string
		var peak sql.NullInt64
		if err := rows.Scan(&e.SessionID, &band, &peak, &e.SafetyConcern, pq.Array(&e.KeyPoints), &e.UpdatedAt, &e.LastMessage); err != nil {
			return nil, err
		}
		e.RiskBand = pkg.RiskBand(band)
		if peak.Valid {
			v := int(peak.Int64)
			e.PeakRiskScore = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
