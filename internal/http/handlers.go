package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"intake-triage/internal/core"
	"intake-triage/internal/db"
	"intake-triage/internal/logger"
	"intake-triage/internal/metrics"
	"intake-triage/internal/triage"
	"intake-triage/pkg"
)

// Store is the persistence the handlers need.  *db.Repository satisfies it.
type Store interface {
	CreateSession(ctx context.Context, messageCap int, clientIP, userAgent *string) (*pkg.Session, error)
	GetSession(ctx context.Context, sessionID string) (*pkg.Session, error)
	CloseSession(ctx context.Context, sessionID string) error
	CreateMessage(ctx context.Context, m *pkg.Message) error
	GetTranscript(ctx context.Context, sessionID string) ([]pkg.Message, error)
	CountPatientMessages(ctx context.Context, sessionID string) (int, error)
	UpsertSummary(ctx context.Context, s *pkg.Summary) error
	GetSummary(ctx context.Context, sessionID string) (*pkg.Summary, error)
	ListQueue(ctx context.Context, limit int) ([]pkg.QueueEntry, error)
}

// Notifier announces summary updates.  *db.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, sessionID string) error
	Subscribe(sessionID string) (<-chan struct{}, func())
}

// Options carries the tunables of a Server.
type Options struct {
	MessageCap     int
	QueueLimit     int
	RatePerSecond  float64
	RateBurst      int
	KeepAlive      time.Duration
	SummaryTimeout time.Duration
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.Server.
type Server struct {
	Store      Store
	Assessor   *core.Assessor
	Summarizer *core.Summarizer
	Notifier   Notifier
	Metrics    *metrics.Collector
	Logger     *zap.Logger
	Options    Options

	limiter *sessionLimiter
	bg      sync.WaitGroup
}

// NewServer constructs a Server.
func NewServer(store Store, assessor *core.Assessor, summarizer *core.Summarizer, notifier Notifier,
	collector *metrics.Collector, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = 30 * time.Second
	}
	return &Server{
		Store:      store,
		Assessor:   assessor,
		Summarizer: summarizer,
		Notifier:   notifier,
		Metrics:    collector,
		Logger:     logger,
		Options:    opts,
		limiter:    newSessionLimiter(opts.RatePerSecond, opts.RateBurst),
	}
}

// Wait blocks until background summarisation started by handlers finishes.
func (s *Server) Wait() { s.bg.Wait() }

// ServeHTTP dispatches incoming requests based on the URL path.  Minimal
// routing logic is implemented here to keep dependencies light.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	route := s.dispatch(rec, r)
	if s.Metrics != nil {
		s.Metrics.ObserveRequest(r.Method, route, rec.status, time.Since(start))
	}
}

// dispatch runs the matching handler and returns its route label.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) string {
	path := strings.TrimSuffix(r.URL.Path, "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case path == "/healthz" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return "/healthz"
	case path == "/metrics" && r.Method == http.MethodGet && s.Metrics != nil:
		s.Metrics.Handler().ServeHTTP(w, r)
		return "/metrics"
	// Create a new session: POST /api/sessions
	case path == "/api/sessions" && r.Method == http.MethodPost:
		s.handleCreateSession(w, r)
		return "/api/sessions"
	// Post a message: POST /api/sessions/{id}/messages
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "sessions" && parts[3] == "messages" && r.Method == http.MethodPost:
		s.handlePostMessage(w, r, parts[2])
		return "/api/sessions/{id}/messages"
	// Patient transcript without clinician fields: GET /api/sessions/{id}/messages
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "sessions" && parts[3] == "messages" && r.Method == http.MethodGet:
		s.handlePatientTranscript(w, r, parts[2])
		return "/api/sessions/{id}/messages"
	case path == "/api/clinician/queue" && r.Method == http.MethodGet:
		s.handleQueue(w, r)
		return "/api/clinician/queue"
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "clinician" && parts[2] == "sessions" && r.Method == http.MethodGet:
		s.handleClinicianSession(w, r, parts[3])
		return "/api/clinician/sessions/{id}"
	case len(parts) == 5 && parts[0] == "api" && parts[1] == "clinician" && parts[2] == "sessions" && parts[4] == "stream" && r.Method == http.MethodGet:
		s.handleClinicianSSE(w, r, parts[3])
		return "/api/clinician/sessions/{id}/stream"
	case len(parts) == 5 && parts[0] == "api" && parts[1] == "clinician" && parts[2] == "sessions" && parts[4] == "close" && r.Method == http.MethodPost:
		s.handleCloseSession(w, r, parts[3])
		return "/api/clinician/sessions/{id}/close"
	default:
		http.NotFound(w, r)
		return "unmatched"
	}
}

// handleCreateSession opens an anonymous session and stores the opening
// assistant turn.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip, ua := clientIP(r), r.UserAgent()
	sess, err := s.Store.CreateSession(ctx, s.Options.MessageCap, &ip, &ua)
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.SessionsCreated.Inc()
	}

	reply, source, err := s.Assessor.Respond(ctx, sess.ID, nil)
	if err != nil {
		s.writeError(w, sess.ID, err)
		return
	}
	if err := s.storeReply(ctx, sess.ID, reply, source); err != nil {
		s.writeError(w, sess.ID, err)
		return
	}
	logger.WithSession(s.Logger, sess.ID).Info("session created", zap.String("source", string(source)))

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"start_url":  "/patient/sessions/" + sess.ID,
		"reply":      reply.Content,
	})
}

// handlePostMessage stores a patient message, generates the next assistant
// turn from the whole transcript and returns it without the analysis.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	content, err := readContent(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	if sess.ClosedAt != nil {
		s.writeError(w, sessionID, db.ErrSessionClosed)
		return
	}
	if !s.limiter.Allow(sessionID) {
		if s.Metrics != nil {
			s.Metrics.RateLimited.Inc()
		}
		w.Header().Set("Retry-After", "2")
		http.Error(w, "too many messages, please slow down", http.StatusTooManyRequests)
		return
	}

	count, err := s.Store.CountPatientMessages(ctx, sessionID)
	if err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	if count >= sess.MessageCap {
		if s.Metrics != nil {
			s.Metrics.CappedMessages.Inc()
		}
		capMsg := &pkg.Message{SessionID: sessionID, Role: pkg.RoleAssistant, Content: core.CapMessage, Source: pkg.SourceFallback}
		if err := s.Store.CreateMessage(ctx, capMsg); err != nil {
			s.writeError(w, sessionID, err)
			return
		}
		writeJSON(w, http.StatusOK, pkg.ChatResponse{Reply: core.CapMessage, Capped: true})
		return
	}

	if err := s.Store.CreateMessage(ctx, &pkg.Message{SessionID: sessionID, Role: pkg.RolePatient, Content: content}); err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	transcript, err := s.Store.GetTranscript(ctx, sessionID)
	if err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	turns := core.TurnsFromMessages(transcript)
	reply, source, err := s.Assessor.Respond(ctx, sessionID, turns)
	if err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	if err := s.storeReply(ctx, sessionID, reply, source); err != nil {
		s.writeError(w, sessionID, err)
		return
	}

	if s.Metrics != nil {
		s.Metrics.ObserveReply(string(source), string(core.RiskBand(reply.RiskScore)), reply.Content == triage.SafetyScript)
	}
	if triage.HasSafetyConcern(turns) {
		logger.WithSession(s.Logger, sessionID).Warn("safety concern in transcript", zap.String("source", string(source)))
	}

	s.summarizeAsync(sessionID)

	writeJSON(w, http.StatusOK, pkg.ChatResponse{
		Reply:      reply.Content,
		RiskScore:  reply.RiskScore,
		IsComplete: reply.IsComplete,
	})
}

func (s *Server) storeReply(ctx context.Context, sessionID string, reply triage.Reply, source pkg.ReplySource) error {
	return s.Store.CreateMessage(ctx, &pkg.Message{
		SessionID: sessionID,
		Role:      pkg.RoleAssistant,
		Content:   reply.Content,
		RiskScore: reply.RiskScore,
		Analysis:  reply.Analysis,
		Source:    source,
	})
}

// summarizeAsync refreshes the clinician summary in the background and
// notifies dashboards.  It is detached from the request context.
func (s *Server) summarizeAsync(sessionID string) {
	if s.Summarizer == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.Options.SummaryTimeout)
		defer cancel()
		log := logger.WithSession(s.Logger, sessionID)

		transcript, err := s.Store.GetTranscript(ctx, sessionID)
		if err != nil {
			log.Error("failed to load transcript", zap.Error(err))
			return
		}
		existing, err := s.Store.GetSummary(ctx, sessionID)
		if err != nil {
			log.Warn("failed to load previous summary", zap.Error(err))
		}
		summary, err := s.Summarizer.Summarize(ctx, sessionID, transcript, existing)
		if err != nil {
			log.Warn("model summary failed, keeping deterministic summary", zap.Error(err))
		}
		if summary == nil {
			return
		}
		if err := s.Store.UpsertSummary(ctx, summary); err != nil {
			log.Error("failed to upsert summary", zap.Error(err))
			return
		}
		if s.Notifier != nil {
			if err := s.Notifier.Notify(ctx, sessionID); err != nil {
				log.Warn("failed to notify summary update", zap.Error(err))
			}
		}
	}()
}

// handlePatientTranscript returns the patient-visible transcript.
func (s *Server) handlePatientTranscript(w http.ResponseWriter, r *http.Request, sessionID string) {
	transcript, err := s.Store.GetTranscript(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	type visible struct {
		Role      pkg.MessageRole `json:"role"`
		Content   string          `json:"content"`
		CreatedAt time.Time       `json:"created_at"`
	}
	out := make([]visible, 0, len(transcript))
	for _, m := range transcript {
		if m.Role == pkg.RoleSystem {
			continue
		}
		out = append(out, visible{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleQueue returns the risk-stratified list of open sessions.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := s.Store.ListQueue(r.Context(), s.Options.QueueLimit)
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	if queue == nil {
		queue = []pkg.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, queue)
}

// handleClinicianSession returns a session with its summary and the full
// transcript including analysis notes.
func (s *Server) handleClinicianSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	summary, err := s.Store.GetSummary(ctx, sessionID)
	if err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	transcript, err := s.Store.GetTranscript(ctx, sessionID)
	if err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":    sess,
		"summary":    summary,
		"transcript": transcript,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.Store.CloseSession(r.Context(), sessionID); err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	logger.WithSession(s.Logger, sessionID).Info("session closed")
	w.WriteHeader(http.StatusNoContent)
}

// handleClinicianSSE streams summary_update events for a session until the
// client disconnects.
func (s *Server) handleClinicianSSE(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx := r.Context()
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		s.writeError(w, sessionID, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var updates <-chan struct{}
	if s.Notifier != nil {
		ch, cancel := s.Notifier.Subscribe(sessionID)
		defer cancel()
		updates = ch
	}

	if err := s.sendSummaryEvent(ctx, w, sessionID); err != nil {
		logger.WithSession(s.Logger, sessionID).Warn("failed to send summary event", zap.Error(err))
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.Options.KeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			if err := s.sendSummaryEvent(ctx, w, sessionID); err != nil {
				logger.WithSession(s.Logger, sessionID).Warn("failed to send summary event", zap.Error(err))
				return
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

// sendSummaryEvent writes a summary_update event to the SSE response for the
// given session.  Nothing is written while no summary exists yet.
func (s *Server) sendSummaryEvent(ctx context.Context, w io.Writer, sessionID string) error {
	summary, err := s.Store.GetSummary(ctx, sessionID)
	if err != nil {
		return err
	}
	if summary == nil {
		return nil
	}
	payload := map[string]interface{}{
		"type":            "summary_update",
		"session_id":      sessionID,
		"risk_band":       summary.RiskBand,
		"peak_risk_score": summary.PeakRiskScore,
		"safety_concern":  summary.SafetyConcern,
		"key_points":      summary.KeyPoints,
		"free_text":       summary.FreeText,
		"updated_at":      summary.UpdatedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "event: summary_update\ndata: "+string(data)+"\n\n")
	return err
}

// writeError maps domain errors to status codes and logs the rest.
func (s *Server) writeError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, db.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, db.ErrSessionClosed):
		http.Error(w, "session closed", http.StatusConflict)
	case errors.Is(err, core.ErrInvalidTranscript):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.WithSession(s.Logger, sessionID).Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const maxMessageBytes = 8 << 10

// readContent accepts either a JSON body or a form post, as sent by the
// patient page.
func readContent(r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxMessageBytes)
	var content string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req pkg.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", fmt.Errorf("invalid json: %w", err)
		}
		content = req.Content
	} else {
		if err := r.ParseForm(); err != nil {
			return "", errors.New("invalid form")
		}
		content = r.FormValue("content")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("empty message")
	}
	return content, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
