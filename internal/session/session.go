// Package session manages browser sessions for the web UI: creation,
// authoritative validation, metadata updates, and expiry sweeps. The backing
// store is pluggable (Postgres in production, memory in tests).
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// DefaultDuration is the session lifetime when the caller does not pass one.
const DefaultDuration = 24 * time.Hour

// cleanupScanCap bounds how many rows one expiry sweep examines.
const cleanupScanCap = 1000

// Validation failure reasons.
const (
	ReasonNoID     = "No session ID provided"
	ReasonNotFound = "Session not found"
	ReasonExpired  = "Session expired"
)

// ErrNotFound is returned by Update for a missing session.
var ErrNotFound = errors.New("session not found")

// Session is one authenticated browser session.
type Session struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	ExpiresAt time.Time              `json:"expiresAt"`
	CreatedAt time.Time              `json:"createdAt"`
	IPAddress string                 `json:"ipAddress,omitempty"`
	UserAgent string                 `json:"userAgent,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// Backend is the persistence surface the store drives. Get returns (nil, nil)
// for a missing id.
type Backend interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	List(ctx context.Context, limit int) ([]*Session, error)
	Close()
}

// Store implements the session lifecycle over a Backend.
type Store struct {
	backend Backend
	clock   clock.Clock
}

// NewStore builds a session store. The backend is mandatory; constructing a
// store without one is programmatic misuse.
func NewStore(backend Backend, clk clock.Clock) (*Store, error) {
	if backend == nil {
		return nil, errors.New("session store requires a backend; use NewMemoryBackend() or NewPGBackend(ctx, dsn)")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Store{backend: backend, clock: clk}, nil
}

// CreateResult is returned by Create.
type CreateResult struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Session   *Session  `json:"session"`
}

// Create opens a new session for a user. duration <= 0 means DefaultDuration.
func (s *Store) Create(ctx context.Context, userID string, metadata map[string]interface{}, ip, userAgent string, duration time.Duration) (*CreateResult, error) {
	if userID == "" {
		return nil, errors.New("userId is required")
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	now := s.clock.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(duration),
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
		Metadata:  metadata,
	}
	if err := s.backend.Insert(ctx, sess); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &CreateResult{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt, Session: sess}, nil
}

// ValidationResult reports whether a session id is currently valid.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Session *Session `json:"session,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Validate is authoritative: an expired session never validates, whether or
// not the sweeper has run, and validation destroys the expired row.
func (s *Store) Validate(ctx context.Context, id string) (*ValidationResult, error) {
	if id == "" {
		return &ValidationResult{Valid: false, Reason: ReasonNoID}, nil
	}
	sess, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return &ValidationResult{Valid: false, Reason: ReasonNotFound}, nil
	}
	if !s.clock.Now().UTC().Before(sess.ExpiresAt) {
		if _, err := s.backend.Delete(ctx, id); err != nil {
			log.Printf("[session] Destroy expired %s: %v", id, err)
		}
		return &ValidationResult{Valid: false, Reason: ReasonExpired}, nil
	}
	return &ValidationResult{Valid: true, Session: sess}, nil
}

// Get returns the session record without side effects, or nil.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	return s.backend.Get(ctx, id)
}

// Update merges a metadata patch into the session.
func (s *Store) Update(ctx context.Context, id string, patch map[string]interface{}) (*Session, error) {
	sess, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]interface{}{}
	}
	for k, v := range patch {
		sess.Metadata[k] = v
	}
	if err := s.backend.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return sess, nil
}

// Destroy deletes a session, reporting whether a row existed.
func (s *Store) Destroy(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return s.backend.Delete(ctx, id)
}

// DestroyUserSessions deletes all of a user's sessions and returns the count.
func (s *Store) DestroyUserSessions(ctx context.Context, userID string) (int, error) {
	sessions, err := s.backend.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}
	count := 0
	for _, sess := range sessions {
		existed, err := s.backend.Delete(ctx, sess.ID)
		if err != nil {
			log.Printf("[session] Destroy %s: %v", sess.ID, err)
			continue
		}
		if existed {
			count++
		}
	}
	return count, nil
}

// GetUserSessions returns a user's active sessions, destroying any expired
// ones it encounters.
func (s *Store) GetUserSessions(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := s.backend.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	now := s.clock.Now().UTC()
	active := make([]*Session, 0, len(sessions))
	for _, sess := range sessions {
		if now.Before(sess.ExpiresAt) {
			active = append(active, sess)
			continue
		}
		if _, err := s.backend.Delete(ctx, sess.ID); err != nil {
			log.Printf("[session] Destroy expired %s: %v", sess.ID, err)
		}
	}
	return active, nil
}

// CleanupExpired scans the store (capped) and destroys expired sessions,
// returning how many it removed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	sessions, err := s.backend.List(ctx, cleanupScanCap)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	now := s.clock.Now().UTC()
	count := 0
	for _, sess := range sessions {
		if now.Before(sess.ExpiresAt) {
			continue
		}
		existed, err := s.backend.Delete(ctx, sess.ID)
		if err != nil {
			log.Printf("[session] Cleanup %s: %v", sess.ID, err)
			continue
		}
		if existed {
			count++
		}
	}
	return count, nil
}

// StartSweeper runs CleanupExpired every interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := s.clock.Ticker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.CleanupExpired(ctx); err != nil {
					log.Printf("[session] Sweep: %v", err)
				} else if n > 0 {
					log.Printf("[session] Swept %d expired sessions", n)
				}
			}
		}
	}()
}

// Close releases the backend.
func (s *Store) Close() {
	s.backend.Close()
}
