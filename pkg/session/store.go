package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/olmchat/internal/observability"
	"github.com/harun/olmchat/internal/tracing"
	"github.com/harun/olmchat/pkg/naming"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "olmchat.session"

	idLength   = 8
	idAlphabet = "abcdefghijklmnopqrstuvwxyz"
	idAttempts = 10
)

// SaveResult reports the outcome of Store.Save.
type SaveResult struct {
	Renamed bool   `json:"renamed"`
	NewPath string `json:"newPath"`
}

// Store owns the on-disk representation of sessions.
type Store struct {
	dir      string
	resolver *naming.Resolver
	logger   zerolog.Logger

	idsOnce sync.Once
	idsMu   sync.Mutex
	ids     map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("component", "session-store").Logger()
	}
}

// WithResolver replaces the name resolver.
func WithResolver(r *naming.Resolver) Option {
	return func(s *Store) {
		if r != nil {
			s.resolver = r
		}
	}
}

// NewStore creates a store rooted at dir, creating the directory when needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".olmchat", "sessions")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sessions directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		dir:      abs,
		resolver: naming.NewResolver(Extension),
		logger:   zerolog.Nop(),
		ids:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info().Str("dir", abs).Msg("Session store initialized")
	return s, nil
}

// Dir returns the absolute storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Create persists a new session built from draft and returns it with its
// resolved name, path and id.
func (s *Store) Create(ctx context.Context, draft Draft) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.create")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()

	created, err := s.create(draft)
	observability.RecordSessionOperation("create", time.Since(start), err == nil)
	if err != nil {
		logger.Error().Err(err).Msg("Session create failed")
		return nil, tracing.Fail(span, err)
	}

	span.SetAttributes(
		attribute.String("session_id", created.ID),
		attribute.String("session_name", created.SessionName),
	)
	logger.Info().
		Str("session_id", created.ID).
		Str("file", created.FilePath).
		Msg("Session created")

	return created, nil
}

func (s *Store) create(draft Draft) (*Session, error) {
	if draft.CreatedAt <= 0 {
		return nil, fmt.Errorf("%w: createdAt must be a positive epoch-millisecond timestamp", ErrValidation)
	}
	if err := validateMessages(draft.Messages); err != nil {
		return nil, err
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	stem, err := s.resolver.Resolve(draft.titleCandidate(), s.exists, naming.CreateRetries)
	if err != nil {
		return nil, err
	}

	lastUpdated := draft.LastUpdated
	if lastUpdated == 0 {
		lastUpdated = draft.CreatedAt
	}

	created := &Session{
		ID:          id,
		SessionName: stem,
		FilePath:    s.pathFor(stem),
		CreatedAt:   draft.CreatedAt,
		LastUpdated: lastUpdated,
		Messages:    append([]Message(nil), draft.Messages...),
	}

	if err := s.writeFile(created); err != nil {
		return nil, err
	}
	s.rememberID(id)

	return created, nil
}

// List returns every parsable session in the storage directory, most
// recently updated first. Unparsable files are logged and skipped.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.list")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()

	sessions, corrupt, err := s.scan(logger)
	observability.RecordSessionOperation("list", time.Since(start), err == nil)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}
	observability.SetStoredSessions(len(sessions), corrupt)

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastUpdated > sessions[j].LastUpdated
	})

	span.SetAttributes(attribute.Int("sessions", len(sessions)), attribute.Int("corrupt", corrupt))
	logger.Debug().Int("sessions", len(sessions)).Int("corrupt", corrupt).Msg("Sessions listed")

	return sessions, nil
}

// scanFiles returns the paths of every session file in the storage directory.
func (s *Store) scanFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sessions directory: %v", ErrPersistence, err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	return paths, nil
}

func (s *Store) scan(logger zerolog.Logger) ([]Session, int, error) {
	paths, err := s.scanFiles()
	if err != nil {
		return nil, 0, err
	}

	sessions := make([]Session, 0, len(paths))
	corrupt := 0
	for _, path := range paths {
		sess, err := readSessionFile(path)
		if err != nil {
			corrupt++
			logger.Warn().
				Err(err).
				Str("file", filepath.Base(path)).
				Msg("Failed to parse session file, skipping")
			continue
		}

		if sess.ID == "" {
			sess.ID = stemOf(path)
		}
		if sess.SessionName == "" {
			sess.SessionName = stemOf(path)
		}
		sess.FilePath = path
		sessions = append(sessions, *sess)
	}

	return sessions, corrupt, nil
}

// Read returns the session stored at filePath. Missing, unreadable and
// unparsable files are all reported as ErrNotFound.
func (s *Store) Read(ctx context.Context, filePath string) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.read", attribute.String("file", filePath))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()

	sess, err := s.read(filePath)
	observability.RecordSessionOperation("read", time.Since(start), err == nil)
	if err != nil {
		logger.Debug().Err(err).Str("file", filePath).Msg("Session read failed")
		return nil, tracing.Fail(span, err)
	}

	return sess, nil
}

func (s *Store) read(filePath string) (*Session, error) {
	if filePath == "" {
		return nil, fmt.Errorf("%w: filePath is required", ErrValidation)
	}

	path, ok := s.contain(filePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filePath)
	}

	sess, err := readSessionFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, filepath.Base(path), err)
	}
	return sess, nil
}

// Save writes the full session. A session still carrying the placeholder
// title is first renamed after its first user message; that rename is best
// effort and never fails the save.
func (s *Store) Save(ctx context.Context, sess *Session) (SaveResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.save")
	defer span.End()
	if sess != nil {
		ctx = tracing.WithSessionID(ctx, sess.ID)
		span.SetAttributes(attribute.String("session_id", sess.ID))
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()

	result, err := s.save(logger, sess)
	observability.RecordSessionOperation("save", time.Since(start), err == nil)
	if err != nil {
		logger.Error().Err(err).Msg("Session save failed")
		return SaveResult{}, tracing.Fail(span, err)
	}

	span.SetAttributes(attribute.Bool("renamed", result.Renamed))
	logger.Debug().
		Bool("renamed", result.Renamed).
		Str("file", result.NewPath).
		Int("messages", len(sess.Messages)).
		Msg("Session saved")

	return result, nil
}

func (s *Store) save(logger zerolog.Logger, sess *Session) (SaveResult, error) {
	if sess == nil {
		return SaveResult{}, fmt.Errorf("%w: session is required", ErrValidation)
	}
	if err := validateMessages(sess.Messages); err != nil {
		return SaveResult{}, err
	}

	name := sess.SessionName
	if name == "" {
		name = stemOf(sess.FilePath)
	}
	if !validStem(name) {
		return SaveResult{}, fmt.Errorf("%w: session name %q is not a valid file stem", ErrValidation, name)
	}
	sess.SessionName = name
	sess.FilePath = s.pathFor(name)

	var result SaveResult
	if naming.IsPlaceholder(filepath.Base(sess.FilePath)) {
		result.Renamed = s.renamePlaceholder(logger, sess)
	}

	if err := s.writeFile(sess); err != nil {
		return SaveResult{}, err
	}

	result.NewPath = sess.FilePath
	return result, nil
}

// renamePlaceholder moves a placeholder-titled file to a name derived from
// the first user message. Any failure leaves the session untouched.
func (s *Store) renamePlaceholder(logger zerolog.Logger, sess *Session) bool {
	content := sess.FirstUserContent()
	if strings.TrimSpace(content) == "" {
		return false
	}

	stem, err := s.resolver.Resolve(content, s.exists, naming.RenameRetries)
	if err != nil {
		logger.Debug().Err(err).Msg("Rename skipped: no free name")
		return false
	}
	if naming.IsPlaceholder(stem) {
		return false
	}

	newPath := s.pathFor(stem)
	if err := os.Rename(sess.FilePath, newPath); err != nil {
		logger.Debug().Err(err).Str("from", sess.FilePath).Msg("Rename skipped")
		return false
	}

	logger.Info().
		Str("from", filepath.Base(sess.FilePath)).
		Str("to", filepath.Base(newPath)).
		Msg("Session renamed")
	observability.RecordSessionRename()

	sess.FilePath = newPath
	sess.SessionName = stem
	return true
}

func (s *Store) pathFor(stem string) string {
	return filepath.Join(s.dir, stem+Extension)
}

func (s *Store) exists(filename string) bool {
	_, err := os.Stat(filepath.Join(s.dir, filename))
	return err == nil
}

// contain maps filePath onto a session file directly inside the storage directory.
func (s *Store) contain(filePath string) (string, bool) {
	path := filePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	path = filepath.Clean(path)

	if filepath.Dir(path) != s.dir || !strings.HasSuffix(path, Extension) {
		return "", false
	}
	return path, true
}

// writeFile replaces the session file through a temp file in the same directory.
func (s *Store) writeFile(sess *Session) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sess); err != nil {
		return fmt.Errorf("%w: failed to marshal session: %v", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write session: %v", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to sync session: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close session: %v", ErrPersistence, err)
	}

	if err := os.Rename(tmpName, sess.FilePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to replace session file: %v", ErrPersistence, err)
	}

	return nil
}

func (s *Store) newID() (string, error) {
	s.idsOnce.Do(s.loadIDs)

	s.idsMu.Lock()
	defer s.idsMu.Unlock()

	for i := 0; i < idAttempts; i++ {
		id, err := gonanoid.Generate(idAlphabet, idLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate session id: %w", err)
		}
		if _, taken := s.ids[id]; !taken {
			s.ids[id] = struct{}{}
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique session id after %d attempts", idAttempts)
}

func (s *Store) rememberID(id string) {
	s.idsMu.Lock()
	s.ids[id] = struct{}{}
	s.idsMu.Unlock()
}

// loadIDs seeds the id set from the sessions already on disk.
func (s *Store) loadIDs() {
	sessions, _, err := s.scan(zerolog.Nop())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to seed session ids")
		return
	}

	s.idsMu.Lock()
	for _, sess := range sessions {
		s.ids[sess.ID] = struct{}{}
	}
	s.idsMu.Unlock()
}

// readSessionFile parses a session file. Files holding a JSON string that
// itself encodes the session are decoded twice.
func readSessionFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, err
		}
		data = []byte(inner)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
