package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/olmchat/internal/observability"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultAuditSchedule runs the audit every five minutes.
const DefaultAuditSchedule = "*/5 * * * *"

// AuditReport summarizes one scan of the storage directory.
type AuditReport struct {
	Valid   int      `json:"valid"`
	Corrupt int      `json:"corrupt"`
	Files   []string `json:"corruptFiles,omitempty"`
}

// Audit scans the storage directory and reports parsable and unparsable
// session files. It never modifies anything on disk.
func (s *Store) Audit(ctx context.Context) (AuditReport, error) {
	entries, err := s.scanFiles()
	if err != nil {
		return AuditReport{}, err
	}

	var report AuditReport
	for _, path := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := readSessionFile(path); err != nil {
			report.Corrupt++
			report.Files = append(report.Files, path)
			continue
		}
		report.Valid++
	}

	observability.SetStoredSessions(report.Valid, report.Corrupt)
	return report, nil
}

// Auditor runs Store.Audit on a cron schedule.
type Auditor struct {
	store    *Store
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewAuditor creates an auditor. An empty schedule uses DefaultAuditSchedule.
func NewAuditor(store *Store, schedule string, logger zerolog.Logger) (*Auditor, error) {
	if schedule == "" {
		schedule = DefaultAuditSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid audit schedule: %w", err)
	}

	return &Auditor{
		store:    store,
		schedule: schedule,
		logger:   logger.With().Str("component", "session-audit").Logger(),
		cron:     cron.New(cron.WithParser(parser)),
	}, nil
}

// Start registers the audit job and starts the scheduler.
func (a *Auditor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("auditor is already running")
	}

	if _, err := a.cron.AddFunc(a.schedule, a.RunOnce); err != nil {
		return fmt.Errorf("failed to schedule audit: %w", err)
	}
	a.cron.Start()
	a.running = true

	a.logger.Info().Str("schedule", a.schedule).Msg("Session auditor started")
	return nil
}

// Stop halts the scheduler and waits for a running audit to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	<-a.cron.Stop().Done()
	a.running = false

	a.logger.Info().Msg("Session auditor stopped")
}

// RunOnce performs a single audit and logs the outcome.
func (a *Auditor) RunOnce() {
	report, err := a.store.Audit(context.Background())
	if err != nil {
		a.logger.Error().Err(err).Msg("Session audit failed")
		return
	}

	event := a.logger.Debug()
	if report.Corrupt > 0 {
		event = a.logger.Warn().Strs("corrupt_files", report.Files)
	}
	event.
		Int("valid", report.Valid).
		Int("corrupt", report.Corrupt).
		Msg("Session audit complete")
}
