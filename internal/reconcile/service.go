// Package reconcile converges the dataset registry with the physical tables.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sheetqa/sheetqa/internal/dataset"
	"github.com/sheetqa/sheetqa/internal/ident"
	"github.com/sheetqa/sheetqa/internal/observability"
)

type Registry interface {
	ListByState(ctx context.Context, state dataset.State, updatedBefore time.Time) ([]dataset.Dataset, error)
	ListTableNames(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type Tables interface {
	DropTable(ctx context.Context, table string) error
}

type TableLister interface {
	ListTables(ctx context.Context, prefix string) ([]string, error)
}

// Archiver removes archived uploads. It is optional.
type Archiver interface {
	Remove(ctx context.Context, owner, tableName string) error
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

type Service struct {
	Registry Registry
	Tables   Tables
	Lister   TableLister
	Archive  Archiver
	Config   Config
	Logger   *slog.Logger
	Clock    func() time.Time
}

type Summary struct {
	StaleRecovered int `json:"stale_recovered"`
	DroppedCleared int `json:"dropped_cleared"`
	OrphansDropped int `json:"orphans_dropped"`
	Failures       int `json:"failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		s.runCycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runCycle tags each pass with its own trace id so its log lines group.
func (s *Service) runCycle(ctx context.Context) {
	ctx = observability.ContextWithTraceID(ctx, observability.NewTraceID())
	summary, err := s.RunOnce(ctx)
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "reconcile cycle failed", slog.Any("error", err), slog.Any("summary", summary))
		return
	}
	s.log(ctx).InfoContext(ctx, "reconcile cycle completed", slog.Any("summary", summary))
}

// RunOnce performs one pass: materializing records older than StaleAfter and
// dropped records have their table dropped and record removed, then generated
// tables with no registry row are dropped.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	s.ensureDefaults()
	if s.Registry == nil {
		return Summary{}, fmt.Errorf("registry is required")
	}
	if s.Tables == nil {
		return Summary{}, fmt.Errorf("table dropper is required")
	}

	summary := Summary{}
	failures := make([]string, 0)
	cutoff := s.Clock().UTC().Add(-s.Config.StaleAfter)

	stale, err := s.Registry.ListByState(ctx, dataset.StateMaterializing, cutoff)
	if err != nil {
		failures = append(failures, fmt.Sprintf("list materializing: %v", err))
		summary.Failures++
	}
	for _, ds := range stale {
		if err := s.retire(ctx, ds); err != nil {
			summary.Failures++
			failures = append(failures, err.Error())
			continue
		}
		summary.StaleRecovered++
	}

	dropped, err := s.Registry.ListByState(ctx, dataset.StateDropped, s.Clock().UTC())
	if err != nil {
		failures = append(failures, fmt.Sprintf("list dropped: %v", err))
		summary.Failures++
	}
	for _, ds := range dropped {
		if err := s.retire(ctx, ds); err != nil {
			summary.Failures++
			failures = append(failures, err.Error())
			continue
		}
		summary.DroppedCleared++
	}

	if s.Lister != nil {
		orphans, err := s.orphans(ctx)
		if err != nil {
			summary.Failures++
			failures = append(failures, err.Error())
		}
		for _, table := range orphans {
			if err := s.Tables.DropTable(ctx, table); err != nil {
				summary.Failures++
				failures = append(failures, fmt.Sprintf("drop orphan %s: %v", table, err))
				continue
			}
			s.log(ctx).InfoContext(ctx, "orphan table dropped", slog.String("table", table))
			summary.OrphansDropped++
		}
	}

	observeRun(summary)
	if len(failures) > 0 {
		return summary, errors.New(strings.Join(failures, "; "))
	}
	return summary, nil
}

// retire drops the dataset's table and then removes its record.
func (s *Service) retire(ctx context.Context, ds dataset.Dataset) error {
	if err := s.Tables.DropTable(ctx, ds.TableName); err != nil {
		return fmt.Errorf("drop %s: %w", ds.TableName, err)
	}
	if _, err := s.Registry.Delete(ctx, ds.ID); err != nil {
		return fmt.Errorf("delete record %s: %w", ds.ID, err)
	}
	if s.Archive != nil {
		if err := s.Archive.Remove(ctx, ds.Owner, ds.TableName); err != nil {
			s.log(ctx).WarnContext(ctx, "archive removal failed", slog.String("table", ds.TableName), slog.Any("error", err))
		}
	}
	s.log(ctx).InfoContext(ctx, "dataset retired",
		slog.String("dataset_id", ds.ID),
		slog.String("table", ds.TableName),
		slog.String("state", string(ds.State)),
	)
	return nil
}

// orphans lists generated tables that have no registry row. Physical tables
// are listed before registry names: a record is always committed before its
// table, so a table seen first cannot be missed in the later registry read.
func (s *Service) orphans(ctx context.Context) ([]string, error) {
	physical, err := s.Lister.ListTables(ctx, ident.TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("list physical tables: %w", err)
	}
	registered, err := s.Registry.ListTableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registered tables: %w", err)
	}
	known := make(map[string]struct{}, len(registered))
	for _, name := range registered {
		known[name] = struct{}{}
	}

	out := make([]string, 0)
	for _, name := range physical {
		if !ident.IsGeneratedTableName(name) {
			continue
		}
		if _, ok := known[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return observability.LoggerWithTrace(ctx, s.Logger)
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Config.Interval <= 0 {
		s.Config.Interval = time.Minute
	}
	if s.Config.StaleAfter <= 0 {
		s.Config.StaleAfter = 15 * time.Minute
	}
}
