package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

// SweepReport summarizes a reconciliation pass.
type SweepReport struct {
	OrphanDirectories []string `json:"orphan_directories"`
	DanglingRecords   []string `json:"dangling_records"`
	FailedDirectories []string `json:"failed_directories,omitempty"`
	TmpEntries        int      `json:"tmp_entries"`
}

// Changed reports whether the sweep altered registry state.
func (r *SweepReport) Changed() bool {
	return len(r.OrphanDirectories) > 0 || len(r.DanglingRecords) > 0
}

// Sweep reconciles the artifact store with the database. It deletes
// directories that have no record (left by failed removals or crashes
// mid-commit), deletes records whose directory has vanished, and empties
// the scratch directory. Directories that still cannot be removed are
// reported and retried on the next sweep.
func (s *Service) Sweep(ctx context.Context) (report *SweepReport, err error) {
	span, ctx := s.tracer.StartSpan(ctx, "registry.sweep")
	defer func() { span.End(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	report = &SweepReport{}

	recordIDs, err := s.db.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	dirIDs, err := s.artifacts.ListIDs()
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		known[id] = true
	}
	onDisk := make(map[string]bool, len(dirIDs))
	for _, id := range dirIDs {
		onDisk[id] = true
	}

	for _, id := range dirIDs {
		if known[id] {
			continue
		}
		if err := s.artifacts.Delete(id); err != nil {
			s.logger.Warn("Sweep could not remove orphan directory", zap.String("id", id), zap.Error(err))
			report.FailedDirectories = append(report.FailedDirectories, id)
			continue
		}
		report.OrphanDirectories = append(report.OrphanDirectories, id)
	}

	s.viewMu.Lock()
	for _, id := range recordIDs {
		if onDisk[id] {
			continue
		}
		if err := s.db.Delete(ctx, id); err != nil {
			s.viewMu.Unlock()
			return nil, err
		}
		report.DanglingRecords = append(report.DanglingRecords, id)
	}
	if report.Changed() {
		s.publish(types.Event{Type: types.EventSwept})
	}
	s.viewMu.Unlock()

	report.TmpEntries, err = s.artifacts.PurgeTmp()
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AddSweepRemovals("directory", len(report.OrphanDirectories))
		s.metrics.AddSweepRemovals("record", len(report.DanglingRecords))
	}
	s.refreshGauges(ctx)

	s.logger.Info("Sweep complete",
		zap.Int("orphan_directories", len(report.OrphanDirectories)),
		zap.Int("dangling_records", len(report.DanglingRecords)),
		zap.Int("failed_directories", len(report.FailedDirectories)),
		zap.Int("tmp_entries", report.TmpEntries))
	return report, nil
}
