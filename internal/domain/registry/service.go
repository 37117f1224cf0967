package registry

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/domain/artifact"
	"github.com/GriffinCanCode/AppRegistry/internal/domain/feed"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/tracing"
	apperrors "github.com/GriffinCanCode/AppRegistry/internal/shared/errors"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/id"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

const serviceName = "registry"

// Database is the durable record store.
type Database interface {
	Insert(ctx context.Context, rec *types.Record) error
	Get(ctx context.Context, id string) (*types.Record, error)
	ListByKind(ctx context.Context, kind types.Kind) ([]*types.Record, error)
	UpdateStatus(ctx context.Context, id string, status types.SigningStatus) (*types.Record, error)
	Delete(ctx context.Context, id string) error
	ListIDs(ctx context.Context) ([]string, error)
	CountByKind(ctx context.Context) (map[types.Kind]int, error)
}

// Artifacts is the on-disk application directory store.
type Artifacts interface {
	CreateDirectory(id string) (string, error)
	Path(id string) string
	Size(id string) (int64, error)
	Delete(id string) error
	WriteBundle(ctx context.Context, id string, r io.Reader) (*artifact.BundleInfo, error)
	WriteIcon(id string, data []byte) (string, error)
	ReadIconAt(id, rel string) ([]byte, error)
	WriteMetadata(rec *types.Record) error
	ListIDs() ([]string, error)
	Export(ctx context.Context, id string, w io.Writer) error
	PurgeTmp() (int, error)
}

// Options configures a Service. Zero values are usable.
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
	// Clock returns the dateAdded stamp for new records.
	Clock func() time.Time
	// NewID allocates application ids.
	NewID func() string
}

// Service sequences artifact and database operations.
type Service struct {
	db        Database
	artifacts Artifacts
	feed      *feed.Feed

	// mu serializes mutations; viewMu guards the instant a mutation becomes
	// visible so List never reads between a record and its directory.
	mu     sync.Mutex
	viewMu sync.RWMutex

	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	clock   func() time.Time
	newID   func() string
}

// NewService creates a registry service.
func NewService(db Database, artifacts Artifacts, changes *feed.Feed, opts Options) *Service {
	s := &Service{
		db:        db,
		artifacts: artifacts,
		feed:      changes,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		clock:     opts.Clock,
		newID:     opts.NewID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return id.NewAppID().String() }
	}
	return s
}

// CommitNew registers a new application: it creates the directory, writes
// the bundle (and icon), then inserts the record. Any failure after the
// directory exists removes it again, and a cancellation observed after the
// insert removes the record too, so nothing is left behind.
func (s *Service) CommitNew(ctx context.Context, meta types.Metadata, bundle io.Reader) (rec *types.Record, err error) {
	span, ctx := s.tracer.StartSpan(ctx, "registry.commit")
	timer := monitoring.NewTimer(s.metrics, serviceName, "commit")
	defer func() {
		timer.StopWithError(err, string(apperrors.CodeOf(err)))
		span.End(err)
	}()

	if !meta.Kind.Valid() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown kind %q", meta.Kind)
	}
	if bundle == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "bundle is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	appID := s.newID()
	span.SetTag("id", appID)
	log := s.logger.With(zap.String("id", appID), zap.String("kind", string(meta.Kind)))

	// No database write is attempted if this fails
	if _, err := s.artifacts.CreateDirectory(appID); err != nil {
		log.Error("Failed to create application directory", zap.Error(err))
		return nil, err
	}

	rec, err = s.stage(ctx, appID, meta, bundle)
	if err != nil {
		s.rollbackDirectory(log, appID, "stage", err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		s.rollbackDirectory(log, appID, "cancelled", err)
		return nil, cancelled(err)
	}

	s.viewMu.Lock()
	if err := s.db.Insert(ctx, rec); err != nil {
		s.viewMu.Unlock()
		s.rollbackDirectory(log, appID, "insert", err)
		return nil, err
	}

	// The insert is durable; a cancellation now still has to undo it
	if err := ctx.Err(); err != nil {
		if derr := s.db.Delete(context.WithoutCancel(ctx), appID); derr != nil {
			log.Error("Failed to roll back record after cancellation", zap.Error(derr))
		}
		s.viewMu.Unlock()
		s.rollbackDirectory(log, appID, "cancelled", err)
		return nil, cancelled(err)
	}

	s.publish(types.Event{Type: types.EventCreated, ID: appID, Kind: rec.Kind})
	s.viewMu.Unlock()

	if s.metrics != nil {
		s.metrics.IncCommits(string(rec.Kind))
	}
	s.refreshGauges(ctx)
	log.Info("Committed application", zap.String("name", rec.Name), zap.String("bundle_id", rec.BundleIdentifier))
	return rec, nil
}

// stage fills the new directory and builds the record to insert.
func (s *Service) stage(ctx context.Context, appID string, meta types.Metadata, bundle io.Reader) (*types.Record, error) {
	if _, err := s.artifacts.WriteBundle(ctx, appID, bundle); err != nil {
		return nil, err
	}

	rec := &types.Record{
		ID:               appID,
		Kind:             meta.Kind,
		Name:             meta.Name,
		BundleIdentifier: meta.BundleIdentifier,
		Version:          meta.Version,
		DateAdded:        s.clock(),
		SigningStatus:    types.Unsigned(),
	}

	if len(meta.Icon) > 0 {
		rel, err := s.artifacts.WriteIcon(appID, meta.Icon)
		if err != nil {
			return nil, err
		}
		rec.IconRelativePath = &rel
	}

	if err := s.artifacts.WriteMetadata(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// rollbackDirectory deletes a directory created by a failed commit.
func (s *Service) rollbackDirectory(log *zap.Logger, appID, reason string, cause error) {
	if s.metrics != nil {
		s.metrics.IncRollbacks(reason)
	}
	if err := s.artifacts.Delete(appID); err != nil {
		log.Error("Rollback left application directory behind",
			zap.String("reason", reason),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	log.Warn("Rolled back commit", zap.String("reason", reason), zap.Error(cause))
}

// Remove deletes the record for appID, then its directory. The change event
// is published as soon as the record is gone. If the directory cannot be
// removed the error carries PARTIAL_CLEANUP; the record stays deleted and
// the next Sweep retries the directory.
func (s *Service) Remove(ctx context.Context, appID string) (err error) {
	span, ctx := s.tracer.StartSpan(ctx, "registry.remove")
	span.SetTag("id", appID)
	timer := monitoring.NewTimer(s.metrics, serviceName, "remove")
	defer func() {
		timer.StopWithError(err, string(apperrors.CodeOf(err)))
		span.End(err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.db.Get(ctx, appID)
	if err != nil {
		return err
	}

	s.viewMu.Lock()
	err = s.db.Delete(ctx, appID)
	if err == nil {
		s.publish(types.Event{Type: types.EventRemoved, ID: appID, Kind: rec.Kind})
	}
	s.viewMu.Unlock()
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncRemovals()
	}
	s.refreshGauges(ctx)
	log := s.logger.With(zap.String("id", appID))

	if err := s.artifacts.Delete(appID); err != nil {
		if s.metrics != nil {
			s.metrics.IncPartialCleanups()
		}
		log.Error("Record removed but directory cleanup failed; deferred to next sweep", zap.Error(err))
		return apperrors.Wrap(apperrors.CodePartialCleanup,
			"application record removed but its directory could not be deleted", err)
	}

	log.Info("Removed application", zap.String("name", rec.Name))
	return nil
}

// List returns the records of one kind, newest first.
func (s *Service) List(ctx context.Context, kind types.Kind) ([]*types.Record, error) {
	if !kind.Valid() {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown kind %q", kind)
	}
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.db.ListByKind(ctx, kind)
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, appID string) (*types.Record, error) {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.db.Get(ctx, appID)
}

// Details returns appID's record and the size of its directory.
func (s *Service) Details(ctx context.Context, appID string) (*types.Details, error) {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	rec, err := s.db.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	size, err := s.artifacts.Size(appID)
	if err != nil {
		return nil, err
	}
	return &types.Details{Record: rec, SizeBytes: size}, nil
}

// UpdateSigningStatus moves appID to status and publishes the change.
func (s *Service) UpdateSigningStatus(ctx context.Context, appID string, status types.SigningStatus) (rec *types.Record, err error) {
	span, ctx := s.tracer.StartSpan(ctx, "registry.update_status")
	span.SetTag("id", appID)
	span.SetTag("status", string(status.State))
	timer := monitoring.NewTimer(s.metrics, serviceName, "update_status")
	defer func() {
		timer.StopWithError(err, string(apperrors.CodeOf(err)))
		span.End(err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.viewMu.Lock()
	rec, err = s.db.UpdateStatus(ctx, appID, status)
	if err == nil {
		st := rec.SigningStatus
		s.publish(types.Event{Type: types.EventStatusChanged, ID: appID, Kind: rec.Kind, Status: &st})
	}
	s.viewMu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.artifacts.WriteMetadata(rec); err != nil {
		// The cache is advisory; the database holds the truth
		s.logger.Warn("Failed to refresh metadata cache", zap.String("id", appID), zap.Error(err))
	}

	s.logger.Info("Signing status changed",
		zap.String("id", appID),
		zap.Stringer("status", rec.SigningStatus))
	return rec, nil
}

// Icon returns the icon bytes for appID, or nil when it has none. A
// concurrent Remove either happens before (NOT_FOUND) or after the read.
func (s *Service) Icon(ctx context.Context, appID string) ([]byte, error) {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	rec, err := s.db.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !rec.HasIcon() {
		return nil, nil
	}
	return s.artifacts.ReadIconAt(appID, *rec.IconRelativePath)
}

// Export streams appID's directory as a compressed archive.
func (s *Service) Export(ctx context.Context, appID string, w io.Writer) error {
	if _, err := s.Get(ctx, appID); err != nil {
		return err
	}
	return s.artifacts.Export(ctx, appID, w)
}

// Subscribe attaches h to the change feed.
func (s *Service) Subscribe(h feed.Handler) (*feed.Subscription, error) {
	sub, err := s.feed.Subscribe(h)
	if err == nil && s.metrics != nil {
		s.metrics.SetFeedSubscriptions(s.feed.Stats().Subscribers)
	}
	return sub, err
}

// Unsubscribe detaches a subscription from the change feed.
func (s *Service) Unsubscribe(sub *feed.Subscription) {
	s.feed.Unsubscribe(sub)
	if s.metrics != nil {
		s.metrics.SetFeedSubscriptions(s.feed.Stats().Subscribers)
	}
}

// Stats returns per-kind record counts.
func (s *Service) Stats(ctx context.Context) (map[types.Kind]int, error) {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.db.CountByKind(ctx)
}

// FeedStats reports change feed counters.
func (s *Service) FeedStats() feed.Stats {
	if s.feed == nil {
		return feed.Stats{}
	}
	return s.feed.Stats()
}

func (s *Service) publish(evt types.Event) {
	if s.feed == nil {
		return
	}
	evt = s.feed.Publish(evt)
	if s.metrics != nil {
		s.metrics.IncFeedEvents(string(evt.Type))
	}
}

func (s *Service) refreshGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.db.CountByKind(ctx)
	if err != nil {
		s.logger.Debug("Failed to refresh registry gauges", zap.Error(err))
		return
	}
	for kind, n := range counts {
		s.metrics.SetRegistryApps(string(kind), n)
	}
}

func cancelled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeCancelled, "deadline exceeded", err)
	}
	return apperrors.Wrap(apperrors.CodeCancelled, "operation cancelled", err)
}
