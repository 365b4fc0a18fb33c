package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pixbin/internal/models"
	"pixbin/internal/queue"
	"pixbin/internal/repository"
	"pixbin/internal/storage"
)

type ImageStore interface {
	ExistsByStoragePath(ctx context.Context, storagePath string) (bool, error)
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Image, error)
	Delete(ctx context.Context, id string) error
}

type ObjectStore interface {
	List(ctx context.Context) ([]storage.ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

type SessionStore interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// SweepReport counts what one sweep removed.
type SweepReport struct {
	OrphanObjects   int
	DanglingRecords int
	ExpiredSessions int64
}

type Processor struct {
	images   ImageStore
	objects  ObjectStore
	sessions SessionStore
	grace    time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewProcessor(images ImageStore, objects ObjectStore, sessions SessionStore, grace time.Duration, logger zerolog.Logger) *Processor {
	return &Processor{
		images:   images,
		objects:  objects,
		sessions: sessions,
		grace:    grace,
		now:      time.Now,
		logger:   logger,
	}
}

func (p *Processor) Handle(ctx context.Context, task queue.Task) error {
	switch task.Type {
	case queue.TaskOrphan:
		return p.handleOrphan(ctx, task.StoragePath)
	case queue.TaskSweep:
		_, err := p.Sweep(ctx)
		return err
	default:
		p.logger.Warn().Str("type", task.Type).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handleOrphan(ctx context.Context, storagePath string) error {
	referenced, err := p.images.ExistsByStoragePath(ctx, storagePath)
	if err != nil {
		return fmt.Errorf("check orphan %s: %w", storagePath, err)
	}
	if referenced {
		p.logger.Info().Str("storage_path", storagePath).Msg("orphan now referenced, keeping")
		return nil
	}
	if err := p.objects.Remove(ctx, storagePath); err != nil {
		return err
	}
	p.logger.Info().Str("storage_path", storagePath).Msg("orphan object removed")
	return nil
}

// Sweep reconciles the bucket with the images table. Only entries older
// than the grace period are touched so uploads and deletes in flight are
// left alone. Individual failures are collected and the sweep carries on.
func (p *Processor) Sweep(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		errs   []error
	)
	cutoff := p.now().Add(-p.grace)

	objects, err := p.objects.List(ctx)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}

	present := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		present[obj.Key] = struct{}{}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		referenced, err := p.images.ExistsByStoragePath(ctx, obj.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if referenced {
			continue
		}
		if err := p.objects.Remove(ctx, obj.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		report.OrphanObjects++
	}

	records, err := p.images.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		errs = append(errs, err)
	}
	for _, record := range records {
		if _, ok := present[record.StoragePath]; ok {
			continue
		}
		if err := p.images.Delete(ctx, record.ID); err != nil && !errors.Is(err, repository.ErrImageNotFound) {
			errs = append(errs, err)
			continue
		}
		report.DanglingRecords++
	}

	expired, err := p.sessions.DeleteExpired(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.ExpiredSessions = expired

	p.logger.Info().
		Int("orphan_objects", report.OrphanObjects).
		Int("dangling_records", report.DanglingRecords).
		Int64("expired_sessions", report.ExpiredSessions).
		Msg("sweep finished")

	return report, errors.Join(errs...)
}
