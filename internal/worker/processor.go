package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/logging"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/mapping"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/metrics"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/platform"

	"github.com/rs/zerolog"
)

const logSource = "processor"

// Outcomes of ProcessTask.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	// OutcomeLost means another worker took the task over; nothing was recorded.
	OutcomeLost = "lost"
	// OutcomeAborted means storage failed; the task stays leased until its lease expires.
	OutcomeAborted = "aborted"
)

// TaskQueue is the part of the sync queue the processor drives.
type TaskQueue interface {
	FetchBatch(ctx context.Context, limit int, types ...string) ([]*models.SyncTask, error)
	MarkCompleted(ctx context.Context, task *models.SyncTask, note string) error
	MarkFailed(ctx context.Context, task *models.SyncTask, msg string) (bool, error)
	MarkFailedPermanent(ctx context.Context, task *models.SyncTask, msg string) error
}

type Mapper interface {
	ApplyTo(ctx context.Context, direction, module, remoteModule string, source domain.Record) (map[string]interface{}, error)
}

// DeadLetterSink receives terminally failed tasks.
type DeadLetterSink interface {
	Push(ctx context.Context, payload []byte) error
}

// Dependencies are the collaborators of a Processor. Meta and DeadLetters are optional.
type Dependencies struct {
	Queue       TaskQueue
	Mapper      Mapper
	Resolver    domain.EntityResolver
	Meta        domain.MetaWriter
	Tokens      domain.TokenProvider
	Remote      domain.RemoteClient
	Links       domain.LinkStore
	DeadLetters DeadLetterSink
	SyncLog     *logging.SyncLogger
}

type Options struct {
	Routes          map[string]config.RouteConfig
	RetryRejections bool
}

// Processor is the single place that decides what happens to a task after a sync attempt.
type Processor struct {
	deps   Dependencies
	opts   Options
	logger *zerolog.Logger
	now    func() time.Time
}

func NewProcessor(deps Dependencies, opts Options, logger *zerolog.Logger) *Processor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if deps.SyncLog == nil {
		deps.SyncLog = logging.NewSyncLogger(nil, logger)
	}
	return &Processor{deps: deps, opts: opts, logger: logger, now: time.Now}
}

// ProcessBatch leases up to limit tasks and processes them in order. Cancelling ctx stops
// the run between tasks; tasks leased but not reached stay processing and are picked up
// again once their lease expires. A storage failure ends the run with an error.
func (p *Processor) ProcessBatch(ctx context.Context, limit int, types ...string) (models.SyncResult, error) {
	var res models.SyncResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if limit <= 0 {
		limit = models.DefaultBatchSize
	}

	tasks, err := p.deps.Queue.FetchBatch(ctx, limit, types...)
	if err != nil {
		return res, fmt.Errorf("failed to lease tasks: %w", err)
	}
	res.Leased = len(tasks)

	for i, task := range tasks {
		if ctx.Err() != nil {
			res.Skipped += len(tasks) - i
			p.logger.Info().Int("left_leased", len(tasks)-i).Msg("Batch interrupted")
			break
		}

		outcome, err := p.ProcessTask(ctx, task)
		switch outcome {
		case OutcomeCompleted:
			res.Completed++
		case OutcomeRetried:
			res.Retried++
		case OutcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
		if err != nil {
			res.Errors = append(res.Errors, err)
			if outcome == OutcomeAborted {
				res.Skipped += len(tasks) - i - 1
				return res, err
			}
		}
	}

	p.logger.Debug().
		Int("leased", res.Leased).
		Int("completed", res.Completed).
		Int("retried", res.Retried).
		Int("failed", res.Failed).
		Msg("Batch processed")
	return res, nil
}

// ProcessTask syncs one leased task and records the outcome on the queue. The returned
// error is the failure cause for retried and failed tasks.
func (p *Processor) ProcessTask(ctx context.Context, task *models.SyncTask) (string, error) {
	start := p.now()
	defer func() {
		metrics.ObserveTask(task.ObjectType, p.now().Sub(start).Seconds())
	}()

	note, err := p.sync(ctx, task)
	// The outcome is recorded even when ctx was cancelled during the remote call.
	done := context.WithoutCancel(ctx)
	if err != nil {
		return p.fail(done, task, err)
	}
	return p.complete(done, task, note)
}

func (p *Processor) sync(ctx context.Context, task *models.SyncTask) (string, error) {
	route, ok := p.opts.Routes[task.ObjectType]
	if !ok {
		return "", &domain.ConfigError{Field: "sync.routes." + task.ObjectType, Message: "no route configured"}
	}
	if task.SyncType == models.SyncDelete {
		return p.syncDelete(ctx, task, route)
	}

	record, err := p.deps.Resolver.Resolve(ctx, task.ObjectType, task.ObjectID)
	if errors.Is(err, domain.ErrEntityNotFound) {
		return "entity no longer exists, nothing to sync", nil
	}
	if err != nil {
		return "", err
	}

	fields, err := p.deps.Mapper.ApplyTo(ctx, models.DirectionLocalToRemote, route.MappingKey, route.RemoteModule, record)
	if err != nil {
		return "", err
	}
	checked := mapping.ValidateForTarget(route.EntityKind, fields)
	if !checked.Valid {
		return "", &domain.ValidationError{Fields: checked.Errors}
	}

	token, err := p.deps.Tokens.GetValidToken(ctx, route.Service)
	if err != nil {
		return "", err
	}

	link, err := p.deps.Links.GetLink(ctx, task.ObjectType, task.ObjectID, route.Service, route.RemoteModule)
	if err != nil && !errors.Is(err, domain.ErrLinkNotFound) {
		return "", err
	}
	if link != nil {
		err := p.deps.Remote.Update(ctx, token, route.Service, route.RemoteModule, link.RemoteID, checked.Sanitized)
		if err == nil {
			return "updated remote record " + link.RemoteID, nil
		}
		if !domain.IsNotFound(err) {
			return "", err
		}
		p.logger.Info().
			Str("object_type", task.ObjectType).
			Int64("object_id", task.ObjectID).
			Str("remote_id", link.RemoteID).
			Msg("Linked remote record is gone, creating a new one")
		if err := p.deps.Links.DeleteLink(ctx, task.ObjectType, task.ObjectID, route.Service, route.RemoteModule); err != nil {
			return "", err
		}
	}

	remoteID, err := p.deps.Remote.Create(ctx, token, route.Service, route.RemoteModule, checked.Sanitized)
	if err != nil {
		return "", err
	}
	// The remote record exists now; losing its link would create it again on the next run.
	ctx = context.WithoutCancel(ctx)
	if err := p.deps.Links.SaveLink(ctx, &models.EntityLink{
		ObjectType:   task.ObjectType,
		ObjectID:     task.ObjectID,
		Service:      route.Service,
		RemoteModule: route.RemoteModule,
		RemoteID:     remoteID,
	}); err != nil {
		return "", err
	}
	p.writeBack(ctx, task, route, remoteID)
	return "created remote record " + remoteID, nil
}

func (p *Processor) syncDelete(ctx context.Context, task *models.SyncTask, route config.RouteConfig) (string, error) {
	link, err := p.deps.Links.GetLink(ctx, task.ObjectType, task.ObjectID, route.Service, route.RemoteModule)
	if errors.Is(err, domain.ErrLinkNotFound) {
		return "no linked remote record, nothing to delete", nil
	}
	if err != nil {
		return "", err
	}

	token, err := p.deps.Tokens.GetValidToken(ctx, route.Service)
	if err != nil {
		return "", err
	}
	if err := p.deps.Remote.Delete(ctx, token, route.Service, route.RemoteModule, link.RemoteID); err != nil && !domain.IsNotFound(err) {
		return "", err
	}
	if err := p.deps.Links.DeleteLink(context.WithoutCancel(ctx), task.ObjectType, task.ObjectID, route.Service, route.RemoteModule); err != nil {
		return "", err
	}
	return "deleted remote record " + link.RemoteID, nil
}

// writeBack stores the new remote id on the WooCommerce entity. It only runs on create so
// the webhook it causes does not lead to another write.
func (p *Processor) writeBack(ctx context.Context, task *models.SyncTask, route config.RouteConfig, remoteID string) {
	if p.deps.Meta == nil {
		return
	}
	meta := map[string]string{
		platform.LinkMetaKey(route.Service, route.RemoteModule): remoteID,
	}
	if err := p.deps.Meta.WriteMeta(ctx, task.ObjectType, task.ObjectID, meta); err != nil {
		p.deps.SyncLog.Log(ctx, logging.Entry{
			Level:      models.LevelWarning,
			Source:     logSource,
			ObjectType: task.ObjectType,
			ObjectID:   task.ObjectID,
			Message:    "failed to write remote id back to WooCommerce",
			Details:    models.Payload{"remote_id": remoteID, "error": err.Error()},
		})
	}
}

func (p *Processor) complete(ctx context.Context, task *models.SyncTask, note string) (string, error) {
	if err := p.deps.Queue.MarkCompleted(ctx, task, note); err != nil {
		return p.markError(task, err)
	}
	metrics.IncTask(task.ObjectType, OutcomeCompleted)
	p.deps.SyncLog.Log(ctx, logging.Entry{
		Level:      models.LevelInfo,
		Source:     logSource,
		ObjectType: task.ObjectType,
		ObjectID:   task.ObjectID,
		Message:    "sync completed",
		Details:    models.Payload{"task_id": task.ID, "sync_type": task.SyncType, "note": note},
	})
	return OutcomeCompleted, nil
}

func (p *Processor) fail(ctx context.Context, task *models.SyncTask, cause error) (string, error) {
	var serr *domain.StorageError
	if errors.As(cause, &serr) {
		p.logger.Error().Err(cause).Int64("task_id", task.ID).Msg("Storage failure, stopping batch")
		return OutcomeAborted, cause
	}

	msg := cause.Error()
	if p.retryable(cause) {
		terminal, err := p.deps.Queue.MarkFailed(ctx, task, msg)
		if err != nil {
			return p.markError(task, err)
		}
		if !terminal || task.Status == models.StatusCompleted {
			metrics.IncTask(task.ObjectType, OutcomeRetried)
			details := models.Payload{"task_id": task.ID, "attempts": task.Attempts, "error": msg}
			if task.NextAttemptAt != nil {
				details["next_attempt_at"] = task.NextAttemptAt.UTC().Format(time.RFC3339)
			}
			p.deps.SyncLog.Log(ctx, logging.Entry{
				Level:      models.LevelWarning,
				Source:     logSource,
				ObjectType: task.ObjectType,
				ObjectID:   task.ObjectID,
				Message:    "sync failed, will retry",
				Details:    details,
			})
			return OutcomeRetried, cause
		}
	} else if err := p.deps.Queue.MarkFailedPermanent(ctx, task, msg); err != nil {
		return p.markError(task, err)
	}

	p.terminal(ctx, task, cause)
	return OutcomeFailed, cause
}

// retryable: transport problems always, remote rejections only when configured to.
func (p *Processor) retryable(err error) bool {
	if domain.IsRecoverable(err) {
		return true
	}
	var rr *domain.RemoteRejection
	return p.opts.RetryRejections && errors.As(err, &rr)
}

func (p *Processor) terminal(ctx context.Context, task *models.SyncTask, cause error) {
	metrics.IncTask(task.ObjectType, OutcomeFailed)

	message := "sync failed permanently"
	details := models.Payload{"task_id": task.ID, "attempts": task.Attempts, "error": cause.Error()}
	if domain.IsReauthorization(cause) {
		var ae *domain.AuthError
		errors.As(cause, &ae)
		message = "zoho authorization required: reconnect the service to resume syncing"
		details["service"] = ae.Service
	}
	var verr *domain.ValidationError
	if errors.As(cause, &verr) {
		details["fields"] = verr.Fields
	}
	p.deps.SyncLog.Log(ctx, logging.Entry{
		Level:      models.LevelError,
		Source:     logSource,
		ObjectType: task.ObjectType,
		ObjectID:   task.ObjectID,
		Message:    message,
		Details:    details,
	})
	p.pushDeadLetter(ctx, task, cause)
}

type deadLetter struct {
	Task     *models.SyncTask `json:"task"`
	Error    string           `json:"error"`
	FailedAt time.Time        `json:"failed_at"`
}

func (p *Processor) pushDeadLetter(ctx context.Context, task *models.SyncTask, cause error) {
	if p.deps.DeadLetters == nil {
		return
	}
	data, err := json.Marshal(deadLetter{Task: task, Error: cause.Error(), FailedAt: p.now().UTC()})
	if err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := p.deps.DeadLetters.Push(ctx, data); err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to push dead letter")
	}
}

// markError handles a failure to record an outcome.
func (p *Processor) markError(task *models.SyncTask, err error) (string, error) {
	if errors.Is(err, domain.ErrLeaseLost) {
		p.logger.Warn().Int64("task_id", task.ID).Msg("Lease lost before the outcome was recorded")
		return OutcomeLost, nil
	}
	p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to record task outcome")
	return OutcomeAborted, err
}
