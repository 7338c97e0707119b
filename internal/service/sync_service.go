package service

import (
	"context"
	"fmt"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/events"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/logging"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/queue"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/worker"

	"github.com/rs/zerolog"
)

const triggerSource = "trigger"

type TaskQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (int64, bool, error)
	Lease(ctx context.Context, id int64) (*models.SyncTask, error)
}

type TaskProcessor interface {
	ProcessTask(ctx context.Context, task *models.SyncTask) (string, error)
}

// TriggerResult tells the caller what happened to a sync request.
type TriggerResult struct {
	TaskID  int64  `json:"task_id"`
	Merged  bool   `json:"merged"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SyncService is the single entry point that turns sync requests into queued work.
type SyncService struct {
	queue     TaskQueue
	processor TaskProcessor
	realTime  bool
	synclog   *logging.SyncLogger
	logger    *zerolog.Logger
}

func NewSyncService(q TaskQueue, processor TaskProcessor, realTime bool, synclog *logging.SyncLogger, logger *zerolog.Logger) *SyncService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if synclog == nil {
		synclog = logging.NewSyncLogger(nil, logger)
	}
	return &SyncService{queue: q, processor: processor, realTime: realTime, synclog: synclog, logger: logger}
}

func (s *SyncService) RealTime() bool {
	return s.realTime
}

// Trigger enqueues the request and, in real-time mode, processes the task right away.
// A task another worker holds is left to that worker. Sync failures are recorded on the
// queue and reported in the result; only enqueue and storage failures return an error.
func (s *SyncService) Trigger(ctx context.Context, req queue.EnqueueRequest) (TriggerResult, error) {
	id, merged, err := s.queue.Enqueue(ctx, req)
	if err != nil {
		return TriggerResult{}, err
	}
	res := TriggerResult{TaskID: id, Merged: merged}
	if !s.realTime || s.processor == nil {
		return res, nil
	}

	task, err := s.queue.Lease(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Int64("task_id", id).Msg("Immediate lease failed, task stays queued")
		return res, nil
	}
	if task == nil {
		return res, nil
	}

	// The lease is held now; a caller that goes away must not strand the task mid-sync.
	outcome, err := s.processor.ProcessTask(context.WithoutCancel(ctx), task)
	res.Outcome = outcome
	if err != nil {
		res.Error = err.Error()
		if outcome == worker.OutcomeAborted {
			return res, err
		}
	}
	return res, nil
}

// SubscribeHooks routes every platform hook topic on the bus into Trigger.
func (s *SyncService) SubscribeHooks(bus *events.EventBus) {
	bus.Subscribe(s.HandleHook, events.HookTopics()...)
}

// HandleHook converts one hook event into a trigger.
func (s *SyncService) HandleHook(ctx context.Context, event *events.Event) error {
	var hook events.HookPayload
	if err := event.Decode(&hook); err != nil {
		return fmt.Errorf("decode %s hook: %w", event.Type, err)
	}
	objectType, action, ok := events.ParseTopic(event.Type)
	if !ok {
		return fmt.Errorf("unsupported hook topic %q", event.Type)
	}

	data := models.Payload{"action": action}
	if hook.Source != "" {
		data["source"] = hook.Source
	}
	if hook.DeliveryID != "" {
		data["delivery_id"] = hook.DeliveryID
	}
	res, err := s.Trigger(ctx, queue.EnqueueRequest{
		ObjectType: objectType,
		ObjectID:   hook.ObjectID,
		SyncType:   syncTypeFor(action),
		Data:       data,
	})
	if err != nil {
		s.synclog.Log(ctx, logging.Entry{
			Level:      models.LevelError,
			Source:     triggerSource,
			ObjectType: objectType,
			ObjectID:   hook.ObjectID,
			Message:    "failed to queue hook event",
			Details:    models.Payload{"topic": event.Type, "error": err.Error()},
		})
		return err
	}

	s.logger.Debug().
		Str("topic", event.Type).
		Int64("object_id", hook.ObjectID).
		Int64("task_id", res.TaskID).
		Bool("merged", res.Merged).
		Msg("Hook event queued")
	return nil
}

func syncTypeFor(action string) string {
	switch action {
	case events.ActionCreated:
		return models.SyncCreate
	case events.ActionDeleted:
		return models.SyncDelete
	default:
		return models.SyncUpdate
	}
}
