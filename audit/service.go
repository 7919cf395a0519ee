package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/gamewiki/server/hook"
	"github.com/kasuganosora/gamewiki/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionUpsert  = "entity.upsert"
	ActionDelete  = "entity.delete"
	ActionLogin   = "auth.login"
	ActionDisable = "account.disable"
)

// AuditEntry holds one audit event to be logged.
type AuditEntry struct {
	TraceID    string
	AccountID  *int64
	Username   string
	Action     string
	Resource   string
	EntityID   string
	Request    interface{}
	Error      string
	IP         string
	DurationMs int
}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
	interval time.Duration
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:       db,
		ch:       make(chan *model.AuditLog, 1024),
		stopCh:   make(chan struct{}),
		logger:   logger,
		interval: 2 * time.Second,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry AuditEntry) {
	var reqJSON []byte
	if entry.Request != nil {
		reqJSON, _ = json.Marshal(entry.Request)
	}
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		AccountID:  entry.AccountID,
		Username:   entry.Username,
		Action:     entry.Action,
		Resource:   entry.Resource,
		EntityID:   entry.EntityID,
		Request:    datatypes.JSON(reqJSON),
		Error:      entry.Error,
		IP:         entry.IP,
		DurationMs: entry.DurationMs,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// EntityHook records every successful save or delete. It is registered on
// the after-save and after-delete events.
func (svc *Service) EntityHook() hook.HookFn {
	return func(_ context.Context, event string, ev *hook.EntityEvent) error {
		entry := AuditEntry{
			TraceID:  ev.TraceID,
			Username: ev.Username,
			Resource: ev.Resource,
			EntityID: ev.ID,
			IP:       ev.IP,
		}
		if ev.AccountID != 0 {
			id := ev.AccountID
			entry.AccountID = &id
		}
		switch event {
		case hook.AfterEntityDelete:
			entry.Action = ActionDelete
		default:
			entry.Action = ActionUpsert
			entry.Request = ev.Entity
		}
		svc.Log(entry)
		return nil
	}
}

// Query filters the audit log, newest first.
type Query struct {
	Resource string
	EntityID string
	Username string
	Limit    int
}

func (svc *Service) List(ctx context.Context, q Query) ([]model.AuditLog, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	tx := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if q.Resource != "" {
		tx = tx.Where("resource = ?", q.Resource)
	}
	if q.EntityID != "" {
		tx = tx.Where("entity_id = ?", q.EntityID)
	}
	if q.Username != "" {
		tx = tx.Where("username = ?", q.Username)
	}
	var logs []model.AuditLog
	return logs, tx.Find(&logs).Error
}

// Purge deletes entries created before cutoff and returns how many went.
func (svc *Service) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := svc.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.AuditLog{})
	return res.RowsAffected, res.Error
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err), zap.Int("entries", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
					if len(batch) >= 100 {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
