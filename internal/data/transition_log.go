package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// Routing audit action types persisted to the routing_audit_logs table.
const (
	// ActionCircuitOpened is logged when a provider's circuit opens.
	ActionCircuitOpened = "CIRCUIT_OPENED"

	// ActionCircuitHalfOpen is logged when a provider enters probing.
	ActionCircuitHalfOpen = "CIRCUIT_HALF_OPEN"

	// ActionCircuitClosed is logged when a provider recovers.
	ActionCircuitClosed = "CIRCUIT_CLOSED"

	// ActionCooldownSet is logged when an explicit rate-limit cooldown is set.
	ActionCooldownSet = "COOLDOWN_SET"
)

// RoutingAuditLog is the GORM model for the routing_audit_logs table.
type RoutingAuditLog struct {
	ID          int64     `gorm:"primaryKey;column:id"`
	ProviderKey string    `gorm:"column:provider_key;size:64;not null;index"`
	ActionType  string    `gorm:"column:action_type;type:varchar(50);not null"`
	Details     string    `gorm:"column:details;type:json"` // JSON string
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (RoutingAuditLog) TableName() string {
	return "routing_audit_logs"
}

// TransitionLoggerImpl implements biz.TransitionLogger, persisting circuit
// transition events asynchronously so the routing hot path never waits on
// the database. Events are dropped, with a warning, when the buffer is full.
type TransitionLoggerImpl struct {
	db      *gorm.DB
	logChan chan *RoutingAuditLog
	logger  *log.Helper
}

// NewTransitionLogger creates a new transition audit logger with async channel.
func NewTransitionLogger(db *gorm.DB, logger log.Logger) *TransitionLoggerImpl {
	tl := &TransitionLoggerImpl{
		db:      db,
		logChan: make(chan *RoutingAuditLog, 1000), // Buffer size 1000 to prevent blocking
		logger:  log.NewHelper(logger),
	}

	// Start background goroutine for async logging
	go tl.start()

	return tl
}

// start processes audit log events from channel
func (t *TransitionLoggerImpl) start() {
	for event := range t.logChan {
		ctx := context.Background()
		if err := t.db.WithContext(ctx).Create(event).Error; err != nil {
			t.logger.Errorw("failed to write routing audit log",
				"provider", event.ProviderKey,
				"action_type", event.ActionType,
				"error", err)
		} else {
			t.logger.Debugw("routing audit log written",
				"provider", event.ProviderKey,
				"action_type", event.ActionType)
		}
	}
}

// LogTransition records one circuit state transition.
func (t *TransitionLoggerImpl) LogTransition(provider, from, to, cause string, openDuration time.Duration) {
	details := map[string]interface{}{
		"from":  from,
		"to":    to,
		"cause": cause,
	}
	if openDuration > 0 {
		details["open_duration_ms"] = openDuration.Milliseconds()
	}

	var action string
	switch to {
	case "open":
		action = ActionCircuitOpened
	case "half_open":
		action = ActionCircuitHalfOpen
	default:
		action = ActionCircuitClosed
	}

	t.enqueue(provider, action, details)
}

// LogCooldown records an explicit upstream cooldown instruction.
func (t *TransitionLoggerImpl) LogCooldown(provider string, until time.Time) {
	t.enqueue(provider, ActionCooldownSet, map[string]interface{}{
		"until": until.Format(time.RFC3339Nano),
	})
}

// enqueue serializes the detail payload and hands the event to the writer
// goroutine without ever blocking the caller.
func (t *TransitionLoggerImpl) enqueue(provider, action string, details map[string]interface{}) {
	raw, err := json.Marshal(details)
	if err != nil {
		t.logger.Warnw("failed to marshal audit details",
			"provider", provider,
			"action_type", action,
			"error", err)
		raw = []byte("{}")
	}

	event := &RoutingAuditLog{
		ProviderKey: provider,
		ActionType:  action,
		Details:     string(raw),
	}

	select {
	case t.logChan <- event:
	default:
		t.logger.Warnw("routing audit buffer full, dropping event",
			"provider", provider,
			"action_type", action)
	}
}
