package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/riskeye/internal/models"
	"github.com/riskeye/internal/monitorcfg"
)

// LogAppender is the audit-log part of the alert repository.
type LogAppender interface {
	AppendLog(ctx context.Context, entry *models.AlertLog) error
}

// ConfigWatcher reloads the monitor document and records a CONFIG entry
// whenever the effective document changes.
type ConfigWatcher struct {
	resolver *monitorcfg.Resolver
	audit    LogAppender
	logger   *zap.Logger

	mu   sync.Mutex
	last []byte
}

func NewConfigWatcher(resolver *monitorcfg.Resolver, audit LogAppender, logger *zap.Logger) *ConfigWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigWatcher{resolver: resolver, audit: audit, logger: logger.Named("watcher")}
}

// Reload loads the document and reports whether it changed since the
// previous call. The first call always counts as a change.
func (w *ConfigWatcher) Reload(ctx context.Context) (bool, error) {
	res, err := w.resolver.Load(ctx, monitorcfg.DocumentMonitor)
	if err != nil {
		return false, err
	}
	fingerprint, err := json.Marshal(res.Document)
	if err != nil {
		return false, fmt.Errorf("encode config document: %w", err)
	}

	w.mu.Lock()
	changed := !bytes.Equal(fingerprint, w.last)
	w.last = fingerprint
	w.mu.Unlock()

	if !changed {
		return false, nil
	}

	level := models.LogInfo
	msg := "monitor config loaded"
	if len(res.Errors) > 0 {
		level = models.LogWarn
		msg = fmt.Sprintf("monitor config loaded with %d validation errors", len(res.Errors))
	}
	w.logger.Info(msg,
		zap.String("policy", string(res.Policy)),
		zap.Any("sources", res.Sources),
		zap.Strings("warnings", res.Warnings),
	)

	if w.audit == nil {
		return true, nil
	}
	payload, err := json.Marshal(map[string]any{
		"policy":   res.Policy,
		"sources":  res.Sources,
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
	if err != nil {
		return true, err
	}
	if err := w.audit.AppendLog(ctx, &models.AlertLog{
		Phase:   models.PhaseConfig,
		Level:   level,
		Message: msg,
		Payload: datatypes.JSON(payload),
	}); err != nil {
		return true, fmt.Errorf("record config reload: %w", err)
	}
	return true, nil
}
