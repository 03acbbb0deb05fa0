package service

import (
	"context"
	"log/slog"
	"time"

	"expertpanel-backend/models"
)

const auditTimeout = 5 * time.Second

// appendAudit writes rec in the background. It never blocks the caller and
// only logs when the sink fails.
func appendAudit(ctx context.Context, sink AuditSink, logger *slog.Logger, rec *models.AuditRecord) {
	if sink == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()

		if err := sink.Append(ctx, rec); err != nil {
			logger.Warn("Warning: failed to append audit record",
				"kind", rec.Kind,
				"plugins", rec.PluginSlugs,
				"error", err,
			)
		}
	}()
}
