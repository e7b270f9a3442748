package responder

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/jmcleod/ironca/audit"
)

// outcome is the audit result accumulated while a request is handled. It is
// committed to the event only by finalize.
type outcome struct {
	level   audit.Level
	status  audit.Status
	message string
}

func (r *Responder) finalize(ctx context.Context, event *audit.Event, out *outcome, elapsed time.Duration) {
	if err := event.Finalize(out.level, out.status, elapsed); err != nil {
		r.logger.WarnContext(ctx, "audit event reused", "error", err)
		return
	}
	if out.message != "" {
		event.AddField(audit.FieldMessage, out.message)
	}
}

func isConnectionReset(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
