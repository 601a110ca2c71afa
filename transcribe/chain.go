package transcribe

import (
	"context"
	"errors"
	"log/slog"
)

// Chain tries a primary transcriber and falls back only when it is unavailable.
// Format and no-speech errors from the primary are final.
type Chain struct {
	Primary  Transcriber
	Fallback Transcriber // may be nil
	Logger   *slog.Logger
}

// Transcribe runs the primary, then the fallback on ErrServiceUnavailable
func (c *Chain) Transcribe(ctx context.Context, wav []byte) (string, error) {
	text, err := c.Primary.Transcribe(ctx, wav)
	if err == nil || !errors.Is(err, ErrServiceUnavailable) || c.Fallback == nil {
		return text, err
	}

	if c.Logger != nil {
		c.Logger.Warn("Primary transcriber unavailable, using fallback", "error", err)
	}
	return c.Fallback.Transcribe(ctx, wav)
}
