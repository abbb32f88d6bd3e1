package output

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DailyFlusher runs Flush once a day at the cutoff hour (UTC).
type DailyFlusher struct {
	CutoffHour int
	Flush      func() error
	Logger     *zap.Logger

	now func() time.Time
}

// Run blocks until ctx is done, flushing at every cutoff and once more on exit.
func (d *DailyFlusher) Run(ctx context.Context) error {
	for {
		wait := time.Until(d.next())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			d.flush("shutdown")
			return nil
		case <-timer.C:
			d.flush("cutoff")
		}
	}
}

// next returns the next cutoff strictly after now.
func (d *DailyFlusher) next() time.Time {
	now := time.Now().UTC()
	if d.now != nil {
		now = d.now().UTC()
	}
	cut := time.Date(now.Year(), now.Month(), now.Day(), d.CutoffHour, 0, 0, 0, time.UTC)
	if !cut.After(now) {
		cut = cut.Add(24 * time.Hour)
	}
	return cut
}

func (d *DailyFlusher) flush(reason string) {
	if err := d.Flush(); err != nil {
		d.Logger.Error("daily flush failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	d.Logger.Info("daily flush done", zap.String("reason", reason))
}
