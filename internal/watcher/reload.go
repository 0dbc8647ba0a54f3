package watcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/referwell/matcher/internal/calibration"
	"github.com/referwell/matcher/internal/metrics"
)

// WatchCalibration reloads reg whenever its artifact changes. A rejected
// artifact leaves the previous model in place. It returns nil without watching
// when the registry has no artifact path.
func WatchCalibration(ctx context.Context, reg *calibration.Registry, logger *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg.Path() == "" {
		return nil, nil
	}
	w := NewWatcher([]string{reg.Path()}, func(path string) {
		if err := reg.Reload(); err != nil {
			metrics.CalibrationReloads.WithLabelValues("rejected").Inc()
			logger.Error("calibration reload rejected, keeping previous model", zap.String("path", path), zap.Error(err))
			return
		}
		metrics.CalibrationReloads.WithLabelValues("ok").Inc()
		snap := reg.Current()
		logger.Info("calibration reloaded",
			zap.String("path", path),
			zap.String("version", snap.Model.Version()),
			zap.Bool("degraded", snap.Degraded != ""))
	}, append([]WatcherOption{WithLogger(logger)}, opts...)...)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
