package app

import "context"

// Run is the entrypoint used by `relay serve`. It serves until ctx is cancelled;
// the caller owns signal handling.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run(ctx context.Context, cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
