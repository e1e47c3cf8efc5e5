package cronrunner

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner runs periodic jobs with a shared base context. Specs accept an
// optional seconds field and descriptors such as "@every 1m".
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Runner{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cron.DiscardLogger)),
		),
		logger:  logger.Named("cron"),
		baseCtx: baseCtx,
	}
}

// Add registers job under spec. A run is skipped while the previous run of
// the same job is still going.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	running := make(chan struct{}, 1)
	return r.cron.AddFunc(spec, func() {
		select {
		case running <- struct{}{}:
		default:
			r.logger.Warn("job still running, skipping", zap.String("job", name))
			return
		}
		defer func() { <-running }()

		if r.baseCtx.Err() != nil {
			return
		}
		job(r.baseCtx)
	})
}

func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", r.Entries()))
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
