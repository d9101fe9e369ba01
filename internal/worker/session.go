package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
	"github.com/withObsrvr/vflp-ligand-prep/internal/engine"
	"github.com/withObsrvr/vflp-ligand-prep/internal/toolkit"
)

// NailgunStarter launches a nailgun server and returns its address and a
// stop function.
type NailgunStarter func(ctx context.Context, opts engine.ServerOptions, logger *slog.Logger) (engine.Nailgun, func(), error)

// StartNailgunServer starts a real JVM nailgun server.
func StartNailgunServer(ctx context.Context, opts engine.ServerOptions, logger *slog.Logger) (engine.Nailgun, func(), error) {
	s, err := engine.StartNailgun(ctx, opts, logger)
	if err != nil {
		return engine.Nailgun{}, nil, err
	}
	return s.Nailgun, s.Stop, nil
}

// Session owns the engine processes of one worker. Close must be called on
// every exit path.
type Session struct {
	Toolkit *toolkit.Toolkit
	Usage   toolkit.Usage

	stop     func()
	stopOnce sync.Once
	log      *slog.Logger
}

// OpenSession starts nailgun when the job uses a ChemAxon program and
// discovers program versions.
func OpenSession(ctx context.Context, job *config.Job, runner engine.Runner, start NailgunStarter, host string, logger *slog.Logger) (*Session, error) {
	s := &Session{
		Usage: toolkit.UsageFor(job),
		stop:  func() {},
		log:   logger.With("component", "session"),
	}

	var ng engine.Nailgun
	if s.Usage.Nailgun() {
		addr, stop, err := start(ctx, engine.ServerOptions{
			Host:        host,
			HeapGB:      job.JavaMaxHeapSize,
			ReadyWithin: 60 * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		ng = addr
		s.stop = stop
	} else {
		s.log.Info("nailgun not needed for this job")
	}

	s.Toolkit = toolkit.New(runner, job, ng, toolkit.Programs{}, logger)
	s.Toolkit.DiscoverVersions(ctx, s.Usage)
	return s, nil
}

// Close stops the engine processes. It is safe to call more than once.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		s.stop()
	})
}
