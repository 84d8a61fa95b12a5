// Package heartbeat tells the Collector the agent is alive on a fixed period.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/timeutil"
)

// Sender delivers one heartbeat. Name labels logs and metrics.
type Sender interface {
	SendHeartbeat(ctx context.Context) error
	Name() string
}

type Scheduler struct {
	senders  []Sender
	interval time.Duration
	timeout  time.Duration
	clock    timeutil.Clock
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func New(interval, timeout time.Duration, clock timeutil.Clock, m *metrics.Metrics, log *slog.Logger, senders ...Sender) *Scheduler {
	return &Scheduler{
		senders:  senders,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		metrics:  m,
		log:      log,
	}
}

// Run sends a heartbeat immediately and then every interval until ctx is done.
// Failures are logged and never stop the schedule.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("heartbeat started", "interval", s.interval)
	s.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("heartbeat stopped")
			return
		case <-ticker.C():
			s.beat(ctx)
		}
	}
}

// beat fans out to every sender concurrently so a slow sink cannot delay the others.
func (s *Scheduler) beat(ctx context.Context) {
	var wg sync.WaitGroup
	for _, snd := range s.senders {
		wg.Add(1)
		go func(snd Sender) {
			defer wg.Done()
			s.send(ctx, snd)
		}(snd)
	}
	wg.Wait()
}

func (s *Scheduler) send(ctx context.Context, snd Sender) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := snd.SendHeartbeat(ctx)
	s.metrics.Heartbeats.WithLabelValues(snd.Name(), metrics.Result(err)).Inc()
	if err != nil {
		s.log.Warn("heartbeat failed", "sink", snd.Name(), "at", s.clock.Now(), "err", err)
		return
	}
	s.log.Debug("heartbeat sent", "sink", snd.Name())
}
