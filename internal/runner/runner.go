package runner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/camera"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/collector"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/motion"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/timeutil"
)

// ErrStopped is returned by commands sent after the loop has exited.
var ErrStopped = errors.New("detection loop is not running")

// Reporter delivers frames to the Collector.
type Reporter interface {
	Report(ctx context.Context, ev *models.MotionEvent) ([]byte, error)
	ManualReport(ctx context.Context, frame models.Frame) (collector.ManualResult, error)
	Encode(frame models.Frame) ([]byte, error)
	UploadImage(ctx context.Context, jpeg []byte) error
}

// Sink receives a copy of every motion event after the primary report.
type Sink interface {
	Record(ctx context.Context, rec models.EventRecord) error
	Name() string
}

type Options struct {
	ClientID       string
	SampleInterval time.Duration
	ReportTimeout  time.Duration
	StartPaused    bool
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
)

type command struct {
	kind  commandKind
	reply chan motion.Snapshot
}

// Runner owns the detector and drives it from a single goroutine.
type Runner struct {
	detector *motion.Detector
	camera   *camera.Guard
	reporter Reporter
	sinks    []Sink
	clock    timeutil.Clock
	metrics  *metrics.Metrics
	log      *slog.Logger
	opts     Options

	commands   chan command
	done       chan struct{}
	snapshot   atomic.Pointer[motion.Snapshot]
	dispatches sync.WaitGroup
	newID      func() string
}

func New(detector *motion.Detector, cam *camera.Guard, reporter Reporter, clock timeutil.Clock, m *metrics.Metrics, log *slog.Logger, opts Options, sinks ...Sink) *Runner {
	r := &Runner{
		detector: detector,
		camera:   cam,
		reporter: reporter,
		sinks:    sinks,
		clock:    clock,
		metrics:  m,
		log:      log,
		opts:     opts,
		commands: make(chan command),
		done:     make(chan struct{}),
		newID:    uuid.NewString,
	}
	r.publish()
	return r
}

// Run samples the camera every SampleInterval until ctx is cancelled. On exit
// it waits for in-flight reports and closes the camera.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.opts.SampleInterval)
	defer ticker.Stop()

	if r.opts.StartPaused {
		r.detector.Pause(r.clock.Now())
		r.publish()
	}
	r.log.Info("detection loop started", "interval", r.opts.SampleInterval, "state", r.detector.State().String())

	for {
		select {
		case <-ctx.Done():
			r.log.Info("detection loop: shutting down, waiting for reports")
			r.dispatches.Wait()
			if err := r.camera.Close(); err != nil {
				r.log.Warn("camera close failed", "err", err)
			}
			r.log.Info("detection loop stopped")
			return
		case cmd := <-r.commands:
			r.apply(cmd)
		case <-ticker.C():
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	defer r.metrics.Ticks.Inc()

	if r.detector.State() == motion.StatePaused {
		return
	}

	frame, err := r.camera.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.metrics.CaptureErrors.Inc()
		r.log.Warn("frame capture failed", "at", r.clock.Now(), "err", err)
		return
	}

	// кадр может прийти с задержкой, поэтому время берём из самого кадра
	now := frame.CapturedAt
	dec, err := r.detector.Tick(frame, now)
	r.publish()
	if err != nil {
		r.metrics.FrameErrors.Inc()
		r.log.Warn("frame rejected", "at", now, "err", err)
		return
	}

	switch {
	case dec.Motion:
		r.metrics.Decisions.WithLabelValues("motion").Inc()
		ev := &models.MotionEvent{
			ID:        r.newID(),
			Timestamp: now,
			Frame:     frame,
			Regions:   dec.Regions,
			ClientID:  r.opts.ClientID,
		}
		r.log.Info("motion detected", "event", ev.ID, "regions", len(ev.Regions))
		r.dispatch(ctx, ev)
	case dec.Suppressed:
		r.metrics.Decisions.WithLabelValues("suppressed").Inc()
		r.log.Debug("motion suppressed by cooldown", "regions", len(dec.Regions))
	}
}

// dispatch hands ev to its own goroutine; the loop keeps no reference to it.
func (r *Runner) dispatch(ctx context.Context, ev *models.MotionEvent) {
	r.dispatches.Add(1)
	go func() {
		defer r.dispatches.Done()

		// отчёт доводится до конца даже при остановке, но не дольше таймаута
		ctx := context.WithoutCancel(ctx)
		if r.opts.ReportTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.opts.ReportTimeout)
			defer cancel()
		}

		img, err := r.reporter.Report(ctx, ev)
		r.metrics.Deliveries.WithLabelValues("collector", metrics.Result(err)).Inc()
		if err != nil {
			r.log.Error("motion report dropped", "event", ev.ID, "at", ev.Timestamp, "err", err)
		} else {
			r.log.Info("motion reported", "event", ev.ID, "bytes", len(img))
		}

		rec := models.EventRecord{Event: ev, Image: img, DeliveryErr: err}
		for _, s := range r.sinks {
			err := s.Record(ctx, rec)
			r.metrics.Deliveries.WithLabelValues(s.Name(), metrics.Result(err)).Inc()
			if err != nil {
				r.log.Warn("event sink failed", "sink", s.Name(), "event", ev.ID, "err", err)
			}
		}
	}()
}

func (r *Runner) apply(cmd command) {
	now := r.clock.Now()
	switch cmd.kind {
	case cmdStart:
		r.detector.Resume(now)
	case cmdStop:
		r.detector.Pause(now)
	}
	r.publish()
	cmd.reply <- r.detector.Snapshot()
}

func (r *Runner) publish() {
	s := r.detector.Snapshot()
	r.snapshot.Store(&s)
	r.metrics.DetectorState.Set(float64(r.detector.State()))
}

func (r *Runner) send(ctx context.Context, kind commandKind) (motion.Snapshot, error) {
	cmd := command{kind: kind, reply: make(chan motion.Snapshot, 1)}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return motion.Snapshot{}, ErrStopped
	case <-ctx.Done():
		return motion.Snapshot{}, ctx.Err()
	}
	return <-cmd.reply, nil
}

// StartCapture arms the detector. Arming an active detector changes nothing.
func (r *Runner) StartCapture(ctx context.Context) (motion.Snapshot, error) {
	return r.send(ctx, cmdStart)
}

// StopCapture pauses the detector. Pausing twice changes nothing.
func (r *Runner) StopCapture(ctx context.Context) (motion.Snapshot, error) {
	return r.send(ctx, cmdStop)
}

// Snapshot returns the state published after the last tick or command.
func (r *Runner) Snapshot() motion.Snapshot {
	return *r.snapshot.Load()
}

// ManualCapture grabs one frame outside the sampling cadence and reports it
// regardless of cooldown. Capture errors wrap camera.ErrFrameAcquisition.
func (r *Runner) ManualCapture(ctx context.Context) (collector.ManualResult, error) {
	frame, err := r.camera.Capture(ctx)
	if err != nil {
		r.log.Error("manual capture failed", "at", r.clock.Now(), "err", err)
		return collector.ManualResult{}, err
	}

	if r.opts.ReportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.ReportTimeout)
		defer cancel()
	}

	res, err := r.reporter.ManualReport(ctx, frame)
	r.metrics.Deliveries.WithLabelValues("manual", metrics.Result(err)).Inc()
	if err != nil {
		r.log.Error("manual report failed", "status", res.Status, "at", frame.CapturedAt, "err", err)
		return res, err
	}
	r.log.Info("manual report delivered", "bytes", len(res.Image))
	return res, nil
}

// TakePhoto captures the current frame, uploads it to the Collector and
// returns the JPEG. A failed upload is logged; the photo is still returned.
func (r *Runner) TakePhoto(ctx context.Context) ([]byte, error) {
	frame, err := r.camera.Capture(ctx)
	if err != nil {
		return nil, err
	}
	img, err := r.reporter.Encode(frame)
	if err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}

	uploadCtx := ctx
	if r.opts.ReportTimeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, r.opts.ReportTimeout)
		defer cancel()
	}
	err = r.reporter.UploadImage(uploadCtx, img)
	r.metrics.Deliveries.WithLabelValues("photo", metrics.Result(err)).Inc()
	if err != nil {
		r.log.Warn("photo upload failed", "at", frame.CapturedAt, "err", err)
	}
	return img, nil
}

// CameraCheck captures one frame and returns its bounds.
func (r *Runner) CameraCheck(ctx context.Context) (image.Rectangle, error) {
	return r.camera.Bounds(ctx)
}

// HandleCommand applies a remote command. Manual report failures are logged
// and not returned so the command is not redelivered.
func (r *Runner) HandleCommand(ctx context.Context, cmd models.AgentCommand) error {
	switch cmd.Action {
	case models.CommandStart:
		_, err := r.StartCapture(ctx)
		return err
	case models.CommandStop:
		_, err := r.StopCapture(ctx)
		return err
	case models.CommandManual:
		if _, err := r.ManualCapture(ctx); err != nil {
			r.log.Warn("remote manual capture failed", "err", err)
		}
		return nil
	default:
		r.log.Warn("unknown command", "action", cmd.Action)
		return nil
	}
}
