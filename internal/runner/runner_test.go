package runner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/camera"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/collector"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/logging"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/motion"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/timeutil"
)

const frameSize = 200

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func staticImage() image.Image {
	return image.NewGray(image.Rect(0, 0, frameSize, frameSize))
}

func blobImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, frameSize, frameSize))
	draw.Draw(img, image.Rect(75, 75, 125, 125), image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)
	return img
}

// alternating returns a static frame on even captures and a blob on odd ones.
func alternating(n int) image.Image {
	if n%2 == 1 {
		return blobImage()
	}
	return staticImage()
}

type fakeSource struct {
	mu     sync.Mutex
	calls  int
	frame  func(n int) image.Image
	fail   int
	closed atomic.Int32

	// slow captures move the clock forward by delay
	clock *timeutil.MockClock
	delay time.Duration
}

func (s *fakeSource) Capture(ctx context.Context) (models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls
	s.calls++
	if s.delay > 0 {
		s.clock.Advance(s.delay)
	}
	if n < s.fail {
		return models.Frame{}, errors.New("camera busy")
	}
	return models.Frame{Image: s.frame(n - s.fail)}, nil
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeReporter struct {
	mu        sync.Mutex
	events    []*models.MotionEvent
	entered   atomic.Int32
	release   chan struct{}
	reportErr error

	manual    collector.ManualResult
	manualErr error
	uploads   atomic.Int32
	uploadErr error
}

func (f *fakeReporter) Report(ctx context.Context, ev *models.MotionEvent) ([]byte, error) {
	f.entered.Add(1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return []byte("jpeg"), f.reportErr
}

func (f *fakeReporter) ManualReport(ctx context.Context, frame models.Frame) (collector.ManualResult, error) {
	return f.manual, f.manualErr
}

func (f *fakeReporter) Encode(frame models.Frame) ([]byte, error) {
	return []byte("jpeg"), nil
}

func (f *fakeReporter) UploadImage(ctx context.Context, jpeg []byte) error {
	f.uploads.Add(1)
	return f.uploadErr
}

func (f *fakeReporter) Events() []*models.MotionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.MotionEvent(nil), f.events...)
}

type recordingSink struct {
	mu      sync.Mutex
	records []models.EventRecord
}

func (s *recordingSink) Record(ctx context.Context, rec models.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Name() string { return "journal" }

func (s *recordingSink) Records() []models.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EventRecord(nil), s.records...)
}

type harness struct {
	runner  *Runner
	clock   *timeutil.MockClock
	metrics *metrics.Metrics
	source  *fakeSource
	cancel  context.CancelFunc
	done    chan struct{}
}

func start(t *testing.T, src *fakeSource, rep Reporter, opts Options, sinks ...Sink) *harness {
	t.Helper()
	p := motion.DefaultParams()
	p.MinRegionArea = 1000
	p.Cooldown = 5 * time.Second
	if opts.SampleInterval == 0 {
		opts.SampleInterval = time.Second
	}
	opts.ClientID = "cam-1"

	clock := timeutil.NewMockClock(t0)
	if src.delay > 0 {
		src.clock = clock
	}
	m := metrics.New()
	r := New(motion.NewDetector(p), camera.NewGuard(src, clock), rep, clock, m, logging.Discard(), opts, sinks...)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{runner: r, clock: clock, metrics: m, source: src, cancel: cancel, done: make(chan struct{})}
	go func() {
		r.Run(ctx)
		close(h.done)
	}()
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

// step advances the clock by one interval and waits for the tick to finish.
func (h *harness) step(t *testing.T) {
	t.Helper()
	want := testutil.ToFloat64(h.metrics.Ticks) + 1
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return testutil.ToFloat64(h.metrics.Ticks) == want }, time.Second, time.Millisecond)
}

func TestRunner_ReportsOncePerCooldownWindow(t *testing.T) {
	src := &fakeSource{frame: alternating}
	rep := &fakeReporter{}
	sink := &recordingSink{}
	h := start(t, src, rep, Options{}, sink)

	for i := 0; i < 7; i++ {
		h.step(t)
	}

	require.Eventually(t, func() bool { return len(sink.Records()) == 2 }, time.Second, time.Millisecond)
	events := rep.Events()
	require.Len(t, events, 2)
	assert.Equal(t, t0.Add(2*time.Second), events[0].Timestamp)
	assert.Equal(t, t0.Add(7*time.Second), events[1].Timestamp)
	assert.Equal(t, "cam-1", events[0].ClientID)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Decisions.WithLabelValues("motion")))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.Decisions.WithLabelValues("suppressed")))
	assert.Equal(t, motion.StateCooldown.String(), h.runner.Snapshot().State)
}

func TestRunner_FirstTickNeverReports(t *testing.T) {
	src := &fakeSource{frame: func(int) image.Image { return blobImage() }}
	rep := &fakeReporter{}
	h := start(t, src, rep, Options{})

	h.step(t)
	assert.Equal(t, 0, int(rep.entered.Load()))
	assert.Equal(t, motion.StateArmed.String(), h.runner.Snapshot().State)
}

func TestRunner_SlowReportDoesNotDelayTicks(t *testing.T) {
	src := &fakeSource{frame: alternating}
	rep := &fakeReporter{release: make(chan struct{})}
	h := start(t, src, rep, Options{})

	for i := 0; i < 7; i++ {
		h.step(t)
	}
	// оба отчёта висят одновременно, цикл не ждёт
	require.Eventually(t, func() bool { return rep.entered.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 7, src.Calls())

	close(rep.release)
	require.Eventually(t, func() bool { return len(rep.Events()) == 2 }, time.Second, time.Millisecond)
}

func TestRunner_FailedReportIsDroppedAndRecorded(t *testing.T) {
	src := &fakeSource{frame: alternating}
	rep := &fakeReporter{reportErr: &collector.ReportDeliveryError{Endpoint: "/api/receive_image", StatusCode: 503}}
	sink := &recordingSink{}
	h := start(t, src, rep, Options{}, sink)

	h.step(t)
	h.step(t)
	h.step(t)

	require.Eventually(t, func() bool { return len(sink.Records()) == 1 }, time.Second, time.Millisecond)
	rec := sink.Records()[0]
	assert.False(t, rec.Delivered())
	var delivery *collector.ReportDeliveryError
	assert.ErrorAs(t, rec.DeliveryErr, &delivery)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Deliveries.WithLabelValues("collector", metrics.ResultError)))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Deliveries.WithLabelValues("journal", metrics.ResultOK)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Ticks))
}

func TestRunner_CaptureErrorsKeepLoopRunning(t *testing.T) {
	src := &fakeSource{frame: alternating, fail: 2}
	rep := &fakeReporter{}
	h := start(t, src, rep, Options{})

	for i := 0; i < 4; i++ {
		h.step(t)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.CaptureErrors))
	require.Eventually(t, func() bool { return rep.entered.Load() == 1 }, time.Second, time.Millisecond)
}

func TestRunner_StartStopAreIdempotent(t *testing.T) {
	src := &fakeSource{frame: func(int) image.Image { return staticImage() }}
	h := start(t, src, &fakeReporter{}, Options{})
	ctx := context.Background()

	h.step(t)

	snap, err := h.runner.StopCapture(ctx)
	require.NoError(t, err)
	assert.Equal(t, motion.StatePaused.String(), snap.State)
	snap, err = h.runner.StopCapture(ctx)
	require.NoError(t, err)
	assert.Equal(t, motion.StatePaused.String(), snap.State)

	calls := src.Calls()
	h.step(t)
	h.step(t)
	assert.Equal(t, calls, src.Calls(), "paused loop must not touch the camera")

	// модель сохранена, поэтому сразу ARMED
	snap, err = h.runner.StartCapture(ctx)
	require.NoError(t, err)
	assert.Equal(t, motion.StateArmed.String(), snap.State)
	snap, err = h.runner.StartCapture(ctx)
	require.NoError(t, err)
	assert.Equal(t, motion.StateArmed.String(), snap.State)
	assert.Equal(t, motion.StateArmed.String(), h.runner.Snapshot().State)
}

func TestRunner_StartPaused(t *testing.T) {
	src := &fakeSource{frame: alternating}
	h := start(t, src, &fakeReporter{}, Options{StartPaused: true})

	require.Eventually(t, func() bool {
		return h.runner.Snapshot().State == motion.StatePaused.String()
	}, time.Second, time.Millisecond)
	h.step(t)
	assert.Zero(t, src.Calls())
}

func TestRunner_ManualCapture(t *testing.T) {
	t.Run("notify failure is distinct", func(t *testing.T) {
		rep := &fakeReporter{
			manual:    collector.ManualResult{Status: collector.ManualNotifyFailed, Image: []byte("jpeg")},
			manualErr: &collector.NotifyError{Err: errors.New("status 500")},
		}
		h := start(t, &fakeSource{frame: alternating}, rep, Options{})

		res, err := h.runner.ManualCapture(context.Background())
		assert.Equal(t, collector.ManualNotifyFailed, res.Status)
		var notify *collector.NotifyError
		assert.ErrorAs(t, err, &notify)
	})

	t.Run("ignores cooldown", func(t *testing.T) {
		rep := &fakeReporter{manual: collector.ManualResult{Status: collector.ManualSuccess}}
		h := start(t, &fakeSource{frame: alternating}, rep, Options{})
		h.step(t)
		h.step(t)

		res, err := h.runner.ManualCapture(context.Background())
		require.NoError(t, err)
		assert.Equal(t, collector.ManualSuccess, res.Status)
		assert.Equal(t, motion.StateCooldown.String(), h.runner.Snapshot().State)
	})

	t.Run("capture failure", func(t *testing.T) {
		h := start(t, &fakeSource{frame: alternating, fail: 1}, &fakeReporter{}, Options{})

		_, err := h.runner.ManualCapture(context.Background())
		assert.ErrorIs(t, err, camera.ErrFrameAcquisition)
	})
}

func TestRunner_TakePhotoUploadsToCollector(t *testing.T) {
	rep := &fakeReporter{}
	h := start(t, &fakeSource{frame: alternating}, rep, Options{})

	img, err := h.runner.TakePhoto(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), img)
	assert.Equal(t, int32(1), rep.uploads.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Deliveries.WithLabelValues("photo", metrics.ResultOK)))

	rect, err := h.runner.CameraCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, frameSize, frameSize), rect)
}

func TestRunner_TakePhotoUploadFailureStillReturnsImage(t *testing.T) {
	rep := &fakeReporter{uploadErr: &collector.ReportDeliveryError{Endpoint: "/api/receive_image", StatusCode: 500}}
	h := start(t, &fakeSource{frame: alternating}, rep, Options{})

	img, err := h.runner.TakePhoto(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), img)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Deliveries.WithLabelValues("photo", metrics.ResultError)))
}

func TestRunner_EventTimeIsCaptureTime(t *testing.T) {
	src := &fakeSource{frame: alternating, delay: 300 * time.Millisecond}
	rep := &fakeReporter{}
	h := start(t, src, rep, Options{})

	// tick at 1s captures at 1.3s; the next tick fires at 2.3s and captures at 2.6s
	h.step(t)
	h.step(t)

	require.Eventually(t, func() bool { return len(rep.Events()) == 1 }, time.Second, time.Millisecond)
	ev := rep.Events()[0]
	assert.Equal(t, t0.Add(2600*time.Millisecond), ev.Timestamp)
	assert.Equal(t, ev.Timestamp, ev.Frame.CapturedAt)
	assert.Equal(t, ev.Timestamp, h.runner.Snapshot().LastMotion)
}

func TestRunner_HandleCommand(t *testing.T) {
	h := start(t, &fakeSource{frame: alternating}, &fakeReporter{manualErr: errors.New("down")}, Options{})
	ctx := context.Background()

	require.NoError(t, h.runner.HandleCommand(ctx, models.AgentCommand{Action: models.CommandStop}))
	assert.Equal(t, motion.StatePaused.String(), h.runner.Snapshot().State)

	require.NoError(t, h.runner.HandleCommand(ctx, models.AgentCommand{Action: models.CommandStart}))
	assert.Equal(t, motion.StateWaitingBaseline.String(), h.runner.Snapshot().State)

	assert.NoError(t, h.runner.HandleCommand(ctx, models.AgentCommand{Action: models.CommandManual}))
	assert.NoError(t, h.runner.HandleCommand(ctx, models.AgentCommand{Action: "reboot"}))
}

func TestRunner_ShutdownWaitsForReportsAndClosesCameraOnce(t *testing.T) {
	src := &fakeSource{frame: alternating}
	rep := &fakeReporter{release: make(chan struct{})}
	h := start(t, src, rep, Options{})

	h.step(t)
	h.step(t)
	require.Eventually(t, func() bool { return rep.entered.Load() == 1 }, time.Second, time.Millisecond)

	h.cancel()
	select {
	case <-h.done:
		t.Fatal("loop exited before the in-flight report finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(rep.release)
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Len(t, rep.Events(), 1)
	assert.Equal(t, int32(1), src.closed.Load())

	_, err := h.runner.StartCapture(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = h.runner.TakePhoto(context.Background())
	assert.ErrorIs(t, err, camera.ErrClosed)
}
