// Package motion decides, frame by frame, whether meaningful motion happened.
//
// A Detector owns its BackgroundModel and is not safe for concurrent use: one
// goroutine (the detection loop) ticks it and applies Pause/Resume.
package motion

import (
	"time"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

type State int

const (
	StateWaitingBaseline State = iota
	StateArmed
	StateCooldown
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateWaitingBaseline:
		return "WAITING_BASELINE"
	case StateArmed:
		return "ARMED"
	case StateCooldown:
		return "REPORTING_COOLDOWN"
	case StatePaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Params tune the background model and the debounce policy.
type Params struct {
	Alpha          float64
	DeltaThreshold float64
	BlurSigma      float64
	DilateSize     int
	ProcessWidth   int

	MinRegionArea     int
	Cooldown          time.Duration
	QuiescenceTimeout time.Duration // 0 disables the reset on resume
}

func DefaultParams() Params {
	return Params{
		Alpha:          0.5,
		DeltaThreshold: 5,
		BlurSigma:      2,
		DilateSize:     5,
		MinRegionArea:  1000,
		Cooldown:       5 * time.Second,
	}
}

// Decision is the outcome of one tick. Suppressed is set when qualifying
// regions were found inside the cooldown window.
type Decision struct {
	Motion     bool
	Suppressed bool
	Regions    []models.MotionRegion
}

// Snapshot is a read-only copy of the detector state.
type Snapshot struct {
	State           string    `json:"state"`
	LastMotion      time.Time `json:"last_motion"`
	CooldownSeconds float64   `json:"cooldown_seconds"`
}

type Detector struct {
	params Params
	model  *BackgroundModel

	state      State
	lastMotion time.Time
	pausedAt   time.Time
}

func NewDetector(p Params) *Detector {
	return &Detector{
		params: p,
		model:  NewBackgroundModel(p),
		state:  StateWaitingBaseline,
	}
}

func (d *Detector) State() State {
	return d.state
}

func (d *Detector) Snapshot() Snapshot {
	return Snapshot{
		State:           d.state.String(),
		LastMotion:      d.lastMotion,
		CooldownSeconds: d.params.Cooldown.Seconds(),
	}
}

// Tick feeds one frame sampled at now. A paused detector ignores the frame.
func (d *Detector) Tick(frame models.Frame, now time.Time) (Decision, error) {
	if d.state == StatePaused {
		return Decision{}, nil
	}

	change, err := d.model.Update(frame.Image)
	if err != nil {
		return Decision{}, err
	}

	if d.state == StateWaitingBaseline {
		// кадр только что стал базовым, сравнивать не с чем
		d.state = StateArmed
		return Decision{}, nil
	}

	if d.state == StateCooldown && !d.inCooldown(now) {
		d.state = StateArmed
	}

	sx, sy := d.model.Scale()
	origin := d.model.Origin()
	regions := lo.FilterMap(ExtractRegions(change), func(r models.MotionRegion, _ int) (models.MotionRegion, bool) {
		r = scaleRegion(r, sx, sy)
		r.Box = r.Box.Add(origin)
		return r, r.Area >= d.params.MinRegionArea
	})
	if len(regions) == 0 {
		return Decision{}, nil
	}

	if d.inCooldown(now) {
		return Decision{Suppressed: true, Regions: regions}, nil
	}

	d.lastMotion = now
	d.state = StateCooldown
	return Decision{Motion: true, Regions: regions}, nil
}

func (d *Detector) inCooldown(now time.Time) bool {
	return !d.lastMotion.IsZero() && now.Sub(d.lastMotion) < d.params.Cooldown
}

// Pause moves the detector to PAUSED. Repeated calls keep the first pause time.
func (d *Detector) Pause(now time.Time) {
	if d.state == StatePaused {
		return
	}
	d.state = StatePaused
	d.pausedAt = now
}

// Resume leaves PAUSED. The background model is kept unless the detector was
// paused for at least the quiescence timeout. Resuming an active detector is a no-op.
func (d *Detector) Resume(now time.Time) {
	if d.state != StatePaused {
		return
	}
	if d.params.QuiescenceTimeout > 0 && now.Sub(d.pausedAt) >= d.params.QuiescenceTimeout {
		d.Reset()
		return
	}
	if !d.model.Initialized() {
		d.state = StateWaitingBaseline
		return
	}
	d.state = StateArmed
}

// Reset discards the background model; the next tick re-seeds it.
func (d *Detector) Reset() {
	d.model.Reset()
	d.state = StateWaitingBaseline
}
