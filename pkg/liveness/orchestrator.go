// Package liveness implements camera-based liveness verification for
// the door access system. A session runs the subject through passive
// texture analysis, blink detection and a random movement challenge,
// optionally probing focus depth, and fuses the stage outcomes into a
// single live / not-live decision before any identity matching
// happens.
package liveness

import (
	"context"
	"image"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/landmark"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
)

// Stage identifies where a session currently is. Stages only ever
// advance forward.
type Stage int

const (
	StageTexture Stage = iota
	StageBlink
	StageMovement
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageTexture:
		return "texture"
	case StageBlink:
		return "blink"
	case StageMovement:
		return "movement"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Verdict is the final session outcome.
type Verdict int

const (
	VerdictNotLive Verdict = iota
	VerdictLive
	VerdictCancelled
)

func (v Verdict) String() string {
	switch v {
	case VerdictLive:
		return "live"
	case VerdictCancelled:
		return "cancelled"
	default:
		return "not-live"
	}
}

// Policy selects how stage outcomes fuse into the verdict.
type Policy string

const (
	// PolicyAll requires every evaluated stage to pass.
	PolicyAll Policy = "all"
	// PolicyBlinkAndOne requires the blink and movement stages plus at
	// least one of the texture or focus-depth stages.
	PolicyBlinkAndOne Policy = "blink-and-one"
)

// Config controls a liveness session.
type Config struct {
	Timeout        time.Duration
	Policy         Policy
	EnableTexture  bool
	EnableBlink    bool
	EnableMovement bool
	EnableFocus    bool

	RequiredBlinks    int
	EARFloor          float64
	TextureQuorum     int
	TextureThresholds TextureThresholds
	MinFaceArea       int
	FaceMargin        int

	FocusSettings []float64
	FocusSettle   time.Duration

	// Rand drives the challenge direction. Nil means time-seeded.
	Rand *rand.Rand
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		Policy:            PolicyBlinkAndOne,
		EnableTexture:     true,
		EnableBlink:       true,
		EnableMovement:    true,
		EnableFocus:       true,
		RequiredBlinks:    2,
		EARFloor:          0.20,
		TextureQuorum:     5,
		TextureThresholds: DefaultTextureThresholds(),
		MinFaceArea:       2500,
		FaceMargin:        20,
		FocusSettle:       focusSettleDefault,
	}
}

// BlinkReport summarises the blink stage.
type BlinkReport struct {
	Count     int
	Required  int
	Threshold float64
	Passed    bool
}

// MovementReport summarises the challenge stage.
type MovementReport struct {
	Direction Direction
	Completed bool
}

// StageReports collects per-stage evidence for the final result.
type StageReports struct {
	Texture  *TextureReport
	Blink    BlinkReport
	Movement MovementReport
	Focus    FocusReport
}

// Result is what a finished session returns. FaceImage is only set on
// a live verdict and is a deep copy owned by the caller.
type Result struct {
	Verdict   Verdict
	Stages    StageReports
	FaceImage *Frame
	Elapsed   time.Duration
	Err       error
}

// Orchestrator drives liveness sessions against a frame source and a
// landmark provider.
type Orchestrator struct {
	source   FrameSource
	provider landmark.Provider
	focusCtl FocusController
	cfg      Config
	log      *logrus.Entry
}

func NewOrchestrator(source FrameSource, provider landmark.Provider, cfg Config) *Orchestrator {
	return &Orchestrator{
		source:   source,
		provider: provider,
		cfg:      cfg,
		log:      logging.Component("liveness"),
	}
}

// WithFocusControl attaches manual focus control for the depth stage.
// Without it the stage reports NotEvaluated.
func (o *Orchestrator) WithFocusControl(ctl FocusController) *Orchestrator {
	o.focusCtl = ctl
	return o
}

// session holds the per-run mutable state.
type session struct {
	stage     Stage
	ears      *EarHistory
	earProc   *EarProcessor
	motion    *MotionTracker
	blinks    *BlinkDetector
	challenge *Challenge
	texture   *TextureReport
	lastObs   *landmark.FaceObservation
	bestFace  *Frame
	bestArea  int
}

func (o *Orchestrator) newSession(rng *rand.Rand) *session {
	ears := NewEarHistory(2*time.Second, 60)
	return &session{
		stage:     StageTexture,
		ears:      ears,
		earProc:   NewEarProcessor(ears),
		motion:    NewMotionTracker(),
		blinks:    NewBlinkDetector(o.cfg.EARFloor),
		challenge: NewChallenge(rng),
	}
}

// noteFace retains a deep copy of the frame with the largest face seen
// so far, provided the face is big enough to be useful for recognition.
func (s *session) noteFace(img image.Image, ts time.Time, obs *landmark.FaceObservation, minArea int) {
	area := obs.Area()
	if area < minArea || area <= s.bestArea {
		return
	}
	s.bestFace = (&Frame{Image: img, Timestamp: ts}).Clone()
	s.bestArea = area
}

// Run executes one full liveness session. The loop captures frames
// until every enabled stage completes, the timeout elapses, or the
// context is cancelled. Frames without a detectable face are skipped
// without advancing any stage.
func (o *Orchestrator) Run(ctx context.Context) Result {
	start := time.Now()
	deadline := start.Add(o.cfg.Timeout)

	rng := o.cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	sess := o.newSession(rng)

	result := Result{Verdict: VerdictNotLive}
	result.Stages.Movement.Direction = sess.challenge.Direction()
	result.Stages.Blink.Required = o.cfg.RequiredBlinks

	o.log.WithFields(logging.Fields{
		"policy":    string(o.cfg.Policy),
		"timeout":   o.cfg.Timeout,
		"direction": sess.challenge.Direction().String(),
	}).Info("Liveness session started")

	analyzer := NewTextureAnalyzer(o.cfg.TextureThresholds, o.cfg.TextureQuorum)

	for sess.stage != StageDone {
		if err := ctx.Err(); err != nil {
			result.Verdict = VerdictCancelled
			result.Err = ErrSessionCancelled
			result.Elapsed = time.Since(start)
			return result
		}
		if time.Now().After(deadline) {
			o.log.WithField("stage", sess.stage.String()).Warn("Liveness session timed out")
			result.Err = ErrSessionTimeout
			result.Elapsed = time.Since(start)
			return result
		}

		img, ts, err := o.source.Capture()
		if err != nil {
			o.log.WithError(err).Error("Frame capture failed, aborting session")
			result.Verdict = VerdictCancelled
			result.Err = ErrCaptureFailure
			result.Elapsed = time.Since(start)
			return result
		}

		sess.motion.Update(img, ts)

		obs, found := o.provider.Detect(img, ts)
		if !found {
			continue
		}
		sess.lastObs = obs
		sess.noteFace(img, ts, obs, o.cfg.MinFaceArea)

		o.step(sess, analyzer, img, obs, &result)
	}

	if o.cfg.EnableFocus {
		report, err := NewFocusDepthAnalyzer(o.cfg.FocusSettings, o.cfg.FocusSettle).
			Analyze(o.source, o.focusCtl, sess.lastObs)
		if err != nil {
			result.Verdict = VerdictCancelled
			result.Err = ErrCaptureFailure
			result.Elapsed = time.Since(start)
			return result
		}
		result.Stages.Focus = report
	}

	result.Elapsed = time.Since(start)
	o.decide(sess, &result)
	return result
}

// step advances the session by one frame according to the active
// stage. Disabled stages complete immediately.
func (o *Orchestrator) step(sess *session, analyzer *TextureAnalyzer, img image.Image, obs *landmark.FaceObservation, result *Result) {
	switch sess.stage {
	case StageTexture:
		if o.cfg.EnableTexture {
			region := cropRegion(img, obs.BoundingBox, o.cfg.FaceMargin)
			report := analyzer.Analyze(region)
			sess.texture = &report
			result.Stages.Texture = sess.texture
			o.log.WithFields(logging.Fields{
				"pass_count": report.PassCount,
				"quorum":     report.Quorum,
				"passed":     report.Passed,
			}).Info("Texture analysis complete")
		}
		sess.stage = StageBlink

	case StageBlink:
		if !o.cfg.EnableBlink {
			sess.stage = StageMovement
			return
		}
		sess.earProc.Observe(obs)
		decision := sess.blinks.Update(sess.ears, sess.motion.Still())
		result.Stages.Blink.Count = decision.Count
		result.Stages.Blink.Threshold = decision.Threshold
		if decision.Detected {
			o.log.WithField("count", decision.Count).Info("Blink detected")
		}
		if decision.Count >= o.cfg.RequiredBlinks {
			result.Stages.Blink.Passed = true
			sess.stage = StageMovement
		}

	case StageMovement:
		if !o.cfg.EnableMovement {
			result.Stages.Movement.Completed = true
			sess.stage = StageDone
			return
		}
		if nose, ok := obs.Nose(); ok {
			sess.challenge.Observe(nose)
		}
		if sess.challenge.Completed() {
			o.log.WithField("direction", sess.challenge.Direction().String()).Info("Movement challenge completed")
			result.Stages.Movement.Completed = true
			sess.stage = StageDone
		}
	}
}

// decide fuses the stage outcomes under the configured policy.
func (o *Orchestrator) decide(sess *session, result *Result) {
	blinkOK := !o.cfg.EnableBlink || result.Stages.Blink.Passed
	moveOK := !o.cfg.EnableMovement || result.Stages.Movement.Completed

	textureEvaluated := sess.texture != nil
	textureOK := textureEvaluated && sess.texture.Passed
	focusEvaluated := result.Stages.Focus.Status != FocusNotEvaluated
	focusOK := result.Stages.Focus.Status == FocusPassed

	live := false
	switch o.cfg.Policy {
	case PolicyAll:
		live = blinkOK && moveOK &&
			(!textureEvaluated || textureOK) &&
			(!focusEvaluated || focusOK)
	default: // PolicyBlinkAndOne
		if !textureEvaluated && !focusEvaluated {
			live = blinkOK && moveOK
		} else {
			live = blinkOK && moveOK && (textureOK || focusOK)
		}
	}

	if live {
		result.Verdict = VerdictLive
		result.FaceImage = sess.bestFace
	} else {
		result.Verdict = VerdictNotLive
		result.Err = ErrLivenessFailed
	}
	o.log.WithFields(logging.Fields{
		"verdict": result.Verdict.String(),
		"elapsed": result.Elapsed,
	}).Info("Liveness session finished")
}
