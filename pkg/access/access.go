// Package access runs the full entry decision: a liveness session in
// front of the door camera, identity matching against the enrolled
// gallery, the weekly schedule check, and finally the relay.
package access

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/door"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/liveness"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/recognition"
)

// DenialCode identifies why entry was refused.
type DenialCode string

const (
	DenyNone          DenialCode = ""
	DenyNotLive       DenialCode = "NOT_LIVE"
	DenyTimeout       DenialCode = "TIMEOUT"
	DenyCancelled     DenialCode = "CANCELLED"
	DenyNoFace        DenialCode = "NO_FACE"
	DenyNotRecognized DenialCode = "NOT_RECOGNIZED"
	DenyOutOfHours    DenialCode = "OUT_OF_HOURS"
	DenyDoorError     DenialCode = "DOOR_ERROR"
)

var denialReasons = map[DenialCode]string{
	DenyNotLive:       "liveness verification failed",
	DenyTimeout:       "liveness session timed out",
	DenyCancelled:     "verification was cancelled",
	DenyNoFace:        "no usable face in the verified frame",
	DenyNotRecognized: "face not recognized",
	DenyOutOfHours:    "access denied by schedule",
	DenyDoorError:     "door hardware error",
}

// Reason returns a human-readable explanation for a denial code.
func Reason(code DenialCode) string {
	if msg, ok := denialReasons[code]; ok {
		return msg
	}
	return "access denied"
}

// Decision is the outcome of one entry attempt.
type Decision struct {
	Granted  bool
	UserID   string
	Distance float64
	Denial   DenialCode
	Liveness liveness.Result
	Duration time.Duration
}

// Reason returns the denial explanation, or an empty string when the
// decision granted access.
func (d Decision) Reason() string {
	if d.Granted {
		return ""
	}
	return Reason(d.Denial)
}

// SessionRunner runs one liveness session.
type SessionRunner interface {
	Run(ctx context.Context) liveness.Result
}

// Matcher extracts descriptors and scans the gallery.
type Matcher interface {
	DescriptorFromImage(img image.Image) (recognition.Descriptor, error)
	BestMatch(probe recognition.Descriptor, gallery []recognition.Profile) recognition.MatchResult
}

// Records loads enrolled identities and the schedule, and tracks
// access times. The file store satisfies it.
type Records interface {
	Gallery() ([]recognition.Profile, error)
	LoadSchedule() (door.WeekSchedule, error)
	TouchAccess(userID string) error
}

// Lock operates the physical door.
type Lock interface {
	Unlock() error
}

// EventSink receives completed decisions, typically for the MQTT
// backend.
type EventSink func(Decision)

// Verifier wires the stages together.
type Verifier struct {
	runner  SessionRunner
	matcher Matcher
	records Records
	lock    Lock
	sink    EventSink
	now     func() time.Time
	log     *logrus.Entry
}

// NewVerifier builds a verifier. The event sink and lock may be nil
// for dry-run setups such as the CLI verify command.
func NewVerifier(runner SessionRunner, matcher Matcher, records Records, lock Lock, sink EventSink) *Verifier {
	return &Verifier{
		runner:  runner,
		matcher: matcher,
		records: records,
		lock:    lock,
		sink:    sink,
		now:     time.Now,
		log:     logging.Component("access"),
	}
}

// Verify runs one complete entry attempt. The liveness verdict gates
// everything else: identity matching only ever sees a frame from a
// session that ended live.
func (v *Verifier) Verify(ctx context.Context) Decision {
	start := v.now()
	decision := Decision{}
	defer func() {
		decision.Duration = v.now().Sub(start)
		if v.sink != nil {
			v.sink(decision)
		}
	}()

	result := v.runner.Run(ctx)
	decision.Liveness = result

	if result.Verdict != liveness.VerdictLive {
		decision.Denial = denialForResult(result)
		v.log.WithFields(logging.Fields{
			"verdict": result.Verdict.String(),
			"denial":  string(decision.Denial),
		}).Warn("Entry denied before identity check")
		return decision
	}
	if result.FaceImage == nil {
		decision.Denial = DenyNoFace
		return decision
	}

	probe, err := v.matcher.DescriptorFromImage(result.FaceImage.Image)
	if err != nil {
		v.log.WithError(err).Warn("Descriptor extraction failed on verified frame")
		decision.Denial = DenyNoFace
		return decision
	}

	gallery, err := v.records.Gallery()
	if err != nil {
		v.log.WithError(err).Error("Cannot load enrollment gallery")
		decision.Denial = DenyNotRecognized
		return decision
	}

	match := v.matcher.BestMatch(probe, gallery)
	decision.Distance = match.Distance
	if !match.Matched {
		decision.Denial = DenyNotRecognized
		v.log.WithField("distance", match.Distance).Info("Live face did not match any enrolled user")
		return decision
	}
	decision.UserID = match.UserID

	schedule, err := v.records.LoadSchedule()
	if err != nil {
		v.log.WithError(err).Error("Cannot load door schedule")
		decision.Denial = DenyOutOfHours
		return decision
	}
	if !schedule.AllowedAt(v.now()) {
		decision.Denial = DenyOutOfHours
		v.log.WithField("user", match.UserID).Info("Recognized user outside allowed hours")
		return decision
	}

	if v.lock != nil {
		if err := v.lock.Unlock(); err != nil && !errors.Is(err, door.ErrDoorBusy) {
			v.log.WithError(err).Error("Relay unlock failed")
			decision.Denial = DenyDoorError
			return decision
		}
	}
	if err := v.records.TouchAccess(match.UserID); err != nil {
		v.log.WithError(err).Warn("Failed to record access time")
	}

	decision.Granted = true
	v.log.WithFields(logging.Fields{
		"user":     match.UserID,
		"distance": match.Distance,
	}).Info("Access granted")
	return decision
}

func denialForResult(result liveness.Result) DenialCode {
	switch {
	case errors.Is(result.Err, liveness.ErrSessionTimeout):
		return DenyTimeout
	case result.Verdict == liveness.VerdictCancelled:
		return DenyCancelled
	default:
		return DenyNotLive
	}
}
