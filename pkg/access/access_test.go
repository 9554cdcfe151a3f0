package access

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/door"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/liveness"
	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/recognition"
)

type fakeRunner struct {
	result liveness.Result
}

func (r *fakeRunner) Run(ctx context.Context) liveness.Result { return r.result }

type fakeMatcher struct {
	descriptor recognition.Descriptor
	descErr    error
	match      recognition.MatchResult
}

func (m *fakeMatcher) DescriptorFromImage(img image.Image) (recognition.Descriptor, error) {
	return m.descriptor, m.descErr
}

func (m *fakeMatcher) BestMatch(probe recognition.Descriptor, gallery []recognition.Profile) recognition.MatchResult {
	return m.match
}

type fakeRecords struct {
	gallery    []recognition.Profile
	galleryErr error
	schedule   door.WeekSchedule
	touched    []string
}

func (r *fakeRecords) Gallery() ([]recognition.Profile, error) { return r.gallery, r.galleryErr }
func (r *fakeRecords) LoadSchedule() (door.WeekSchedule, error) {
	return r.schedule, nil
}
func (r *fakeRecords) TouchAccess(userID string) error {
	r.touched = append(r.touched, userID)
	return nil
}

type fakeLock struct {
	unlocks int
	err     error
}

func (l *fakeLock) Unlock() error {
	l.unlocks++
	return l.err
}

func createLiveResult() liveness.Result {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	return liveness.Result{
		Verdict:   liveness.VerdictLive,
		FaceImage: &liveness.Frame{Image: img, Timestamp: time.Now()},
	}
}

// alwaysOpenSchedule unlocks every weekday so tests do not depend on
// the wall clock.
func alwaysOpenSchedule() door.WeekSchedule {
	w := door.WeekSchedule{}
	for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		w[day] = door.DaySchedule{Day: day, ForceUnlocked: true}
	}
	return w
}

func createVerifier(runner SessionRunner, matcher Matcher, records Records, lock Lock, sink EventSink) *Verifier {
	return NewVerifier(runner, matcher, records, lock, sink)
}

func TestVerifyGranted(t *testing.T) {
	runner := &fakeRunner{result: createLiveResult()}
	matcher := &fakeMatcher{match: recognition.MatchResult{UserID: "alice", Distance: 0.25, Matched: true}}
	records := &fakeRecords{schedule: alwaysOpenSchedule()}
	lock := &fakeLock{}

	var sunk []Decision
	v := createVerifier(runner, matcher, records, lock, func(d Decision) { sunk = append(sunk, d) })

	decision := v.Verify(context.Background())

	if !decision.Granted {
		t.Fatalf("expected grant, denied with %s", decision.Denial)
	}
	if decision.UserID != "alice" {
		t.Errorf("UserID = %s, want alice", decision.UserID)
	}
	if lock.unlocks != 1 {
		t.Errorf("lock unlocked %d times, want 1", lock.unlocks)
	}
	if len(records.touched) != 1 || records.touched[0] != "alice" {
		t.Errorf("TouchAccess calls = %v, want [alice]", records.touched)
	}
	if len(sunk) != 1 || !sunk[0].Granted {
		t.Errorf("sink should receive the granted decision, got %v", sunk)
	}
	if decision.Reason() != "" {
		t.Errorf("granted decision Reason() = %q, want empty", decision.Reason())
	}
}

func TestVerifyDenialCodes(t *testing.T) {
	tests := []struct {
		name   string
		result liveness.Result
		want   DenialCode
	}{
		{
			"not live",
			liveness.Result{Verdict: liveness.VerdictNotLive, Err: liveness.ErrLivenessFailed},
			DenyNotLive,
		},
		{
			"timeout",
			liveness.Result{Verdict: liveness.VerdictNotLive, Err: liveness.ErrSessionTimeout},
			DenyTimeout,
		},
		{
			"cancelled",
			liveness.Result{Verdict: liveness.VerdictCancelled, Err: liveness.ErrSessionCancelled},
			DenyCancelled,
		},
		{
			"live without usable frame",
			liveness.Result{Verdict: liveness.VerdictLive},
			DenyNoFace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{result: tt.result}
			lock := &fakeLock{}
			v := createVerifier(runner, &fakeMatcher{}, &fakeRecords{}, lock, nil)

			decision := v.Verify(context.Background())

			if decision.Granted {
				t.Fatal("expected denial")
			}
			if decision.Denial != tt.want {
				t.Errorf("Denial = %s, want %s", decision.Denial, tt.want)
			}
			if lock.unlocks != 0 {
				t.Error("denied attempt must not touch the lock")
			}
			if decision.Reason() == "" {
				t.Error("denied decision should carry a reason")
			}
		})
	}
}

func TestVerifyNotRecognized(t *testing.T) {
	runner := &fakeRunner{result: createLiveResult()}
	matcher := &fakeMatcher{match: recognition.MatchResult{UserID: "alice", Distance: 0.8, Matched: false}}
	records := &fakeRecords{schedule: alwaysOpenSchedule()}
	lock := &fakeLock{}

	v := createVerifier(runner, matcher, records, lock, nil)
	decision := v.Verify(context.Background())

	if decision.Granted {
		t.Fatal("unmatched face must not be granted")
	}
	if decision.Denial != DenyNotRecognized {
		t.Errorf("Denial = %s, want %s", decision.Denial, DenyNotRecognized)
	}
	if decision.Distance != 0.8 {
		t.Errorf("Distance = %f, want 0.8", decision.Distance)
	}
	if lock.unlocks != 0 {
		t.Error("unmatched face must not unlock the door")
	}
}

func TestVerifyDescriptorFailure(t *testing.T) {
	runner := &fakeRunner{result: createLiveResult()}
	matcher := &fakeMatcher{descErr: recognition.ErrNoFaceDetected}

	v := createVerifier(runner, matcher, &fakeRecords{}, &fakeLock{}, nil)
	decision := v.Verify(context.Background())

	if decision.Denial != DenyNoFace {
		t.Errorf("Denial = %s, want %s", decision.Denial, DenyNoFace)
	}
}

func TestVerifyOutOfHours(t *testing.T) {
	runner := &fakeRunner{result: createLiveResult()}
	matcher := &fakeMatcher{match: recognition.MatchResult{UserID: "alice", Distance: 0.2, Matched: true}}
	// Empty schedule closes every day.
	records := &fakeRecords{schedule: door.WeekSchedule{}}
	lock := &fakeLock{}

	v := createVerifier(runner, matcher, records, lock, nil)
	decision := v.Verify(context.Background())

	if decision.Granted {
		t.Fatal("out-of-hours attempt must be denied")
	}
	if decision.Denial != DenyOutOfHours {
		t.Errorf("Denial = %s, want %s", decision.Denial, DenyOutOfHours)
	}
	if lock.unlocks != 0 {
		t.Error("out-of-hours attempt must not unlock the door")
	}
}

func TestVerifyDoorError(t *testing.T) {
	runner := &fakeRunner{result: createLiveResult()}
	matcher := &fakeMatcher{match: recognition.MatchResult{UserID: "alice", Matched: true}}
	records := &fakeRecords{schedule: alwaysOpenSchedule()}
	lock := &fakeLock{err: errors.New("relay stuck")}

	v := createVerifier(runner, matcher, records, lock, nil)
	decision := v.Verify(context.Background())

	if decision.Granted {
		t.Fatal("relay failure must deny access")
	}
	if decision.Denial != DenyDoorError {
		t.Errorf("Denial = %s, want %s", decision.Denial, DenyDoorError)
	}
}

func TestVerifyToleratesBusyDoor(t *testing.T) {
	runner := &fakeRunner{result: createLiveResult()}
	matcher := &fakeMatcher{match: recognition.MatchResult{UserID: "alice", Matched: true}}
	records := &fakeRecords{schedule: alwaysOpenSchedule()}
	lock := &fakeLock{err: door.ErrDoorBusy}

	v := createVerifier(runner, matcher, records, lock, nil)
	decision := v.Verify(context.Background())

	if !decision.Granted {
		t.Errorf("an already-open door should not deny a valid entry, got %s", decision.Denial)
	}
}

func TestVerifyNilLock(t *testing.T) {
	runner := &fakeRunner{result: createLiveResult()}
	matcher := &fakeMatcher{match: recognition.MatchResult{UserID: "alice", Matched: true}}
	records := &fakeRecords{schedule: alwaysOpenSchedule()}

	v := createVerifier(runner, matcher, records, nil, nil)
	decision := v.Verify(context.Background())

	if !decision.Granted {
		t.Errorf("dry-run without a lock should still grant, got %s", decision.Denial)
	}
}

func TestReasonUnknownCode(t *testing.T) {
	if Reason(DenialCode("SOMETHING_ELSE")) != "access denied" {
		t.Error("unknown denial codes should fall back to the generic reason")
	}
}
