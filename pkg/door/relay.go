// Package door drives the lock relay and enforces the weekly access
// schedule for the entry it guards.
package door

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
)

// ErrDoorBusy is returned when an unlock overlaps a pending relock.
var ErrDoorBusy = errors.New("door is already unlocked")

// relayLine abstracts the GPIO pin so the controller can be exercised
// without Raspberry Pi hardware.
type relayLine interface {
	High()
	Low()
	Close() error
}

type rpioLine struct {
	pin rpio.Pin
}

func (l *rpioLine) High()        { l.pin.High() }
func (l *rpioLine) Low()         { l.pin.Low() }
func (l *rpioLine) Close() error { return rpio.Close() }

// Controller operates the lock relay. Unlock energizes the relay and
// schedules an automatic relock.
type Controller struct {
	mu       sync.Mutex
	line     relayLine
	duration time.Duration
	relock   *time.Timer
	unlocked bool
	log      *logrus.Entry
}

// NewController opens the GPIO subsystem and claims the given BCM pin
// as the relay output. The relay starts de-energized (locked).
func NewController(bcmPin int, unlockDuration time.Duration) (*Controller, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w", err)
	}
	pin := rpio.Pin(bcmPin)
	pin.Output()
	pin.Low()

	logging.Infof("Door relay ready on BCM pin %d", bcmPin)
	return &Controller{
		line:     &rpioLine{pin: pin},
		duration: unlockDuration,
		log:      logging.Component("door"),
	}, nil
}

// newControllerWithLine is the test seam.
func newControllerWithLine(line relayLine, unlockDuration time.Duration) *Controller {
	return &Controller{
		line:     line,
		duration: unlockDuration,
		log:      logging.Component("door"),
	}
}

// Unlock energizes the relay and arms the relock timer. A second
// unlock while the door is open returns ErrDoorBusy without touching
// the timer.
func (c *Controller) Unlock() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unlocked {
		return ErrDoorBusy
	}
	c.line.High()
	c.unlocked = true
	c.log.Info("Door unlocked")

	c.relock = time.AfterFunc(c.duration, func() {
		if err := c.Lock(); err != nil {
			c.log.Warn("Automatic relock failed: ", err)
		}
	})
	return nil
}

// Lock de-energizes the relay immediately and cancels any pending
// relock.
func (c *Controller) Lock() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.relock != nil {
		c.relock.Stop()
		c.relock = nil
	}
	c.line.Low()
	if c.unlocked {
		c.log.Info("Door locked")
	}
	c.unlocked = false
	return nil
}

// Unlocked reports the current relay state.
func (c *Controller) Unlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlocked
}

// Close locks the door and releases the GPIO subsystem.
func (c *Controller) Close() error {
	if err := c.Lock(); err != nil {
		return err
	}
	return c.line.Close()
}
