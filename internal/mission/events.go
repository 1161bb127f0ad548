package mission

import (
	"time"

	"github.com/google/uuid"

	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

type EventKind string

const (
	EventTransition EventKind = "transition"
	EventCommand    EventKind = "command"
	EventProgress   EventKind = "progress"
	EventError      EventKind = "error"
	EventSafety     EventKind = "safety"
	EventResult     EventKind = "result"
)

// Event is one entry of the mission timeline. From and To are set on
// transitions only; Sample is the telemetry that triggered the event, if any.
type Event struct {
	ID        string         `json:"id"`
	MissionID string         `json:"mission_id"`
	Kind      EventKind      `json:"kind"`
	Time      time.Time      `json:"time"`
	Phase     Phase          `json:"phase"`
	From      *Phase         `json:"from,omitempty"`
	To        *Phase         `json:"to,omitempty"`
	Command   string         `json:"command,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Sample    *vehicle.State `json:"sample,omitempty"`
	Message   string         `json:"message,omitempty"`
	Err       string         `json:"error,omitempty"`
	Result    *Result        `json:"result,omitempty"`
}

type Observer interface {
	Observe(e Event)
}

type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to every observer in order.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, x := range o {
		if x != nil {
			x.Observe(e)
		}
	}
}

type Transition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	Time time.Time `json:"time"`
	Seq  uint64    `json:"seq,omitempty"`
}

// Result is the terminal outcome of a mission.
type Result struct {
	MissionID   string       `json:"mission_id"`
	Phase       Phase        `json:"phase"`
	Failure     *Failure     `json:"failure,omitempty"`
	Cancelled   bool         `json:"cancelled"`
	Started     time.Time    `json:"started"`
	Finished    time.Time    `json:"finished"`
	Transitions []Transition `json:"transitions"`
}

func (r Result) Succeeded() bool {
	return r.Phase == Landed
}

const (
	ExitLanded = 0
	ExitFailed = 1
	ExitConfig = 2
)

func (r Result) ExitCode() int {
	switch {
	case r.Succeeded():
		return ExitLanded
	case r.Failure != nil && r.Failure.Kind == FailureConfig:
		return ExitConfig
	}
	return ExitFailed
}

func newEvent(missionID string, kind EventKind, phase Phase) Event {
	return Event{
		ID:        uuid.New().String(),
		MissionID: missionID,
		Kind:      kind,
		Time:      time.Now().UTC(),
		Phase:     phase,
	}
}
