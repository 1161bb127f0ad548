// Package report publishes the mission timeline: to the log, to an MQTT
// broker and to websocket ground-station clients.
package report

import (
	"github.com/sirupsen/logrus"

	"github.com/AeroSaraVJ23/Drone-Automation/internal/mission"
)

// LogObserver writes one log entry per mission event.
type LogObserver struct {
	log *logrus.Entry
}

func NewLogObserver(log *logrus.Entry) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) Observe(e mission.Event) {
	fields := logrus.Fields{
		"mission": e.MissionID,
		"kind":    string(e.Kind),
		"phase":   e.Phase.String(),
	}
	if e.From != nil && e.To != nil {
		fields["from"], fields["to"] = e.From.String(), e.To.String()
	}
	if e.Command != "" {
		fields["command"] = e.Command
	}
	if e.Attempt > 0 {
		fields["attempt"] = e.Attempt
	}
	if e.Sample != nil {
		fields["altitude"] = e.Sample.RelativeAltitude
		fields["armed"] = e.Sample.Armed
		fields["in_air"] = e.Sample.InAir
	}
	if e.Err != "" {
		fields["error"] = e.Err
	}
	entry := o.log.WithFields(fields)

	switch e.Kind {
	case mission.EventTransition:
		entry.Infof("Phase %s -> %s", e.From, e.To)
	case mission.EventCommand:
		entry.Infof("Command %s %s", e.Command, e.Message)
	case mission.EventProgress:
		entry.Info(e.Message)
	case mission.EventSafety:
		entry.Warn(e.Message)
	case mission.EventError:
		entry.Error(e.Message)
	case mission.EventResult:
		if e.Result != nil && e.Result.Succeeded() {
			entry.WithField("cancelled", e.Result.Cancelled).Info("Mission landed")
		} else {
			entry.Error("Mission failed")
		}
	}
}
