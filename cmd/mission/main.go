package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/AeroSaraVJ23/Drone-Automation/internal/drone"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/mission"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/report"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/sim"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

var (
	defaultFlagSet = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	configPath        *string
	address           *string
	altitude          *float64
	hold              *float64
	autopilot         *string
	simulate          *bool
	simScenario       *string
	mqttBrokerAddress *string
	deviceID          *string
	eventsAddr        *string
	logLevel          *string
	logJSON           *bool
)

func init() {
	defineFlags(defaultFlagSet)
}

func defineFlags(fs *flag.FlagSet) {
	defaults := mission.DefaultConfig()
	configPath = fs.String("config", "", "Mission YAML file")
	address = fs.String("address", "", "Connection target, e.g. udp://:14540 or serial:///dev/ttyACM0:57600")
	altitude = fs.Float64("altitude", defaults.TargetAltitudeMeters, "Target altitude in meters")
	hold = fs.Float64("hold", defaults.HoldDurationSeconds, "Hold duration in seconds")
	autopilot = fs.String("autopilot", "px4", "Autopilot on the other end: px4 or ardupilot")
	simulate = fs.Bool("sim", false, "Fly the simulated vehicle instead of a real one")
	simScenario = fs.String("sim_scenario", "", "Simulated vehicle scenario YAML file")
	mqttBrokerAddress = fs.String("mqtt_broker", "", "MQTT broker protocol, address and port")
	deviceID = fs.String("device_id", "", "The device id used in MQTT topics")
	eventsAddr = fs.String("events_addr", "", "Serve mission events over websocket on this address")
	logLevel = fs.String("log_level", "info", "Log level")
	logJSON = fs.Bool("log_json", false, "Log as JSON")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := defaultFlagSet.Parse(args); err != nil {
		return mission.ExitConfig
	}

	logger := logrus.StandardLogger()
	if *logJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.WithError(err).Error("Invalid log level")
		return mission.ExitConfig
	}
	logger.SetLevel(level)
	log := logrus.NewEntry(logger)

	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Error("Invalid configuration")
		return mission.ExitConfig
	}

	link, err := newLink(log)
	if err != nil {
		log.WithError(err).Error("Invalid configuration")
		return mission.ExitConfig
	}

	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)
	ctx, quitFunc := context.WithCancel(context.Background())
	defer quitFunc()
	var wg sync.WaitGroup

	observers := mission.Observers{report.NewLogObserver(log.WithField("component", "mission"))}

	if *mqttBrokerAddress != "" {
		id := *deviceID
		if id == "" {
			id = "drone-" + uuid.New().String()[:8]
		}
		client, err := report.ConnectMQTT(ctx, *mqttBrokerAddress, id, log.WithField("component", "mqtt"))
		if err != nil {
			log.WithError(err).Error("MQTT unavailable")
			return mission.ExitConfig
		}
		defer client.Disconnect(1000)
		observers = append(observers, report.NewMQTTObserver(client, id, log.WithField("component", "mqtt")))
	}

	if *eventsAddr != "" {
		hub := report.NewHub(log.WithField("component", "events"))
		srv := &http.Server{Addr: *eventsAddr, Handler: hub}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Infof("Serving mission events on ws://%s", *eventsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Event server stopped")
			}
		}()
		defer func() {
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			wg.Wait()
		}()
		observers = append(observers, hub)
	}

	seq, err := mission.NewSequencer(cfg, link, observers)
	if err != nil {
		log.WithError(err).Error("Invalid configuration")
		return mission.ExitConfig
	}

	go func() {
		select {
		case sig := <-terminationSignals:
			log.Warnf("Got %v, aborting mission..", sig)
			quitFunc()
		case <-ctx.Done():
		}
	}()

	log.WithFields(logrus.Fields{
		"mission":  seq.ID(),
		"address":  cfg.ConnectionTarget,
		"altitude": cfg.TargetAltitudeMeters,
		"hold":     cfg.HoldDurationSeconds,
	}).Info("Starting mission")

	result := seq.Run(ctx)
	quitFunc()

	if result.Failure != nil {
		fmt.Fprintln(os.Stderr, result.Failure.Error())
	}
	return result.ExitCode()
}

// loadConfig applies the file, then the flags given on the command line.
// Flags left unset never override the file, and flags that were set are
// applied as given so Validate can reject them.
func loadConfig() (mission.Config, error) {
	cfg := mission.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = mission.LoadConfig(*configPath); err != nil {
			return cfg, err
		}
	}

	defaultFlagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.ConnectionTarget = *address
		case "altitude":
			cfg.TargetAltitudeMeters = *altitude
		case "hold":
			cfg.HoldDurationSeconds = *hold
		}
	})
	return cfg, cfg.Validate()
}

func newLink(log *logrus.Entry) (vehicle.Link, error) {
	if *simulate {
		scn := sim.DefaultScenario()
		if *simScenario != "" {
			var err error
			if scn, err = sim.LoadScenario(*simScenario); err != nil {
				return nil, err
			}
		}
		return &sim.Link{Scenario: scn, Log: log}, nil
	}

	ap, err := drone.ParseAutopilot(*autopilot)
	if err != nil {
		return nil, errors.WithMessage(err, "-autopilot")
	}
	return &drone.Link{Autopilot: ap, Log: log}, nil
}
