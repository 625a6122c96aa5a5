// Command train-motor drives a DC model-train motor through an H-bridge and
// accepts speed commands over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/train-motor/internal/config"
	"github.com/sweeney/train-motor/internal/drive"
	"github.com/sweeney/train-motor/internal/gpio"
	"github.com/sweeney/train-motor/internal/motor"
	"github.com/sweeney/train-motor/internal/mqtt"
	"github.com/sweeney/train-motor/internal/pwm"
	"github.com/sweeney/train-motor/internal/status"
	"github.com/sweeney/train-motor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	printConfig := flag.Bool("print-config", false, "Print the effective config as YAML and exit")
	broker := flag.String("broker", "", "MQTT broker address")
	httpAddr := flag.String("http", "", `HTTP address ("off" disables)`)
	maxSpeed := flag.Int("max-speed", 0, "Maximum speed magnitude")
	step := flag.Duration("step", 0, "Delay between speed steps")
	brake := flag.Duration("brake", 0, "Pause after a stop before reversing")
	heartbeat := flag.Duration("heartbeat", 0, "Heartbeat interval (0 to disable)")
	pinEnable := flag.Int("pin-enable", 0, "BCM pin for the H-bridge enable line (0 for none)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	// Flags win over file and environment, but only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.Broker = *broker
		case "http":
			cfg.HTTPAddr = *httpAddr
			if cfg.HTTPAddr == "off" {
				cfg.HTTPAddr = ""
			}
		case "max-speed":
			cfg.MaxSpeed = *maxSpeed
		case "step":
			cfg.StepMs = step.Milliseconds()
		case "brake":
			cfg.BrakeMs = brake.Milliseconds()
		case "heartbeat":
			cfg.HeartbeatMs = heartbeat.Milliseconds()
		case "pin-enable":
			cfg.EnablePin = *pinEnable
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config) error {
	// Initialize PWM
	driver, err := pwm.NewRealDriver()
	if err != nil {
		return fmt.Errorf("init pwm: %w", err)
	}
	defer driver.Close()

	// Initialize enable line; Close drives it low before the PWM is released.
	var enabler gpio.Enabler = gpio.NopEnabler{}
	if cfg.EnablePin != 0 {
		e, err := gpio.NewRealEnabler(cfg.EnablePin)
		if err != nil {
			return fmt.Errorf("init enable line: %w", err)
		}
		enabler = e
	}
	defer enabler.Close()

	events := make(chan motor.Event, 64)
	ctrl, err := bringUp(cfg.Motor(), driver, enabler, func(e motor.Event) {
		select {
		case events <- e:
		default:
			log.Printf("motor: event queue full, dropping %s", e.Type)
		}
	})
	if err != nil {
		return err
	}

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(cfg.Broker, cfg.ClientID)
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), cfg.Status(), ctrl)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	results := make(chan drive.Result, 64)
	report := func(r drive.Result) {
		select {
		case results <- r:
		default:
			log.Printf("drive: result queue full, dropping %s %s", r.Command.Kind, r.Status)
		}
	}
	dispatcher := drive.NewDispatcher(ctrl, cfg.QueueDepth, report)

	if err := publisher.Subscribe(func(cmd drive.Command) {
		if err := dispatcher.Submit(cmd); err != nil {
			log.Printf("mqtt: command %s rejected: %v", cmd.Kind, err)
			report(drive.Result{Timestamp: time.Now(), Command: cmd, Status: drive.StatusFailed, Speed: ctrl.CurrentSpeed(), Err: err})
		}
	}); err != nil {
		log.Printf("mqtt: subscribe failed: %v", err)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, dispatcher)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", cfg.HTTPAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(ctx) }()

	log.Printf("started: max=%d step=%v brake=%v pwm=%dHz/%dbit A=%d B=%d broker=%s heartbeat=%v",
		cfg.MaxSpeed, cfg.StepDelay(), cfg.BrakeDelay(), cfg.FrequencyHz, cfg.ResolutionBits,
		cfg.ChannelA, cfg.ChannelB, cfg.Broker, cfg.Heartbeat())

	var tick <-chan time.Time
	if cfg.Heartbeat() > 0 {
		ticker := time.NewTicker(cfg.Heartbeat())
		defer ticker.Stop()
		tick = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		publisher:    publisher,
		mqttStatus:   publisher,
		tracker:      tracker,
		motor:        ctrl,
		events:       events,
		results:      results,
		cancel:       cancel,
		dispatchDone: dispatchDone,
		now:          time.Now,
		heartbeat:    tick,
		sig:          sigCh,
	})
}

// bringUp attaches the PWM channels and zeroes them before the bridge is
// enabled, so the motor cannot twitch on a stale duty cycle.
func bringUp(cfg motor.Config, driver motor.PWM, enabler gpio.Enabler, onEvent func(motor.Event)) (*motor.Controller, error) {
	ctrl := motor.New(cfg, driver, nil)
	if onEvent != nil {
		ctrl.OnEvent(onEvent)
	}
	if err := ctrl.Setup(); err != nil {
		return nil, fmt.Errorf("setup motor: %w", err)
	}
	if err := enabler.SetEnabled(true); err != nil {
		return nil, fmt.Errorf("enable driver: %w", err)
	}
	return ctrl, nil
}

// stopper is the part of the controller needed at shutdown.
type stopper interface {
	Stop() error
}

// loop holds everything runLoop reads from or acts on.
type loop struct {
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	motor      stopper

	events  <-chan motor.Event
	results <-chan drive.Result

	// cancel stops the dispatcher; dispatchDone receives Run's return value.
	cancel       context.CancelFunc
	dispatchDone <-chan error

	now       func() time.Time
	heartbeat <-chan time.Time // nil disables heartbeats
	sig       <-chan os.Signal
}

// runLoop publishes motor events, command results and heartbeats until a
// signal arrives or the dispatcher fails. Either way the motor is stopped and
// a SHUTDOWN event published before returning. A dispatcher failure is
// returned as the error.
func runLoop(l loop) error {
	for {
		select {
		case s := <-l.sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			// The dispatcher must let go of the controller before Stop can run.
			l.cancel()
			if err := <-l.dispatchDone; err != nil {
				log.Printf("dispatcher error during shutdown: %v", err)
			}
			l.shutdown(signalName)
			return nil

		case err := <-l.dispatchDone:
			if err == nil {
				err = errors.New("dispatcher exited")
			}
			log.Printf("dispatcher failed: %v", err)
			l.shutdown("ERROR")
			return err

		case event := <-l.events:
			l.publishEvent(event)

		case result := <-l.results:
			l.publishResult(result)

		case <-l.heartbeat:
			hbEvent := mqtt.SystemEvent{
				Timestamp: l.now(),
				Event:     "HEARTBEAT",
			}
			if l.tracker != nil {
				l.refreshConnection()
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					l.tracker.SetNetwork(net)
				}
				snap := l.tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v speed=%d set=%d stop=%d reverse=%d",
					snap.Uptime().Truncate(time.Second), snap.Speed, snap.Counts.SpeedSet, snap.Counts.Stop, snap.Counts.Reverse)
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := l.publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

func (l loop) publishEvent(event motor.Event) {
	log.Printf("event: %s %d -> %d (target %d, cancelled=%v)", event.Type, event.From, event.To, event.Target, event.Cancelled)
	if err := l.publisher.Publish(event); err != nil {
		log.Printf("publish error: %v", err)
	}
	l.refreshConnection()
}

func (l loop) publishResult(result drive.Result) {
	if l.tracker != nil && result.Status != drive.StatusAccepted {
		l.tracker.RecordResult(result)
	}
	if err := l.publisher.PublishExec(result); err != nil {
		log.Printf("exec publish error: %v", err)
	}
}

func (l loop) refreshConnection() {
	if l.tracker != nil && l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// shutdown stops the motor, flushes pending events and results, and
// publishes SHUTDOWN with the final status.
func (l loop) shutdown(reason string) {
	if err := l.motor.Stop(); err != nil {
		log.Printf("stop on shutdown: %v", err)
	}
	l.drain()

	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		l.refreshConnection()
		snap := l.tracker.Snapshot()
		event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

func (l loop) drain() {
	for {
		select {
		case event := <-l.events:
			l.publishEvent(event)
		case result := <-l.results:
			l.publishResult(result)
		default:
			return
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
