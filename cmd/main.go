package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "nutrient_mixer/docs"
	"nutrient_mixer/internal/bus"
	"nutrient_mixer/internal/command"
	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/device"
	"nutrient_mixer/internal/events"
	"nutrient_mixer/internal/flow"
	"nutrient_mixer/internal/gpio"
	"nutrient_mixer/internal/handlers"
	"nutrient_mixer/internal/job"
	"nutrient_mixer/internal/logger"
	"nutrient_mixer/internal/metrics"
	"nutrient_mixer/internal/repository"
	"nutrient_mixer/internal/repository/db"
	"nutrient_mixer/internal/server"
	"nutrient_mixer/internal/service"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultSigningKey = "change-me"

	eventQueueSize   = 256
	eventTimeout     = 5 * time.Second
	edgeQueueSize    = 1024
	shutdownTimeout  = 30 * time.Second
	mqttDisconnectMs = 250
)

func main() {
	configPath := flag.String("config", "configs/config.yml", "path to the rig configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Get(logger.InfoLevel, logger.FormatConsole).Fatalw("error reading config", "path", *configPath, "err", err)
	}
	log := logger.Get(cfg.LogLevel, cfg.LogFormat)
	if cfg.Auth.SigningKey == "" || cfg.Auth.SigningKey == defaultSigningKey {
		log.Warnw("auth_default_signing_key", "hint", "set auth.signing_key or MIXER_AUTH_SIGNING_KEY")
	}

	m := metrics.New()

	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "path", cfg.DB.Path, "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()
	repos := repository.NewRepository(sqlDB)

	// collaborators: job history and device state, plus MQTT when enabled
	jobSinks := []events.JobSink{events.History{Jobs: repos.Jobs}}
	stateSinks := []events.StateSink{events.DeviceStore{Repo: repos.Devices}}
	var broker mqtt.Client
	if cfg.MQTT.Enabled {
		broker, err = events.DialMQTT(cfg.MQTT, log.Named("mqtt"))
		if err != nil {
			log.Errorw("mqtt_unavailable", "broker", cfg.MQTT.Broker, "err", err)
		} else {
			sink := events.NewMQTTSink(broker, cfg.MQTT.TopicPrefix)
			jobSinks = append(jobSinks, sink)
			stateSinks = append(stateSinks, sink)
		}
	}
	hub := events.NewHub(eventQueueSize, eventTimeout, log.Named("events"), jobSinks...)
	states := events.NewStateWriter(eventQueueSize, eventTimeout, log.Named("state"), stateSinks...)

	// the single bus arbiter shared by pumps and probes
	open := bus.OpenI2C
	if cfg.Bus.Device == "none" {
		open = bus.OpenNone
	}
	arbiter := bus.NewArbiter(open, bus.Options{
		PoolSize:          cfg.Bus.PoolSize,
		ResponseSize:      cfg.Bus.ResponseSize,
		ReconnectInterval: cfg.Bus.ReconnectInterval,
	}, log.Named("bus"), m)
	defer func() { _ = arbiter.Close() }()
	busClient := bus.NewRetrier(arbiter, cfg.Bus.Retries, cfg.Bus.RetryBackoff, cfg.Bus.Timeout, log.Named("bus"), m)

	chip := gpio.NewChip(cfg.GPIO.Chip)
	counter := flow.NewCounter(cfg.FlowMeters, cfg.Flow.Debounce, cfg.Flow.DefaultPulsesPerGallon, log.Named("flow"), m)
	edges := flow.NewEdgeQueue(counter, edgeQueueSize, log.Named("flow"))
	inputs := watchMeters(chip, cfg.FlowMeters, edges, log)
	defer func() {
		for _, in := range inputs {
			_ = in.Close()
		}
	}()

	relays, err := device.NewRelayController(cfg.Relays, relayLines(chip, cfg, log), states, log.Named("relay"))
	if err != nil {
		log.Fatalw("failed to set up relays", "err", err)
	}
	defer func() { _ = relays.Close() }()

	rig := &device.Rig{
		Relays:       relays,
		Pumps:        device.NewPumpController(cfg.Pumps, busClient, states, log.Named("pump")),
		Flow:         device.NewFlowController(counter, states, log.Named("flow")),
		Sensors:      device.NewSensorController(cfg.Sensors, busClient, log.Named("sensor")),
		BusConnected: arbiter.Connected,
		Log:          log.Named("rig"),
	}
	restoreState(rig, repos.Devices, log)

	dispatcher := command.NewDispatcher(command.RigTarget(rig), cfg.Dispatcher.QueueSize, cfg.Dispatcher.EnqueueTimeout, log.Named("dispatcher"), m)
	manager := job.NewManager(cfg, job.RigHardware{Commands: dispatcher, Rig: rig}, job.Options{
		Planner:  dosingPlanner(cfg),
		Recorder: hub,
		Log:      log.Named("jobs"),
		Metrics:  m,
	})

	services := service.NewService(service.Deps{
		Jobs:       manager,
		Dispatcher: dispatcher,
		Rig:        rig,
		Repos:      repos,
		Auth:       cfg.Auth,
	})
	apiHandler := handlers.NewHandler(services, log.Named("http"), m)
	srv := server.New(cfg.Port, apiHandler.InitRoutes())

	// The engine outlives the signal: job cleanup still needs the
	// dispatcher and the event queues after SIGTERM.
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	var wg sync.WaitGroup
	spawn := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(engineCtx)
		}()
	}
	spawn(hub.Run)
	spawn(states.Run)
	spawn(edges.Run)
	spawn(dispatcher.Run)
	spawn(func(ctx context.Context) { rig.Flow.Monitor(ctx, cfg.Flow.PollInterval) })
	spawn(func(ctx context.Context) { manager.Run(ctx, cfg.Jobs.Tick) })
	if cfg.Serial.Enabled {
		spawn(command.NewSerialSource(cfg.Serial, dispatcher, log.Named("serial")).Run)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	go func() {
		log.Infow("http_listening", "addr", srv.Addr())
		if err := srv.Run(); err != nil {
			log.Errorw("error starting server", "err", err)
			stopSignals()
		}
	}()

	<-sigCtx.Done()
	log.Infow("shutting down")
	shutdown(srv, manager, rig, log)

	stopEngine()
	wg.Wait()
	if broker != nil {
		broker.Disconnect(mqttDisconnectMs)
	}
}

// shutdown drains HTTP, stops every job through its cleanup and then forces
// all devices off.
func shutdown(srv *server.Server, jobs *job.Manager, rig *device.Rig, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	jobs.StopAll(ctx)
	if err := rig.EmergencyStop(ctx); err != nil {
		log.Errorw("shutdown_stop_incomplete", "err", err)
	}
}

// relayLines claims one output per relay. A line that cannot be claimed is
// replaced by gpio.Absent so the rest of the rig still comes up.
func relayLines(chip *gpio.Chip, cfg *config.Config, log *logger.Logger) map[int]device.RelayLine {
	lines := make(map[int]device.RelayLine, len(cfg.Relays))
	for _, r := range cfg.Relays {
		out, err := chip.Output(r.Pin, cfg.GPIO.RelayActiveLow)
		if err != nil {
			log.Errorw("relay_line_unavailable", "relay", r.ID, "pin", r.Pin, "err", err)
			lines[r.ID] = gpio.Absent{Pin: r.Pin}
			continue
		}
		lines[r.ID] = out
	}
	return lines
}

func watchMeters(chip *gpio.Chip, defs []config.FlowMeterDef, edges *flow.EdgeQueue, log *logger.Logger) []*gpio.EdgeInput {
	var inputs []*gpio.EdgeInput
	for _, d := range defs {
		in, err := chip.Edges(d.Pin, edges.Handler(d.ID))
		if err != nil {
			log.Errorw("flow_meter_unavailable", "meter", d.ID, "pin", d.Pin, "err", err)
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs
}

// restoreState re-applies the persisted relay states, pump totals and meter
// calibrations. Failures are logged; the rig starts from defaults instead.
func restoreState(rig *device.Rig, repo repository.DeviceStateRepo, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if relays, err := repo.LoadRelays(ctx); err != nil {
		log.Errorw("restore_relays_failed", "err", err)
	} else if err := rig.Relays.Restore(relays); err != nil {
		log.Errorw("restore_relays_failed", "err", err)
	}
	if pumps, err := repo.LoadPumps(ctx); err != nil {
		log.Errorw("restore_pumps_failed", "err", err)
	} else {
		rig.Pumps.Restore(pumps)
	}
	if meters, err := repo.LoadFlowMeters(ctx); err != nil {
		log.Errorw("restore_flow_meters_failed", "err", err)
	} else {
		rig.Flow.Restore(meters)
	}
}

func dosingPlanner(cfg *config.Config) job.DosingPlanner {
	if len(cfg.Jobs.Doses) == 0 {
		return job.NoDosing{}
	}
	doses := make(job.FixedDosing, 0, len(cfg.Jobs.Doses))
	for _, d := range cfg.Jobs.Doses {
		doses = append(doses, job.Dose{PumpID: d.PumpID, VolumeML: d.VolumeML})
	}
	return doses
}
