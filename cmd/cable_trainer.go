package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/config"
	"github.com/lowaak/cable-trainer/internal/console"
	"github.com/lowaak/cable-trainer/internal/logging"
	"github.com/lowaak/cable-trainer/internal/simulator"
	"github.com/lowaak/cable-trainer/internal/trainer"
	"github.com/rivo/tview"
	"github.com/spf13/pflag"
	"tinygo.org/x/bluetooth"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Usage of cable-trainer:\n%s", config.Usage())
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cable-trainer: %v\n", err)
		os.Exit(2)
	}

	logWriter := console.NewLogWriter(1024)
	logger := logging.New(logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}, logWriter)
	defer logger.Close()
	logger.Println("Starting cable-trainer")

	var btManager bt.BTManagerInterface
	var simServer *simulator.Server
	if cfg.Simulate {
		machine := simulator.NewMachine(logger.Logger, cfg.NamePrefix+" Simulator")
		simManager := simulator.NewManager(logger.Logger, machine)
		simServer = simulator.NewServer(simManager, logger.Logger)
		simServer.Start(cfg.SimulatorAddr)
		btManager = simManager
	} else {
		btManager = bt.NewBTManager(bluetooth.DefaultAdapter, logger.Logger)
	}
	must("enable BLE stack", btManager.Enable())

	prefs := trainer.NewPreferencesStore(cfg.PreferencesFile, trainer.Preferences{Workout: cfg.Workout}, logger.Logger)
	manager := trainer.NewManager(btManager, logger.Logger, trainer.Settings{
		NamePrefix: cfg.NamePrefix,
		Session:    trainer.SessionSettings{PositionDivisor: cfg.PositionDivisor},
		Workout:    cfg.Workout,
	}, prefs)

	model := console.NewModel(manager, logger.Logger, logWriter.Lines(), cfg.AutoStart)
	controller := console.NewController(model, manager, logger.Logger)
	view := console.NewBaseView(console.NewBaseViewArg{
		Impl:       console.NewTviewView(logger.Logger, tview.NewApplication()),
		Model:      model,
		Controller: controller,
		AutoStart:  cfg.AutoStart,
		Logger:     logger.Logger,
	})

	manager.StartDiscovery()
	runErr := view.Run()

	view.Shutdown()
	controller.Shutdown()
	model.Shutdown()
	manager.Shutdown()
	if simServer != nil {
		simServer.Shutdown()
	}
	btManager.Shutdown()
	logger.Println("Stopped cable-trainer")

	must("run console", runErr)
}

func must(action string, err error) {
	if err != nil {
		panic("failed to " + action + ": " + err.Error())
	}
}
