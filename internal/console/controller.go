package console

import (
	"context"
	"log"
	"math"
	"sync"

	"github.com/lowaak/cable-trainer/internal/go_func_utils"
	"github.com/lowaak/cable-trainer/internal/protocol"
	"github.com/lowaak/cable-trainer/internal/trainer"
)

// Eccentric ratio steps offered by the console.
const (
	EccentricStep = 0.05
	MinEccentric  = 0.5
)

// Controller turns console input into Trainer commands and Model updates.
type Controller struct {
	model   *Model
	manager Trainer
	logger  *log.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewController creates a Controller. When the preferred peer from the last
// run shows up in discovery while nothing is followed, it is connected once.
func NewController(model *Model, manager Trainer, logger *log.Logger) *Controller {
	if model == nil {
		panic("Controller: model cannot be nil")
	}
	if manager == nil {
		panic("Controller: manager cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		model:   model,
		manager: manager,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	if preferred := manager.PreferredPeer(); preferred != "" {
		c.wg.Add(1)
		go_func_utils.SafeGo(logger, "Controller.autoConnect", func() {
			defer c.wg.Done()
			c.autoConnect(preferred)
		})
	}
	return c
}

func (c *Controller) autoConnect(address string) {
	ch := make(chan []PeerModel, 1)
	unlisten := c.model.ListenToPeers(ch)
	defer unlisten()

	for {
		select {
		case <-c.ctx.Done():
			return
		case peers := <-ch:
			if c.model.ActivePeer() != "" {
				return
			}
			for _, p := range peers {
				if p.Address == address {
					c.logger.Printf("Controller: Auto-connecting preferred peer %s", address)
					c.ConnectPeer(address)
					return
				}
			}
		}
	}
}

// SelectPeer connects the peer at index in Model.Peers.
func (c *Controller) SelectPeer(index int) {
	peers := c.model.Peers()
	if index < 0 || index >= len(peers) {
		c.logger.Printf("Controller: Invalid peer index %d (have %d)", index, len(peers))
		return
	}
	c.ConnectPeer(peers[index].Address)
}

// ConnectPeer connects address and follows it. It reports success.
func (c *Controller) ConnectPeer(address string) bool {
	if err := c.manager.Connect(address); err != nil {
		c.logger.Printf("Controller: Could not connect to %s: %v", address, err)
		return false
	}
	if err := c.model.Follow(address); err != nil {
		c.logger.Printf("Controller: Could not follow %s: %v", address, err)
		return false
	}
	return true
}

// DisconnectActivePeer stops any workout and disconnects the followed peer.
func (c *Controller) DisconnectActivePeer() {
	address := c.model.ActivePeer()
	if address == "" {
		c.logger.Println("Controller: No peer connected")
		return
	}
	c.model.Unfollow()
	if err := c.manager.Disconnect(address); err != nil {
		c.logger.Printf("Controller: Disconnect from %s failed: %v", address, err)
	}
}

func (c *Controller) ToggleDiscovery() {
	if c.manager.IsDiscovering() {
		if err := c.manager.StopDiscovery(); err != nil {
			c.logger.Printf("Controller: Error stopping discovery: %v", err)
		}
		return
	}
	c.manager.StartDiscovery()
}

func (c *Controller) StartWorkout() {
	address := c.model.ActivePeer()
	if address == "" {
		c.logger.Println("Controller: Connect a machine first (Enter on a peer)")
		return
	}
	if err := c.manager.Start(address, c.model.Config()); err != nil {
		c.logger.Printf("Controller: Start failed: %v", err)
	}
	c.model.SetConfig(c.manager.WorkoutConfig())
}

func (c *Controller) StopWorkout() {
	address := c.model.ActivePeer()
	if address == "" {
		return
	}
	c.manager.Stop(address)
}

// ToggleWorkout stops an active workout, otherwise starts one.
func (c *Controller) ToggleWorkout() {
	if _, active := c.model.Workout().(trainer.ActiveWorkout); active {
		c.StopWorkout()
		return
	}
	c.StartWorkout()
}

// CycleDifficulty moves the selected difficulty by step, wrapping around.
func (c *Controller) CycleDifficulty(step int) {
	cfg := c.model.Config()
	all := protocol.AllDifficulties
	current := 0
	for i, d := range all {
		if d == cfg.Difficulty {
			current = i
		}
	}
	next := ((current+step)%len(all) + len(all)) % len(all)
	cfg.Difficulty = all[next]
	c.model.SetConfig(cfg)
}

// AdjustReps changes the rep target by delta. Zero means unlimited.
func (c *Controller) AdjustReps(delta int) {
	cfg := c.model.Config()
	cfg.TargetReps = min(max(cfg.TargetReps+delta, 0), trainer.MaxTargetReps)
	c.model.SetConfig(cfg)
}

// AdjustEccentric moves the eccentric ratio by steps of EccentricStep.
func (c *Controller) AdjustEccentric(steps int) {
	cfg := c.model.Config()
	ratio := cfg.EccentricRatio + float64(steps)*EccentricStep
	ratio = math.Round(ratio/EccentricStep) * EccentricStep
	ratio = math.Round(ratio*100) / 100
	cfg.EccentricRatio = min(max(ratio, MinEccentric), protocol.MaxEccentricRatio)
	c.model.SetConfig(cfg)
}

func (c *Controller) ToggleStopOnTopRep() {
	cfg := c.model.Config()
	cfg.StopOnTopRep = !cfg.StopOnTopRep
	c.model.SetConfig(cfg)
}

func (c *Controller) OnEscapeKey() {
	c.model.RequestCloseApplication()
}

// Shutdown stops the auto-connect watcher.
func (c *Controller) Shutdown() {
	c.cancel()
	c.wg.Wait()
}
