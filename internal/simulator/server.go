package simulator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/lowaak/cable-trainer/internal/go_func_utils"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool
	},
}

// Server exposes the simulated machines over HTTP. Every route is scoped to a
// machine address:
//
//	GET  /api/machines
//	GET  /api/machines/{address}
//	POST /api/machines/{address}/cable
//	POST /api/machines/{address}/half-rep
//	GET  /api/machines/{address}/writes
//	POST /api/machines/{address}/auto-reps
//	GET  /api/machines/{address}/ws
type Server struct {
	manager *Manager
	logger  *log.Logger
	router  chi.Router

	// ctx bounds auto rep scripts started over the API
	ctx    context.Context
	cancel context.CancelFunc

	httpServer *http.Server
	wg         sync.WaitGroup
}

// cableUpdate is the body of a cable request. Absent fields keep their value.
type cableUpdate struct {
	ForceLeftKg      *float64 `json:"forceLeftKg"`
	ForceRightKg     *float64 `json:"forceRightKg"`
	PositionLeftRaw  *uint16  `json:"positionLeftRaw"`
	PositionRightRaw *uint16  `json:"positionRightRaw"`
}

type autoRepsRequest struct {
	Enabled        bool    `json:"enabled"`
	PeriodMs       int     `json:"periodMs"`
	TopPositionRaw uint16  `json:"topPositionRaw"`
	LoadKg         float64 `json:"loadKg"`
}

func NewServer(manager *Manager, logger *log.Logger) *Server {
	if manager == nil {
		panic("simulator.Server: manager cannot be nil")
	}
	if logger == nil {
		panic("simulator.Server: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		manager: manager,
		logger:  logger,
		router:  chi.NewRouter(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(requestLogging(s.logger))

	s.router.Get("/api/machines", s.handleListMachines)
	s.router.Route("/api/machines/{address}", func(r chi.Router) {
		r.Get("/", s.handleGetMachine)
		r.Post("/cable", s.handleSetCable)
		r.Post("/half-rep", s.handleHalfRep)
		r.Get("/writes", s.handleGetWrites)
		r.Post("/auto-reps", s.handleAutoReps)
		r.Get("/ws", s.handleWebSocket)
	})
}

// Start serves on addr in the background until Shutdown.
func (s *Server) Start(addr string) {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, "simulator.Server", func() {
		defer s.wg.Done()
		s.logger.Printf("simulator.Server: Listening on http://%s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("simulator.Server: Web server error: %v", err)
		}
	})
}

func (s *Server) Shutdown() {
	s.cancel()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("simulator.Server: Error shutting down web server: %v", err)
		}
	}
	s.wg.Wait()
}

func (s *Server) machine(w http.ResponseWriter, r *http.Request) (*Machine, bool) {
	address := chi.URLParam(r, "address")
	machine, ok := s.manager.Machine(address)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown machine: " + address})
		return nil, false
	}
	return machine, true
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines := s.manager.Machines()
	snapshots := make([]MachineSnapshot, len(machines))
	for i, machine := range machines {
		snapshots[i] = machine.Snapshot()
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, machine.Snapshot())
}

func (s *Server) handleSetCable(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.machine(w, r)
	if !ok {
		return
	}
	var update cableUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	cable := machine.Cable()
	if update.ForceLeftKg != nil {
		cable.ForceLeftKg = *update.ForceLeftKg
	}
	if update.ForceRightKg != nil {
		cable.ForceRightKg = *update.ForceRightKg
	}
	if update.PositionLeftRaw != nil {
		cable.PositionLeftRaw = *update.PositionLeftRaw
	}
	if update.PositionRightRaw != nil {
		cable.PositionRightRaw = *update.PositionRightRaw
	}
	machine.SetCable(cable)
	writeJSON(w, http.StatusOK, cable)
}

func (s *Server) handleHalfRep(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.machine(w, r)
	if !ok {
		return
	}
	delivered := machine.TriggerHalfRep()
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

func (s *Server) handleGetWrites(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, machine.Writes())
}

func (s *Server) handleAutoReps(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.machine(w, r)
	if !ok {
		return
	}
	var req autoRepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.PeriodMs < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "periodMs must not be negative"})
		return
	}
	if req.Enabled {
		machine.StartAutoReps(s.ctx, AutoRepConfig{
			Period:         time.Duration(req.PeriodMs) * time.Millisecond,
			TopPositionRaw: req.TopPositionRaw,
			LoadKg:         req.LoadKg,
		})
	} else {
		machine.StopAutoReps()
	}
	writeJSON(w, http.StatusOK, machine.Snapshot())
}

// handleWebSocket streams machine snapshots as JSON text messages until the
// client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.machine(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("simulator.Server: Failed to upgrade to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	// The read loop only notices the close frame
	closed := make(chan struct{})
	go_func_utils.SafeGo(s.logger, "simulator.Server.wsRead", func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	snapshots := make(chan MachineSnapshot, 1)
	unregister := machine.ListenToSnapshots(snapshots)
	defer unregister()

	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			return
		case snapshot := <-snapshots:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snapshot); err != nil {
				s.logger.Printf("simulator.Server: WebSocket write failed: %v", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestLogging logs each request with its status and duration.
func requestLogging(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Printf("simulator.Server: %s %s %d %v", r.Method, r.URL.Path, sw.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
