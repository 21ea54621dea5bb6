package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra/storage"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

const (
	defaultResultsLimit = 50
	maxResultsLimit     = 1000
)

// ResultHistory reads persisted runs and tick results.
type ResultHistory interface {
	GetRun(id string) (*storage.SimulationRun, error)
	Recent(simulationID string, limit int) ([]storage.ResultRecord, error)
	CountResults(simulationID string) (int64, error)
}

// LatestStore reads the newest published result for a simulation.
type LatestStore interface {
	Latest(ctx context.Context, simulationID string) (*domain.TickResult, error)
}

// Manager holds the configured simulations and serves their latest results.
type Manager struct {
	mu   sync.RWMutex
	sims map[string]*Simulation

	history ResultHistory
	latest  LatestStore
}

func NewManager() *Manager {
	return &Manager{sims: make(map[string]*Simulation)}
}

// SetHistory enables GET /simulations/{id}/results.
func (m *Manager) SetHistory(h ResultHistory) {
	m.mu.Lock()
	m.history = h
	m.mu.Unlock()
}

// SetLatestStore lets the read API fall back to the published result when a
// simulation has not produced one in this process yet.
func (m *Manager) SetLatestStore(l LatestStore) {
	m.mu.Lock()
	m.latest = l
	m.mu.Unlock()
}

func (m *Manager) stores() (ResultHistory, LatestStore) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history, m.latest
}

// Add registers a simulation; ids must be unique.
func (m *Manager) Add(sim *Simulation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sims[sim.ID()]; exists {
		return fmt.Errorf("duplicate simulation id %q", sim.ID())
	}
	m.sims[sim.ID()] = sim
	return nil
}

// Get returns a simulation by id.
func (m *Manager) Get(id string) (*Simulation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sim, ok := m.sims[id]
	return sim, ok
}

// List returns all simulations sorted by id.
func (m *Manager) List() []*Simulation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Simulation, 0, len(m.sims))
	for _, sim := range m.sims {
		result = append(result, sim)
	}

	// Sort by id for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID() < result[j].ID()
	})
	return result
}

// Run runs every simulation until ctx ends. Simulations are independent: a
// terminal feed failure stops only its own simulation. The joined errors of
// failed simulations are returned.
func (m *Manager) Run(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, sim := range m.List() {
		g.Go(func() error {
			if err := sim.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// SimulationView is the JSON shape served for one simulation.
type SimulationView struct {
	ID         string                      `json:"id"`
	Running    bool                        `json:"running"`
	Connection string                      `json:"connection,omitempty"`
	Parameters domain.SimulationParameters `json:"parameters"`
	Emitted    uint64                      `json:"emitted"`
	Latest     *domain.TickResult          `json:"latest,omitempty"`
}

// ResultsView is the JSON shape of GET /simulations/{id}/results.
type ResultsView struct {
	Run     *storage.SimulationRun `json:"run,omitempty"`
	Total   int64                  `json:"total"`
	Results []storage.ResultRecord `json:"results"`
}

func (m *Manager) viewOf(ctx context.Context, sim *Simulation) SimulationView {
	v := SimulationView{
		ID:         sim.ID(),
		Running:    sim.Running(),
		Parameters: sim.Parameters(),
		Emitted:    sim.Emitted(),
	}
	if st, ok := sim.ConnectionStatus(); ok {
		v.Connection = st.String()
	}
	if res, ok := sim.Latest(); ok {
		v.Latest = &res
		return v
	}
	if _, latest := m.stores(); latest != nil {
		res, err := latest.Latest(ctx, sim.ID())
		if err != nil {
			slog.Warn("Failed to read published result", slog.String("id", sim.ID()), slog.Any("error", err))
		}
		v.Latest = res
	}
	return v
}

// Handler serves the read API:
//
//	GET /simulations
//	GET /simulations/{id}
//	GET /simulations/{id}/results?limit=N
func (m *Manager) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/simulations", m.handleList).Methods(http.MethodGet)
	router.HandleFunc("/simulations/{id}", m.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/simulations/{id}/results", m.handleResults).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	return router
}

func (m *Manager) handleList(w http.ResponseWriter, r *http.Request) {
	sims := m.List()
	views := make([]SimulationView, 0, len(sims))
	for _, sim := range sims {
		views = append(views, m.viewOf(r.Context(), sim))
	}
	writeJSON(w, http.StatusOK, views)
}

func (m *Manager) handleGet(w http.ResponseWriter, r *http.Request) {
	sim, ok := m.Get(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "simulation not found"})
		return
	}
	writeJSON(w, http.StatusOK, m.viewOf(r.Context(), sim))
}

func (m *Manager) handleResults(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := m.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "simulation not found"})
		return
	}
	history, _ := m.stores()
	if history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "result storage disabled"})
		return
	}

	limit := defaultResultsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxResultsLimit)
	}

	run, err := history.GetRun(id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}
	total, err := history.CountResults(id)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}
	recs, err := history.Recent(id, limit)
	if err != nil {
		writeStoreError(w, id, err)
		return
	}
	if recs == nil {
		recs = []storage.ResultRecord{}
	}
	writeJSON(w, http.StatusOK, ResultsView{Run: run, Total: total, Results: recs})
}

func writeStoreError(w http.ResponseWriter, id string, err error) {
	slog.Error("Failed to read result history", slog.String("id", id), slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "result storage unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", slog.Any("error", err))
	}
}
