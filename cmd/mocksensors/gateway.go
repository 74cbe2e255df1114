package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// scenario selects which hazards the generated readings trip.
type scenario struct {
	wildfire   bool    // first node reports hot, dry, smoky air
	quakeAccel float64 // last node reports this shaking magnitude in m/s^2; 0 disables
}

// gateway stands in for the sensor gateway: it keeps the latest payload per
// node and serves them as one JSON object.
type gateway struct {
	mu       sync.RWMutex
	readings map[string]map[string]any
	nodes    []string
	scenario scenario
	rng      *rand.Rand
	now      func() time.Time
}

func newGateway(nodes int, sc scenario, seed uint64) *gateway {
	ids := make([]string, nodes)
	for i := range ids {
		ids[i] = fmt.Sprintf("node-%02d", i+1)
	}
	return &gateway{
		readings: make(map[string]map[string]any, nodes),
		nodes:    ids,
		scenario: sc,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:      time.Now,
	}
}

func (g *gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/sensors", g.handleSensors)
	r.Get("/api/status", g.handleStatus)
	r.Post("/ingest", g.handleIngest)
	return r
}

// generate replaces every simulated node's payload with fresh values.
func (g *gateway) generate() {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := epoch(g.now())
	for i, id := range g.nodes {
		p := map[string]any{
			"temperature_c": g.uniform(18, 28),
			"humidity":      g.uniform(30, 70),
			"pressure_hpa":  g.uniform(990, 1025),
			"pm1":           g.uniform(2, 20),
			"pm25":          g.uniform(5, 50),
			"pm10":          g.uniform(10, 60),
			"accel_x_ms2":   g.uniform(-0.02, 0.02),
			"accel_y_ms2":   g.uniform(-0.02, 0.02),
			"accel_z_ms2":   g.uniform(-0.02, 0.02),
			"timestamp":     ts,
		}
		if g.scenario.wildfire && i == 0 {
			p["temperature_c"] = g.uniform(34, 42)
			p["humidity"] = g.uniform(8, 20)
			p["pm25"] = g.uniform(160, 250)
			p["pm10"] = g.uniform(160, 300)
		}
		if g.scenario.quakeAccel > 0 && i == len(g.nodes)-1 {
			// Spread the magnitude evenly over the three axes.
			axis := g.scenario.quakeAccel / math.Sqrt(3)
			p["accel_x_ms2"] = axis
			p["accel_y_ms2"] = -axis
			p["accel_z_ms2"] = axis
		}
		g.readings[id] = p
	}
}

func (g *gateway) uniform(lo, hi float64) float64 {
	return math.Round((lo+g.rng.Float64()*(hi-lo))*100) / 100
}

func (g *gateway) handleSensors(w http.ResponseWriter, _ *http.Request) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sharedobs.WriteJSON(w, http.StatusOK, g.readings)
}

func (g *gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	g.mu.RLock()
	n := len(g.readings)
	g.mu.RUnlock()

	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "running",
		"message":    "Sensor API is active (mock mode)",
		"node_count": n,
	})
}

// handleIngest accepts a payload pushed by a real node. The body must carry
// a string node_id; the gateway stamps the receive time.
func (g *gateway) handleIngest(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&payload); err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	id, ok := payload["node_id"].(string)
	if !ok || id == "" {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "node_id is required"})
		return
	}
	delete(payload, "node_id")
	payload["timestamp"] = epoch(g.now())

	g.mu.Lock()
	g.readings[id] = payload
	g.mu.Unlock()

	sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "stored", "node_id": id})
}

// nodeIDs returns the IDs currently held, sorted.
func (g *gateway) nodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.readings))
	for id := range g.readings {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
