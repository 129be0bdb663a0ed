package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/aristath/esgfolio/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	db          *database.DB
	workers     int
	startupTime time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, db *database.DB, workers int) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		db:          db,
		workers:     workers,
		startupTime: time.Now(),
	}
}

// SystemStatusResponse represents the system status response
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	Workers       int     `json:"workers"`
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	LastChecked   string  `json:"last_checked"`
}

// DatabaseStatsResponse represents the run store statistics
type DatabaseStatsResponse struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	SizeMB      float64 `json:"size_mb"`
	RunCount    int     `json:"run_count"`
	LastChecked string  `json:"last_checked"`
}

// HandleSystemStatus returns process and host status
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		Workers:       h.workers,
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
		LastChecked:   time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}

// HandleDatabaseStats returns run store statistics
// GET /api/system/database
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		return
	}

	response := DatabaseStatsResponse{
		Name:        h.db.Name(),
		Path:        h.db.Path(),
		LastChecked: time.Now().Format(time.RFC3339),
	}

	// In-memory databases have no file to stat.
	if !strings.HasPrefix(h.db.Path(), "file:") {
		if info, err := os.Stat(h.db.Path()); err == nil {
			response.SizeMB = float64(info.Size()) / 1024 / 1024
		}
	}

	if err := h.db.Conn().QueryRowContext(r.Context(), "SELECT COUNT(*) FROM runs").Scan(&response.RunCount); err != nil {
		h.log.Error().Err(err).Msg("Failed to count runs")
		http.Error(w, "Failed to read database stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode database stats")
	}
}

// getSystemStats returns CPU and RAM usage percentages. CPU is sampled over
// 100ms to keep the call short.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
