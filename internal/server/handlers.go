package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{"status": "ok"}
	if s.cfg.Orchestrator != nil {
		payload["agents"] = s.cfg.Orchestrator.Health()
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleAllocatorSnapshot serves the dashboard contract's allocator
// snapshot: {total_capital, strategies: {name: perf + allocation_pct},
// trades_since_rebalance}.
func (s *Server) handleAllocatorSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Allocator == nil {
		writeError(w, http.StatusServiceUnavailable, "allocator not wired")
		return
	}
	snap := s.cfg.Allocator.GetStateSnapshot()

	strategies := make(map[string]interface{}, len(snap.Strategies))
	for name, st := range snap.Strategies {
		strategies[name] = map[string]interface{}{
			"total_pnl":      st.Performance.TotalPnL.String(),
			"trades":         st.Performance.Trades,
			"wins":           st.Performance.Wins,
			"losses":         st.Performance.Losses,
			"largest_win":    st.Performance.LargestWin.String(),
			"largest_loss":   st.Performance.LargestLoss.String(),
			"allocation_pct": st.AllocationPct.String(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_capital":          snap.TotalCapital.String(),
		"strategies":             strategies,
		"trades_since_rebalance": snap.TradesSinceRebalance,
		"score_mean":             snap.ScoreMean,
		"score_variance":         snap.ScoreVariance,
	})
}

// handleRiskSnapshot serves the dashboard contract's risk snapshot:
// {current_value, high_water_mark, daily_pnl, initial_bankroll, positions,
// platform_exposure, halted}.
func (s *Server) handleRiskSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Risk == nil {
		writeError(w, http.StatusServiceUnavailable, "risk gate not wired")
		return
	}
	snap := s.cfg.Risk.GetStateSnapshot()

	positions := make(map[string]string, len(snap.Positions))
	for k, v := range snap.Positions {
		positions[k] = v.String()
	}
	platformExposure := make(map[string]string, len(snap.PlatformExposure))
	for k, v := range snap.PlatformExposure {
		platformExposure[k] = v.String()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current_value":     snap.CurrentValue.String(),
		"high_water_mark":   snap.HighWaterMark.String(),
		"daily_pnl":         snap.DailyPnL.String(),
		"initial_bankroll":  snap.InitialBankroll.String(),
		"positions":         positions,
		"platform_exposure": platformExposure,
		"halted":            snap.Halted,
	})
}

// handleExecutorSnapshot serves the dashboard contract's executor snapshot:
// {trade_count, recent_trades: last 50, newest first}.
func (s *Server) handleExecutorSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not wired")
		return
	}
	count, err := s.cfg.Repo.CountTrades()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	recent, err := s.cfg.Repo.GetRecentTrades(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trade_count":   count,
		"recent_trades": recent,
	})
}

// handleSystemSnapshot is a convenience aggregate of the allocator and risk
// snapshots plus the orchestrator's agent health, useful for a dashboard's
// single-poll refresh. The executor snapshot is not included.
func (s *Server) handleSystemSnapshot(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	if s.cfg.Allocator != nil {
		out["allocator"] = s.cfg.Allocator.GetStateSnapshot()
	}
	if s.cfg.Risk != nil {
		out["risk"] = s.cfg.Risk.GetStateSnapshot()
	}
	if s.cfg.Orchestrator != nil {
		out["agents"] = s.cfg.Orchestrator.Health()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReport serves the CLI's `report --days N` data path over HTTP,
// mirroring the repository's GetDailySummary aggregation.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not wired")
		return
	}
	days := 1
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	summary, err := s.cfg.Repo.GetDailySummary(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
