package webserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ichi0g0y/tip-roulette/internal/roulette"
	"github.com/ichi0g0y/tip-roulette/internal/shared/logger"
	"github.com/ichi0g0y/tip-roulette/internal/tips"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 10
	maxConfigBody    = 1 << 20
)

type segmentOdds struct {
	roulette.Segment
	Probability float64 `json:"probability"`
}

type statsResponse struct {
	Summary  roulette.StatsSummary      `json:"summary"`
	Segments []roulette.SegmentStanding `json:"segments"`
}

type userStatsResponse struct {
	Username string `json:"username"`
	roulette.UserStat
}

type tipRequest struct {
	Username string `json:"username"`
	Amount   int    `json:"amount"`
}

// handleRouletteConfig は設定の取得・更新を処理する
func (s *Server) handleRouletteConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.deps.Configs.Load(r.Context())
		if err != nil {
			s.writeConfigError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodPut:
		if !localOrigin(w, r) {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		cfg, err := roulette.ParseConfig(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.deps.Configs.Save(r.Context(), cfg); err != nil {
			logger.Error("Failed to save roulette config", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to save roulette config")
			return
		}
		s.deps.Hub.Emit("roulette_config_updated", cfg)
		logger.Info("Roulette config updated",
			zap.Int("spin_cost", cfg.SpinCost),
			zap.Int("segments", len(cfg.Segments)))
		writeJSON(w, http.StatusOK, cfg)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRouletteSegments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cfg, err := s.deps.Configs.Load(r.Context())
	if err != nil {
		s.writeConfigError(w, err)
		return
	}

	total := 0.0
	for _, seg := range cfg.Segments {
		total += seg.Weight
	}
	out := make([]segmentOdds, 0, len(cfg.Segments))
	for _, seg := range cfg.Segments {
		out = append(out, segmentOdds{Segment: seg, Probability: seg.Weight / total})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRouletteStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary, err := s.deps.Ledger.GetStatsSummary(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	segments, err := s.deps.Ledger.GetSegmentStats(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Summary: summary, Segments: segments})
}

func (s *Server) handleRouletteLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	board, err := s.deps.Ledger.GetLeaderboard(r.Context(), parseLimit(r))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleRouletteWinners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	winners, err := s.deps.Ledger.GetBiggestWinners(r.Context(), parseLimit(r))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, winners)
}

func (s *Server) handleRouletteRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	spins, err := s.deps.Ledger.GetRecentSpins(r.Context(), parseLimit(r))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, spins)
}

// handleRouletteUser は /api/roulette/users/{name} を処理する
func (s *Server) handleRouletteUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/roulette/users/"), "/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	stat, found, err := s.deps.Ledger.GetUserStats(r.Context(), name)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "User has not spun the wheel")
		return
	}
	writeJSON(w, http.StatusOK, userStatsResponse{Username: roulette.NormalizeUsername(name), UserStat: stat})
}

func (s *Server) handleRouletteReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !localOrigin(w, r) {
		return
	}
	if _, err := s.deps.Ledger.ResetTrackingData(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset roulette stats")
		return
	}
	summary, err := s.deps.Ledger.GetStatsSummary(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.deps.Hub.Emit("roulette_stats_reset", summary)
	writeJSON(w, http.StatusOK, summary)
}

// handleRouletteTip はデバッグ用に投げ銭を1件処理し、結果をそのまま返す。
// DEBUG_OUTPUT が無効なら存在しない扱い
func (s *Server) handleRouletteTip(w http.ResponseWriter, r *http.Request) {
	if !s.deps.DebugTips {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !localOrigin(w, r) {
		return
	}
	var req tipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "username and a positive amount are required")
		return
	}

	logger.Info("Debug tip received", zap.String("username", req.Username), zap.Int("amount", req.Amount))
	outcome := s.deps.Processor.ProcessTip(r.Context(), tips.Tip{
		UserID:   "debug-" + roulette.NormalizeUsername(req.Username),
		Username: req.Username,
		Tokens:   req.Amount,
	})
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) writeConfigError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, roulette.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, "Roulette config has not been set")
	case errors.Is(err, roulette.ErrInvalidConfig):
		logger.Error("Stored roulette config is invalid", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Stored roulette config is invalid")
	default:
		logger.Error("Failed to load roulette config", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load roulette config")
	}
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	logger.Error("Failed to read roulette stats", zap.Error(err))
	if errors.Is(err, roulette.ErrCorruptLedger) {
		writeError(w, http.StatusInternalServerError, "Roulette stats are corrupt, reset them to continue")
		return
	}
	writeError(w, http.StatusInternalServerError, "Failed to read roulette stats")
}

// parseLimit は ?limit= を読む。0 は全件
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return defaultListLimit
	}
	return n
}
