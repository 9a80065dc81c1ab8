package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"racegame/internal/race"
)

const maxReplayOps = 100

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, race.Operation{Kind: race.OpStart})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, race.Operation{Kind: race.OpEnd})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Value    int64  `json:"value"`
		Strategy int    `json:"strategy"`
		Referrer string `json:"referrer"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if in.Value < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "value must be >= 0")
		return
	}
	s.execute(w, r, race.Operation{
		Kind:     race.OpBuyItem,
		Value:    in.Value,
		Strategy: in.Strategy,
		Referrer: strings.TrimSpace(in.Referrer),
	})
}

func (s *Server) handleUse(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid item id")
		return
	}
	var in struct {
		CarID int `json:"car_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.execute(w, r, race.Operation{Kind: race.OpUseItem, ItemID: uint32(itemID), CarID: in.CarID})
}

func (s *Server) handleRegisterName(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.execute(w, r, race.Operation{Kind: race.OpRegisterName, Name: in.Name})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, race.Operation{Kind: race.OpWithdraw})
}

type replayResult struct {
	ID      string        `json:"id"`
	Kind    race.OpKind   `json:"kind"`
	Status  string        `json:"status"`
	Code    string        `json:"code,omitempty"`
	Error   string        `json:"error,omitempty"`
	Effects *race.Effects `json:"effects,omitempty"`
}

// handleSyncReplay applies operations queued offline by the CLI, in order.
// Every operation runs for the authenticated sender; a rejection does not
// stop the rest of the batch.
func (s *Server) handleSyncReplay(w http.ResponseWriter, r *http.Request) {
	sender, err := senderFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		Operations []race.Operation `json:"operations"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(in.Operations) > maxReplayOps {
		writeError(w, http.StatusBadRequest, "invalid_request", "too many operations in one batch")
		return
	}

	results := make([]replayResult, 0, len(in.Operations))
	for _, op := range in.Operations {
		op.Sender = sender
		if strings.TrimSpace(op.ID) == "" {
			op.ID = uuid.NewString()
		}
		res := replayResult{ID: op.ID, Kind: op.Kind}
		if !race.PlayerKind(op.Kind) {
			res.Status = "rejected"
			res.Code = race.ErrorCode(race.ErrInvalidOperation)
			res.Error = "operation kind not allowed"
			results = append(results, res)
			continue
		}
		fx, err := s.engine.Execute(r.Context(), op)
		switch {
		case err == nil:
			res.Status = "applied"
			res.Effects = &fx
		case errors.Is(err, race.ErrDuplicateOperation):
			res.Status = "duplicate"
		default:
			s.rejected(op.Kind, err)
			res.Status = "rejected"
			res.Code = race.ErrorCode(err)
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sender, err := senderFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	s.writePlayer(w, sender)
}

func (s *Server) handleGameState(w http.ResponseWriter, _ *http.Request) {
	g := s.engine.GameState()
	writeJSON(w, http.StatusOK, map[string]any{
		"game":  g,
		"phase": g.Phase.String(),
	})
}

func (s *Server) handleGameDuration(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"duration": s.engine.GameDuration()})
}

func (s *Server) handleCars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cars":   s.engine.Cars(),
		"gap":    s.engine.SpeedGap(),
		"leader": s.engine.LeadingCar(),
	})
}

func (s *Server) handleCar(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, race.ErrInvalidCar)
		return
	}
	car, err := s.engine.Car(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

func (s *Server) handleSpeedGap(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"gap": s.engine.SpeedGap()})
}

func (s *Server) handleLeadingCar(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"leader": s.engine.LeadingCar()})
}

// handlePools also reports referral credits, which are owed on top of the
// pool balances.
func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request) {
	pools := s.engine.Pools()
	writeJSON(w, http.StatusOK, map[string]any{
		"prize_pool":         pools.PrizePool,
		"community_pool":     pools.CommunityPool,
		"reserve_pool":       pools.ReservePool,
		"total_invested":     s.engine.TotalInvested(),
		"unfunded_referrals": s.engine.UnfundedReferrals(),
	})
}

func (s *Server) handleDistributionConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.DistributionConfig())
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var count *int64
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "count must be a non-negative integer")
			return
		}
		count = &n
	}
	writeJSON(w, http.StatusOK, map[string]any{"price": s.engine.CalculateItemPrice(count)})
}

func (s *Server) handleStrategyPrice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, race.ErrInvalidStrategy)
		return
	}
	q, err := s.engine.CalculateStrategyPrice(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": race.Strategies()})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.engine.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":            cfg.Owner,
		"base_item_price":  s.engine.BaseItemPrice(),
		"max_item_price":   s.engine.MaxItemPrice(),
		"max_items":        cfg.MaxItems,
		"max_players":      s.engine.MaxPlayers(),
		"game_duration":    cfg.GameDuration,
		"distribution":     cfg.Distribution,
		"referral_percent": cfg.ReferralPercent,
		"min_gas_reserve":  cfg.MinGasReserve,
		"prize_split":      cfg.PrizeSplit,
	})
}

func (s *Server) handleOwner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"owner": s.engine.Owner()})
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	s.writePlayer(w, chi.URLParam(r, "address"))
}

// writePlayer reports a null player for unknown addresses rather than 404,
// matching the accessor's optional result.
func (s *Server) writePlayer(w http.ResponseWriter, address string) {
	out := map[string]any{
		"address":           address,
		"player":            nil,
		"item_count":        s.engine.PlayerItemCount(address),
		"pending_transfers": s.engine.PendingTransfers(address),
	}
	if p, ok := s.engine.PlayerData(address); ok {
		out["player"] = p
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlayerItems(w http.ResponseWriter, r *http.Request) {
	items := s.engine.PlayerItems(chi.URLParam(r, "address"))
	if items == nil {
		items = []race.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handlePlayerItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeDomainError(w, race.ErrItemNotFound)
		return
	}
	item, ok := s.engine.PlayerItem(chi.URLParam(r, "address"), uint32(id))
	if !ok {
		writeDomainError(w, race.ErrItemNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRankings(w http.ResponseWriter, _ *http.Request) {
	rankings := s.engine.Rankings()
	if rankings == nil {
		rankings = []race.RankEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": rankings})
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "rank"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "rank must be an integer")
		return
	}
	entry, ok := s.engine.Rank(n)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no player at that rank")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleLastDistribution(w http.ResponseWriter, _ *http.Request) {
	d, ok := s.engine.LastDistribution()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no round has ended yet")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
