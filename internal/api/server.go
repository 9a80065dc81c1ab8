package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"racegame/internal/hub"
	"racegame/internal/metrics"
	"racegame/internal/race"
	"racegame/internal/wallet"
)

type contextKey string

const senderContextKey contextKey = "sender"

// Verifier resolves a bearer token to the wallet address that sent it.
type Verifier interface {
	VerifySender(ctx context.Context, token string) (string, error)
}

type Server struct {
	log     *slog.Logger
	engine  *race.Engine
	auth    Verifier
	hub     *hub.Hub
	metrics *metrics.Metrics
	mux     *chi.Mux
}

type Option func(*Server)

func WithHub(h *hub.Hub) Option { return func(s *Server) { s.hub = h } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

func New(logger *slog.Logger, engine *race.Engine, auth Verifier, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:    logger,
		engine: engine,
		auth:   auth,
		mux:    chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/game", s.handleGameState)
		r.Get("/game/duration", s.handleGameDuration)
		r.Get("/cars", s.handleCars)
		r.Get("/cars/gap", s.handleSpeedGap)
		r.Get("/cars/leader", s.handleLeadingCar)
		r.Get("/cars/{id}", s.handleCar)
		r.Get("/pools", s.handlePools)
		r.Get("/pools/distribution", s.handleDistributionConfig)
		r.Get("/price", s.handlePrice)
		r.Get("/price/strategy/{id}", s.handleStrategyPrice)
		r.Get("/strategies", s.handleStrategies)
		r.Get("/config", s.handleConfig)
		r.Get("/owner", s.handleOwner)
		r.Get("/players/{address}", s.handlePlayer)
		r.Get("/players/{address}/items", s.handlePlayerItems)
		r.Get("/players/{address}/items/{id}", s.handlePlayerItem)
		r.Get("/rankings", s.handleRankings)
		r.Get("/rankings/last", s.handleLastDistribution)
		r.Get("/rankings/{rank}", s.handleRank)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/players/me", s.handleMe)
			r.Post("/game/start", s.handleStart)
			r.Post("/game/end", s.handleEnd)
			r.Post("/items/buy", s.handleBuy)
			r.Post("/items/{id}/use", s.handleUse)
			r.Post("/players/me/name", s.handleRegisterName)
			r.Post("/players/me/withdraw", s.handleWithdraw)
			r.Post("/sync/replay", s.handleSyncReplay)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		sender, err := s.auth.VerifySender(r.Context(), token)
		if err != nil {
			if !errors.Is(err, wallet.ErrInvalidToken) {
				s.log.Warn("token verification failed", "err", err)
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", fmt.Sprintf("invalid token: %v", err))
			return
		}
		if sender == race.SystemSender {
			writeError(w, http.StatusForbidden, "unauthorized", "reserved sender")
			return
		}
		ctx := context.WithValue(r.Context(), senderContextKey, sender)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func senderFromContext(ctx context.Context) (string, error) {
	sender, ok := ctx.Value(senderContextKey).(string)
	if !ok || sender == "" {
		return "", errors.New("missing auth context")
	}
	return sender, nil
}

// execute runs op for the authenticated sender and writes either the effects
// or the mapped domain error.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, op race.Operation) {
	sender, err := senderFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	op.Sender = sender
	if op.ID == "" {
		op.ID = idempotencyKey(r)
	}
	fx, err := s.engine.Execute(r.Context(), op)
	if err != nil {
		s.rejected(op.Kind, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": op.ID, "effects": fx})
}

func (s *Server) rejected(kind race.OpKind, err error) {
	if s.metrics != nil {
		s.metrics.Rejected(kind, err)
	}
	if race.ErrorCode(err) == "internal" {
		s.log.Error("operation failed", "op", kind, "err", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, race.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, race.ErrInvalidPhase),
		errors.Is(err, race.ErrPlayerCapReached),
		errors.Is(err, race.ErrDuplicateOperation),
		errors.Is(err, race.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, race.ErrInvalidStrategy),
		errors.Is(err, race.ErrInvalidCar),
		errors.Is(err, race.ErrInvalidName),
		errors.Is(err, race.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, race.ErrInsufficientValue), errors.Is(err, race.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, race.ErrItemNotFound),
		errors.Is(err, race.ErrPlayerNotFound),
		errors.Is(err, race.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, race.ErrNothingToWithdraw):
		return http.StatusUnprocessableEntity
	case errors.Is(err, race.ErrPayoutFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), race.ErrorCode(err), err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message), "code": code})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
