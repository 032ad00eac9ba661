package gateway

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/park285/code-duel/internal/bus"
	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/judge"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/internal/problem"
	"github.com/park285/code-duel/pkg/duelapi"
	"go.uber.org/zap"
)

func (h *Handlers) CreateMatchHandler(w http.ResponseWriter, r *http.Request) {
	var req duelapi.CreateMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	if req.PlayerID == "" {
		h.badRequest(w, r, "playerId is required")
		return
	}

	minutes := h.opts.DefaultDuration
	if slices.Contains(h.opts.AllowedDurations, req.Time) {
		minutes = req.Time
	}
	p, err := h.problems.Random(r.Context(), minutes)
	if errors.Is(err, problem.ErrNoProblem) {
		h.errorMessage(w, r, http.StatusInternalServerError,
			h.catalog.RenderOr("gateway.no_problem", map[string]any{"Minutes": minutes}, "No questions found for "+strconv.Itoa(minutes)+" mins."))
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	id := strings.TrimSpace(req.MatchID)
	if id == "" {
		id = "match_" + strconv.FormatInt(h.now().UnixMilli(), 10) + "_" + uuid.NewString()[:8]
	}
	m := &duel.Match{
		ID:        id,
		Players:   []string{req.PlayerID},
		ProblemID: p.ID,
		Duration:  int64(minutes) * 60 * 1000,
	}
	if err := h.store.Create(r.Context(), m); err != nil {
		h.storeError(w, r, err)
		return
	}
	obslog.L().Info("gateway_create", zap.String("match_id", id), zap.String("problem", p.Title), zap.Int("minutes", minutes))

	h.writeJSON(w, r, http.StatusOK, duelapi.CreateMatchResponse{
		MatchID:         id,
		Msg:             h.catalog.RenderOr("gateway.created", nil, "Match Created"),
		DurationMinutes: minutes,
		ProblemTitle:    p.Title,
	})
}

func (h *Handlers) JoinMatchHandler(w http.ResponseWriter, r *http.Request) {
	var req duelapi.JoinMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	if strings.TrimSpace(req.PlayerID) == "" || strings.TrimSpace(req.MatchID) == "" {
		h.badRequest(w, r, "playerId and matchId are required")
		return
	}
	ctx := r.Context()

	res, err := h.store.Join(ctx, req.MatchID, req.PlayerID)
	if errors.Is(err, duel.ErrNotJoinable) || errors.Is(err, duel.ErrFull) {
		status := "FULL"
		if m, gerr := h.store.Get(ctx, req.MatchID); gerr == nil && m.Status != duel.StatusWaiting {
			status = string(m.Status)
		}
		h.badRequest(w, r, h.catalog.RenderOr("gateway.not_joinable", map[string]any{"Status": status}, "Cannot join. Match is "+status))
		return
	}
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	m := res.Match

	// Re-joins are announced too; the coordinator treats them as no-ops.
	if err := bus.Emit(ctx, h.events, bus.TopicPlayerJoined, m.ID, duelapi.PlayerJoinedEvent{MatchID: m.ID, PlayerID: req.PlayerID}); err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := h.notify.Publish(ctx, m.ID, duelapi.NewPlayerJoined(req.PlayerID, m.Players)); err != nil {
		obslog.L().Warn("gateway_join_notify_error", zap.String("match_id", m.ID), zap.Error(err))
	}

	p := h.problemFor(r, m)
	resp := duelapi.JoinMatchResponse{
		Msg:        h.catalog.RenderOr("gateway.joined", nil, "Joined"),
		State:      m.StatusDTO(p.DTO()),
		DurationMs: m.Duration,
	}
	if p != nil {
		resp.Problem = duelapi.ProblemSummary{Title: p.Title, Description: p.Description}
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// codeHandler serves /match/run and /match/submit. An explicit type in the
// body wins over the path.
func (h *Handlers) codeHandler(action duelapi.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req duelapi.CodeRequest
		if err := decodeJSON(r, &req); err != nil {
			h.badRequest(w, r, err.Error())
			return
		}
		act := action
		if req.Type.Valid() {
			act = req.Type
		}
		if strings.TrimSpace(req.Code) == "" {
			h.badRequest(w, r, h.catalog.RenderOr("gateway.no_code", nil, "No code provided."))
			return
		}
		lang, ok := judge.LookupLanguage(req.Language)
		if !ok {
			h.badRequest(w, r, h.catalog.RenderOr("gateway.unsupported_language", map[string]any{"Language": req.Language}, "Unsupported language: "+req.Language))
			return
		}
		ctx := r.Context()

		m, err := h.store.Get(ctx, req.MatchID)
		if err != nil {
			h.storeError(w, r, err)
			return
		}
		if !m.HasPlayer(req.PlayerID) {
			h.badRequest(w, r, h.catalog.RenderOr("gateway.not_member", map[string]any{"PlayerID": req.PlayerID}, "Player is not in this match"))
			return
		}
		if act == duelapi.ActionSubmitSolution && m.Status != duel.StatusRacing {
			h.badRequest(w, r, h.catalog.RenderOr("judge.not_racing", map[string]any{"Status": m.Status}, "Cannot submit. Match is "+string(m.Status)))
			return
		}

		job := duelapi.SubmissionJob{
			MatchID:  m.ID,
			PlayerID: req.PlayerID,
			Code:     req.Code,
			Language: lang.Name,
			Action:   act,
		}
		if err := bus.Emit(ctx, h.events, bus.TopicRunCode, m.ID, job); err != nil {
			h.serverError(w, r, err)
			return
		}
		obslog.L().Info("gateway_queued", zap.String("match_id", m.ID), zap.String("player_id", req.PlayerID), zap.String("action", string(act)))
		h.writeJSON(w, r, http.StatusOK, duelapi.MessageResponse{Msg: h.catalog.RenderOr("gateway.queued", nil, "Code queued")})
	}
}

func (h *Handlers) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req duelapi.AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		h.badRequest(w, r, h.catalog.RenderOr("gateway.no_code", nil, "No code provided."))
		return
	}
	if req.Language == "" {
		req.Language = judge.DefaultLanguage
	}
	if req.ProblemTitle == "" {
		req.ProblemTitle = "Unknown Problem"
	}
	job := duelapi.AnalyzeJob{
		MatchID:      req.MatchID,
		PlayerID:     req.PlayerID,
		Code:         req.Code,
		Language:     req.Language,
		ProblemTitle: req.ProblemTitle,
	}
	if err := bus.Emit(r.Context(), h.events, bus.TopicAnalyzeCode, req.MatchID, job); err != nil {
		h.serverError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, duelapi.MessageResponse{
		Msg: h.catalog.RenderOr("gateway.analysis_started", nil, "Analysis started. Watch the stream for results."),
	})
}

func (h *Handlers) MatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.Get(r.Context(), chi.URLParam(r, "matchId"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, m.StatusDTO(h.problemFor(r, m).DTO()))
}

// problemFor resolves the match problem; a missing problem is not fatal.
func (h *Handlers) problemFor(r *http.Request, m *duel.Match) *problem.Problem {
	p, err := h.problems.Get(r.Context(), m.ProblemID)
	if err != nil {
		obslog.L().Warn("gateway_problem_lookup", zap.String("match_id", m.ID), zap.String("problem_id", m.ProblemID), zap.Error(err))
		return nil
	}
	return p
}
