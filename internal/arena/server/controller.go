package server

import (
	"context"
	"sort"
	"strconv"
	"time"

	"botarena/internal/arena/events"
	"botarena/internal/arena/liveboard"
	"botarena/internal/arena/model"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

type controller struct {
	deps Deps
}

// MatchResponse is a match with its move list.
type MatchResponse struct {
	*model.Match
	Moves []model.MoveRecord `json:"moves"`
}

// BotResponse is a bot with its current rating.
type BotResponse struct {
	*model.Bot
	Rating float64 `json:"rating"`
}

// FightRequestBody names both bots, or neither to let the matchmaker choose.
type FightRequestBody struct {
	WhiteID int64 `json:"white_id"`
	BlackID int64 `json:"black_id"`
}

type FightAccepted struct {
	RequestID string `json:"request_id"`
}

type LiveList struct {
	Matches []liveboard.Snapshot `json:"matches"`
}

func (h *controller) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.deps.Checks))
	for name := range h.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	status := make(map[string]string, len(names))
	var failed error
	for _, name := range names {
		if err := h.deps.Checks[name].Ping(ctx); err != nil {
			status[name] = err.Error()
			if failed == nil {
				failed = appErr.Wrapf(err, appErr.ServiceUnavailable, "%s unavailable", name)
			}
			continue
		}
		status[name] = "ok"
	}
	if failed != nil {
		response.Error(c, appErr.GetError(failed).WithDetail("checks", status))
		return
	}
	response.Success(c, status)
}

func (h *controller) GetMatch(c *gin.Context) {
	matchID, ok := parseID(c, "Invalid match id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	m, err := h.deps.Store.GetMatch(ctx, matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	moves, err := h.deps.Store.ListMoves(ctx, matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if moves == nil {
		moves = []model.MoveRecord{}
	}
	response.Success(c, MatchResponse{Match: m, Moves: moves})
}

func (h *controller) GetLive(c *gin.Context) {
	matchID, ok := parseID(c, "Invalid match id")
	if !ok {
		return
	}
	if h.deps.Board == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "live board is not configured")
		return
	}
	snap, found, err := h.deps.Board.Get(c.Request.Context(), matchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !found {
		response.Error(c, appErr.Newf(appErr.MatchNotFound, "match %d is not running", matchID))
		return
	}
	response.Success(c, snap)
}

func (h *controller) ListLive(c *gin.Context) {
	if h.deps.Board == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "live board is not configured")
		return
	}
	ctx := c.Request.Context()
	ids, err := h.deps.Board.Live(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := LiveList{Matches: make([]liveboard.Snapshot, 0, len(ids))}
	for _, id := range ids {
		snap, found, err := h.deps.Board.Get(ctx, id)
		if err != nil {
			response.Error(c, err)
			return
		}
		if found {
			out.Matches = append(out.Matches, snap)
		}
	}
	response.Success(c, out)
}

func (h *controller) GetBot(c *gin.Context) {
	botID, ok := parseID(c, "Invalid bot id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	bot, err := h.deps.Store.GetBot(ctx, botID)
	if err != nil {
		response.Error(c, err)
		return
	}
	rating, err := h.deps.Store.GetRating(ctx, botID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, BotResponse{Bot: bot, Rating: rating})
}

// RequestFight queues a fight request for the arena's fight consumer.
func (h *controller) RequestFight(c *gin.Context) {
	var req FightRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if h.deps.Producer == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "fight queue is not configured")
		return
	}
	if req.WhiteID > 0 && req.WhiteID == req.BlackID {
		response.Error(c, appErr.ValidationError("black_id", "a bot cannot play itself"))
		return
	}
	msg, err := events.EncodeFightRequest(events.FightRequest{WhiteID: req.WhiteID, BlackID: req.BlackID})
	if err != nil {
		response.Error(c, err)
		return
	}
	topic := h.deps.FightTopic
	if topic == "" {
		topic = events.TopicFightRequested
	}
	if err := h.deps.Producer.Publish(c.Request.Context(), topic, msg); err != nil {
		response.Error(c, appErr.Wrap(err, appErr.PublishFailed))
		return
	}
	response.Success(c, FightAccepted{RequestID: msg.ID})
}

func parseID(c *gin.Context, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, message)
		return 0, false
	}
	return id, true
}
