package match

import (
	"context"
	"sync"
	"time"

	"botarena/internal/arena/events"
	"botarena/internal/arena/liveboard"
	"botarena/internal/arena/model"
	"botarena/internal/arena/protocol"
	"botarena/internal/arena/rating"
	"botarena/internal/arena/repository"
	"botarena/internal/arena/rules"
	"botarena/internal/arena/sandbox"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/contextkey"
	"botarena/pkg/utils/logger"

	"go.uber.org/zap"
)

// matchRun is the state of one match, owned by the goroutine calling Runner.Run.
type matchRun struct {
	r       *Runner
	match   *model.Match
	bots    map[model.Side]model.EligibleBot
	initial time.Duration

	remaining map[model.Side]time.Duration
	procs     map[model.Side]sandbox.Process
	sessions  map[model.Side]*protocol.Session
	workspace *sandbox.Workspace
	plies     int
	lastMove  string

	once   sync.Once
	report Report
	err    error
}

func newMatchRun(r *Runner, m *model.Match, p model.Pairing) *matchRun {
	return &matchRun{
		r:       r,
		match:   m,
		bots:    map[model.Side]model.EligibleBot{model.White: p.White, model.Black: p.Black},
		initial: r.cfg.InitialTime,
		remaining: map[model.Side]time.Duration{
			model.White: r.cfg.InitialTime,
			model.Black: r.cfg.InitialTime,
		},
		procs:    make(map[model.Side]sandbox.Process, 2),
		sessions: make(map[model.Side]*protocol.Session, 2),
	}
}

// play runs the match until a result is known. A non-nil error means persistence failed.
func (m *matchRun) play(ctx context.Context) (model.Result, error) {
	game, res, ok := m.prepare(ctx)
	if !ok {
		return res, nil
	}
	if err := m.r.deps.Store.UpdateMatchStart(ctx, m.match.ID, m.r.deps.Now(), game.Serialize()); err != nil {
		logger.Error(ctx, "failed to record match start", zap.Error(err))
		return model.Result{}, err
	}
	logger.Info(ctx, "match started", zap.String("isolation", string(m.r.deps.Launcher.Mode())))

	for {
		mover := game.SideToMove()
		opponent := mover.Opponent()
		prompt := protocol.Prompt{
			Position:  game.Serialize(),
			MineMS:    m.remaining[mover].Milliseconds(),
			TheirsMS:  m.remaining[opponent].Milliseconds(),
			InitialMS: m.initial.Milliseconds(),
		}
		out := protocol.Turn(ctx, m.sessions[mover], m.sessions[opponent], prompt, m.remaining[mover], m.r.cfg.Grace)

		switch o := out.(type) {
		case protocol.Crashed:
			m.logCrash(ctx, o)
			return crashed(o.Side), nil

		case protocol.TimedOut:
			m.remaining[o.Side] = 0
			return timedOut(o.Side), nil

		case protocol.OffTurn:
			logger.Info(ctx, "bot wrote out of turn", zap.String("side", string(o.Side)), zap.String("line", o.Line))
			return offTurn(o.Side), nil

		case protocol.Canceled:
			return aborted(o.Err.Error()), nil

		case protocol.Moved:
			m.r.deps.Metrics.ObserveTurn(o.Elapsed)
			if o.Side != mover {
				return offTurn(o.Side), nil
			}
			m.remaining[mover] -= o.Elapsed
			if m.remaining[mover] <= 0 {
				m.remaining[mover] = 0
				return timedOut(mover), nil
			}
			san, err := game.Apply(o.Token)
			if err != nil {
				return illegalMove(mover, o.Token), nil
			}
			if err := m.recordMove(ctx, game, mover, san, o.Elapsed); err != nil {
				return model.Result{}, err
			}
			if res, done := rules.Classify(game, mover); done {
				return res, nil
			}
		}
	}
}

// prepare builds the game, the workspace and both processes. On failure it returns
// the abort result to finalize with.
func (m *matchRun) prepare(ctx context.Context) (rules.Game, model.Result, bool) {
	game, err := m.r.deps.Oracle.NewGame(m.match.InitialPosition)
	if err != nil {
		logger.Error(ctx, "invalid starting position", zap.String("position", m.match.InitialPosition), zap.Error(err))
		return nil, aborted("invalid starting position"), false
	}

	white, black := m.bots[model.White], m.bots[model.Black]
	ws, err := sandbox.PrepareWorkspace(ctx, m.r.cfg.Workspace, m.r.deps.Artifacts, white.Hash, black.Hash)
	if err != nil {
		logger.Error(ctx, "failed to prepare workspace", zap.Error(err))
		if appErr.Is(err, appErr.ArtifactNotFound) {
			return nil, aborted("artifact not found"), false
		}
		return nil, aborted("workspace preparation failed"), false
	}
	m.workspace = ws

	for _, side := range []model.Side{model.White, model.Black} {
		bot := m.bots[side]
		sctx := context.WithValue(context.WithValue(ctx, contextkey.Side, side), contextkey.BotID, bot.ID)
		proc, err := m.r.deps.Launcher.Launch(sctx, sandbox.Spec{
			MatchID:      m.match.ID,
			Side:         side,
			Hash:         bot.Hash,
			Dir:          ws.Dir,
			ArtifactName: ws.ArtifactName(bot.Hash),
		})
		if err != nil {
			logger.Error(sctx, "failed to launch bot", zap.Error(err))
			return nil, aborted(side.Name() + " failed to start"), false
		}
		m.procs[side] = proc
		m.sessions[side] = protocol.NewSession(side, proc.Stdin(), proc.Stdout(), m.r.cfg.MaxLine)
	}
	return game, model.Result{}, true
}

func (m *matchRun) recordMove(ctx context.Context, game rules.Game, side model.Side, san string, elapsed time.Duration) error {
	m.plies++
	rec := model.MoveRecord{
		MatchID:   m.match.ID,
		Ply:       m.plies,
		Move:      san,
		Side:      side,
		ElapsedMS: elapsed.Milliseconds(),
	}
	if err := m.r.deps.Store.AppendMove(ctx, rec); err != nil {
		logger.Error(ctx, "failed to append move", zap.Int("ply", m.plies), zap.Error(err))
		return err
	}
	position := game.Serialize()
	if err := m.r.deps.Store.UpdateCurrentPosition(ctx, m.match.ID, position); err != nil {
		logger.Error(ctx, "failed to update position", zap.Int("ply", m.plies), zap.Error(err))
		return err
	}
	m.match.CurrentPosition = position
	m.lastMove = san

	if board := m.r.deps.Board; board != nil {
		snap := liveboard.Snapshot{
			MatchID:  m.match.ID,
			WhiteID:  m.match.WhiteID,
			BlackID:  m.match.BlackID,
			Position: position,
			WhiteMS:  m.remaining[model.White].Milliseconds(),
			BlackMS:  m.remaining[model.Black].Milliseconds(),
			LastMove: san,
			Ply:      m.plies,
		}
		if err := board.Publish(ctx, snap); err != nil {
			logger.Warn(ctx, "live board update failed", zap.Error(err))
		}
	}
	return nil
}

func (m *matchRun) logCrash(ctx context.Context, o protocol.Crashed) {
	fields := []zap.Field{zap.String("side", string(o.Side)), zap.Error(o.Err)}
	if t, ok := m.procs[o.Side].(interface{ StderrTail() string }); ok {
		fields = append(fields, zap.String("stderr", t.StderrTail()))
	}
	logger.Info(ctx, "bot crashed", fields...)
}

// finalize moves the match to its terminal state exactly once: kill both bots, persist
// the result with its rating events, then release every resource the match held.
func (m *matchRun) finalize(ctx context.Context, result model.Result) (Report, error) {
	m.once.Do(func() {
		deps := m.r.deps
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.r.cfg.PersistTimeout)
		defer cancel()

		for side, proc := range m.procs {
			if err := proc.Terminate(fctx); err != nil {
				logger.Warn(fctx, "failed to terminate bot", zap.String("side", string(side)), zap.Error(err))
			}
		}
		for _, s := range m.sessions {
			s.Close()
		}

		m.report = Report{MatchID: m.match.ID, WhiteID: m.match.WhiteID, BlackID: m.match.BlackID, Result: result, Plies: m.plies}
		m.err = m.persist(fctx, result)
		if m.err != nil {
			m.report.Result = abortedPersistence
			m.report.Settlement = nil
		}

		for side, proc := range m.procs {
			if err := proc.Release(fctx); err != nil {
				logger.Warn(fctx, "failed to release bot resources", zap.String("side", string(side)), zap.Error(err))
			}
		}
		m.workspace.Remove(fctx)
		if deps.Board != nil && m.plies > 0 {
			if err := deps.Board.Remove(fctx, m.match.ID); err != nil {
				logger.Warn(fctx, "failed to clear live board", zap.Error(err))
			}
		}
		deps.Metrics.MatchFinished(outcomeClass(m.report.Result))
		m.publish(fctx)

		logger.Info(fctx, "match finished",
			zap.String("winner", string(m.report.Result.Winner)),
			zap.String("reason", m.report.Result.Reason),
			zap.Int("plies", m.plies))
	})
	return m.report, m.err
}

// persist writes the terminal fields and rating events atomically. If that fails the
// match is closed as an unrated abort on a best-effort basis.
func (m *matchRun) persist(ctx context.Context, result model.Result) error {
	deps := m.r.deps
	ended := deps.Now()
	err := deps.Store.WithinTx(ctx, func(tx repository.Gateway) error {
		if err := tx.FinalizeMatch(ctx, m.match.ID, ended, result); err != nil {
			return err
		}
		if !result.Rated {
			return nil
		}
		s, err := deps.Ledger.Settle(ctx, tx, m.match.ID, m.match.WhiteID, m.match.BlackID, result.Winner)
		if err != nil {
			return err
		}
		m.report.Settlement = &s
		return nil
	})
	if err == nil {
		return nil
	}
	logger.Error(ctx, "failed to persist match result", zap.String("reason", result.Reason), zap.Error(err))
	if appErr.Is(err, appErr.MatchAlreadyFinished) {
		return err
	}
	if ferr := deps.Store.FinalizeMatch(ctx, m.match.ID, ended, abortedPersistence); ferr != nil {
		logger.Error(ctx, "failed to mark match aborted", zap.Error(ferr))
	}
	return err
}

func (m *matchRun) publish(ctx context.Context) {
	pub := m.r.deps.Events
	// A match lost to a storage failure has no trustworthy record to announce.
	if pub == nil || m.err != nil || m.report.Result.Reason == abortedPersistence.Reason {
		return
	}
	ev := events.MatchFinished{
		MatchID: m.match.ID,
		WhiteID: m.match.WhiteID,
		BlackID: m.match.BlackID,
		Winner:  m.report.Result.Winner,
		Reason:  m.report.Result.Reason,
		Rated:   m.report.Result.Rated,
		Plies:   m.plies,
		EndedAt: m.r.deps.Now().UnixMilli(),
	}
	if s := m.report.Settlement; s != nil {
		ev.WhiteDelta, ev.BlackDelta = s.WhiteDelta, s.BlackDelta
	}
	if err := pub.PublishMatchFinished(ctx, ev); err != nil {
		logger.Warn(ctx, "failed to publish match result", zap.Error(err))
	}
}

var _ rating.Store = repository.Gateway(nil)
