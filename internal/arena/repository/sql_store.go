package repository

import (
	"context"
	"database/sql"
	"time"

	"botarena/internal/arena/model"
	"botarena/internal/common/db"
	appErr "botarena/pkg/errors"
)

// SQLStore implements Gateway over any supported SQL dialect.
type SQLStore struct {
	db db.Database
	tx db.Transaction
}

func NewSQLStore(database db.Database) *SQLStore {
	return &SQLStore{db: database}
}

func (s *SQLStore) q() db.Querier {
	return db.GetQuerier(s.db, s.tx)
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx Gateway) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.db.Transaction(ctx, func(tx db.Transaction) error {
		return fn(&SQLStore{db: s.db, tx: tx})
	})
}

func (s *SQLStore) CreateMatch(ctx context.Context, m *model.Match) (int64, error) {
	if m == nil {
		return 0, appErr.ValidationError("match", "required")
	}
	if m.WhiteID <= 0 || m.BlackID <= 0 {
		return 0, appErr.ValidationError("bot_id", "required")
	}
	query := `INSERT INTO games (wid, bid, initial_time_ms, initial_position, current_position)
		VALUES (?, ?, ?, ?, ?)`
	id, err := s.db.Dialect().InsertID(ctx, s.q(), query,
		m.WhiteID, m.BlackID, m.InitialTimeMS, m.InitialPosition, m.InitialPosition)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "create match")
	}
	m.ID = id
	m.CurrentPosition = m.InitialPosition
	return id, nil
}

func (s *SQLStore) UpdateMatchStart(ctx context.Context, matchID int64, started time.Time, position string) error {
	query := `UPDATE games SET started = ?, initial_position = ?, current_position = ?
		WHERE id = ? AND ended IS NULL`
	res, err := s.q().Exec(ctx, query, started.UnixMilli(), position, position, matchID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "start match %d", matchID)
	}
	return s.expectOne(ctx, res, matchID)
}

func (s *SQLStore) AppendMove(ctx context.Context, rec model.MoveRecord) error {
	query := "INSERT INTO moves (game_id, ply, move, color, elapsed_ms) VALUES (?, ?, ?, ?, ?)"
	_, err := s.q().Exec(ctx, query, rec.MatchID, rec.Ply, rec.Move, string(rec.Side), rec.ElapsedMS)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.Wrapf(err, appErr.RecordAlreadyExists, "match %d already has ply %d", rec.MatchID, rec.Ply)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "append move")
	}
	return nil
}

func (s *SQLStore) UpdateCurrentPosition(ctx context.Context, matchID int64, position string) error {
	query := "UPDATE games SET current_position = ? WHERE id = ? AND ended IS NULL"
	res, err := s.q().Exec(ctx, query, position, matchID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update position of match %d", matchID)
	}
	return s.expectOne(ctx, res, matchID)
}

func (s *SQLStore) FinalizeMatch(ctx context.Context, matchID int64, ended time.Time, result model.Result) error {
	query := "UPDATE games SET ended = ?, winner = ?, reason = ? WHERE id = ? AND ended IS NULL"
	res, err := s.q().Exec(ctx, query, ended.UnixMilli(), string(result.Winner), result.Reason, matchID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize match %d", matchID)
	}
	return s.expectOne(ctx, res, matchID)
}

// expectOne distinguishes a missing match from a finished one when an update touched no rows.
func (s *SQLStore) expectOne(ctx context.Context, res db.Result, matchID int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return err
	}
	return appErr.Newf(appErr.MatchAlreadyFinished, "match %d has already finished", matchID)
}

func (s *SQLStore) AppendRatingEvent(ctx context.Context, event model.RatingEvent) error {
	var gameID interface{}
	if event.MatchID != nil {
		gameID = *event.MatchID
	}
	query := "INSERT INTO rating_events (game_id, bot_id, delta) VALUES (?, ?, ?)"
	if _, err := s.q().Exec(ctx, query, gameID, event.BotID, event.Delta); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "append rating event for bot %d", event.BotID)
	}
	return nil
}

func (s *SQLStore) GetRating(ctx context.Context, botID int64) (float64, error) {
	var rating float64
	query := "SELECT COALESCE(SUM(delta), 0) FROM rating_events WHERE bot_id = ?"
	if err := s.q().QueryRow(ctx, query, botID).Scan(&rating); err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "read rating of bot %d", botID)
	}
	return rating, nil
}

func (s *SQLStore) ListEligibleBots(ctx context.Context) ([]model.EligibleBot, error) {
	query := `
		SELECT b.id, b.hash,
			COALESCE((SELECT SUM(r.delta) FROM rating_events r WHERE r.bot_id = b.id), 0),
			(SELECT COUNT(*) FROM games g WHERE g.ended IS NOT NULL AND (g.wid = b.id OR g.bid = b.id))
		FROM bots b
		WHERE b.paused = ?
		ORDER BY b.id`
	rows, err := s.q().Query(ctx, query, false)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list eligible bots")
	}
	defer rows.Close()

	var bots []model.EligibleBot
	for rows.Next() {
		var b model.EligibleBot
		if err := rows.Scan(&b.ID, &b.Hash, &b.Rating, &b.GamesPlayed); err != nil {
			return nil, appErr.Wrap(err, appErr.DatabaseError)
		}
		bots = append(bots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return bots, nil
}

func (s *SQLStore) CreateBot(ctx context.Context, bot *model.Bot) (int64, error) {
	if bot == nil || bot.Name == "" {
		return 0, appErr.ValidationError("name", "required")
	}
	if bot.Hash == "" {
		return 0, appErr.ValidationError("hash", "required")
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now()
	}
	query := "INSERT INTO bots (name, hash, paused, created_at) VALUES (?, ?, ?, ?)"
	id, err := s.db.Dialect().InsertID(ctx, s.q(), query, bot.Name, bot.Hash, bot.Paused, bot.CreatedAt.UnixMilli())
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return 0, appErr.Wrapf(err, appErr.RecordAlreadyExists, "bot %q already exists", bot.Name)
		}
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "create bot")
	}
	bot.ID = id
	return id, nil
}

func (s *SQLStore) SetPaused(ctx context.Context, botID int64, paused bool) error {
	res, err := s.q().Exec(ctx, "UPDATE bots SET paused = ? WHERE id = ?", paused, botID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "pause bot %d", botID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if affected == 0 {
		// MySQL reports zero affected rows when the value is unchanged.
		if _, err := s.GetBot(ctx, botID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) GetBot(ctx context.Context, botID int64) (*model.Bot, error) {
	query := "SELECT id, name, hash, paused, created_at FROM bots WHERE id = ?"
	var (
		bot     model.Bot
		created int64
	)
	err := s.q().QueryRow(ctx, query, botID).Scan(&bot.ID, &bot.Name, &bot.Hash, &bot.Paused, &created)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.NotFoundError(appErr.BotNotFound, "bot", botID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get bot %d", botID)
	}
	bot.CreatedAt = time.UnixMilli(created)
	return &bot, nil
}

func (s *SQLStore) GetMatch(ctx context.Context, matchID int64) (*model.Match, error) {
	query := `SELECT id, wid, bid, initial_time_ms, initial_position, current_position,
			started, ended, winner, reason
		FROM games WHERE id = ?`
	m, err := scanMatch(s.q().QueryRow(ctx, query, matchID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.NotFoundError(appErr.MatchNotFound, "match", matchID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get match %d", matchID)
	}
	return m, nil
}

func scanMatch(row db.Row) (*model.Match, error) {
	var (
		m       model.Match
		started sql.NullInt64
		ended   sql.NullInt64
		winner  sql.NullString
		reason  sql.NullString
	)
	err := row.Scan(&m.ID, &m.WhiteID, &m.BlackID, &m.InitialTimeMS, &m.InitialPosition, &m.CurrentPosition,
		&started, &ended, &winner, &reason)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		t := time.UnixMilli(started.Int64)
		m.Started = &t
	}
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		m.Ended = &t
	}
	m.Winner = model.Winner(winner.String)
	m.Reason = reason.String
	return &m, nil
}

func (s *SQLStore) ListMoves(ctx context.Context, matchID int64) ([]model.MoveRecord, error) {
	query := "SELECT game_id, ply, move, color, elapsed_ms FROM moves WHERE game_id = ? ORDER BY ply"
	rows, err := s.q().Query(ctx, query, matchID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list moves of match %d", matchID)
	}
	defer rows.Close()

	var moves []model.MoveRecord
	for rows.Next() {
		var (
			rec  model.MoveRecord
			side string
		)
		if err := rows.Scan(&rec.MatchID, &rec.Ply, &rec.Move, &side, &rec.ElapsedMS); err != nil {
			return nil, appErr.Wrap(err, appErr.DatabaseError)
		}
		rec.Side = model.Side(side)
		moves = append(moves, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return moves, nil
}

var _ Gateway = (*SQLStore)(nil)
