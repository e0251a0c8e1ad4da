// Package repository persists bots, matches, moves and rating events.
package repository

import (
	"context"
	"embed"
	"time"

	"botarena/internal/arena/model"
	"botarena/internal/common/db"
)

//go:embed migrations
var migrations embed.FS

// Gateway is everything the arena reads and writes.
type Gateway interface {
	CreateMatch(ctx context.Context, m *model.Match) (int64, error)
	UpdateMatchStart(ctx context.Context, matchID int64, started time.Time, position string) error
	AppendMove(ctx context.Context, rec model.MoveRecord) error
	UpdateCurrentPosition(ctx context.Context, matchID int64, position string) error
	// FinalizeMatch writes the terminal fields once; a second call reports MatchAlreadyFinished.
	FinalizeMatch(ctx context.Context, matchID int64, ended time.Time, result model.Result) error
	AppendRatingEvent(ctx context.Context, event model.RatingEvent) error
	GetRating(ctx context.Context, botID int64) (float64, error)
	ListEligibleBots(ctx context.Context) ([]model.EligibleBot, error)

	CreateBot(ctx context.Context, bot *model.Bot) (int64, error)
	SetPaused(ctx context.Context, botID int64, paused bool) error
	GetBot(ctx context.Context, botID int64) (*model.Bot, error)
	GetMatch(ctx context.Context, matchID int64) (*model.Match, error)
	ListMoves(ctx context.Context, matchID int64) ([]model.MoveRecord, error)

	// WithinTx runs fn against a gateway bound to one transaction.
	WithinTx(ctx context.Context, fn func(tx Gateway) error) error
}

// Migrate applies the embedded schema for the database's dialect.
func Migrate(ctx context.Context, database db.Database) ([]string, error) {
	return db.Migrate(ctx, database, migrations, "migrations/"+database.Dialect().Driver())
}
