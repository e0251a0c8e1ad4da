// Package matchmaker picks the next pair of bots to play.
//
// The first bot is drawn with weight 1/games, favouring newcomers. The second is drawn
// with weight 1/(|ΔR|+W)^P, favouring close ratings. Sides are then assigned at random.
package matchmaker

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"botarena/internal/arena/model"
	appErr "botarena/pkg/errors"
)

// ErrNoPairing means fewer than two distinct eligible bots exist right now.
var ErrNoPairing = appErr.New(appErr.NoPairingAvailable)

// Source lists non-paused bots with fresh ratings and game counts.
type Source interface {
	ListEligibleBots(ctx context.Context) ([]model.EligibleBot, error)
}

// Config holds the weighting parameters.
type Config struct {
	// RatingOffset is W in 1/(|ΔR|+W)^P.
	RatingOffset float64 `yaml:"ratingOffset"`
	// RatingPower is P in 1/(|ΔR|+W)^P.
	RatingPower float64 `yaml:"ratingPower"`
	// GamesCap bounds the games count used for the newcomer weight.
	GamesCap int `yaml:"gamesCap"`
}

func DefaultConfig() Config {
	return Config{RatingOffset: 1, RatingPower: 1.5, GamesCap: 100}
}

type Matchmaker struct {
	source Source
	cfg    Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a matchmaker; a nil rng is seeded from the clock.
func New(source Source, cfg Config, rng *rand.Rand) *Matchmaker {
	def := DefaultConfig()
	if cfg.RatingOffset <= 0 {
		cfg.RatingOffset = def.RatingOffset
	}
	if cfg.RatingPower <= 0 {
		cfg.RatingPower = def.RatingPower
	}
	if cfg.GamesCap <= 0 {
		cfg.GamesCap = def.GamesCap
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Matchmaker{source: source, cfg: cfg, rng: rng}
}

// Pick returns the next pairing with sides assigned, or ErrNoPairing.
func (m *Matchmaker) Pick(ctx context.Context) (model.Pairing, error) {
	bots, err := m.source.ListEligibleBots(ctx)
	if err != nil {
		return model.Pairing{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pick(bots)
}

func (m *Matchmaker) pick(bots []model.EligibleBot) (model.Pairing, error) {
	if len(bots) < 2 {
		return model.Pairing{}, ErrNoPairing
	}

	first := m.draw(m.newcomerWeights(bots))
	if first < 0 {
		return model.Pairing{}, ErrNoPairing
	}
	a := bots[first]

	second := m.draw(m.proximityWeights(bots, first))
	if second < 0 || second == first || bots[second].ID == a.ID {
		return model.Pairing{}, ErrNoPairing
	}
	b := bots[second]

	if m.rng.IntN(2) == 0 {
		return model.Pairing{White: a, Black: b}, nil
	}
	return model.Pairing{White: b, Black: a}, nil
}

func (m *Matchmaker) newcomerWeights(bots []model.EligibleBot) []float64 {
	weights := make([]float64, len(bots))
	for i, bot := range bots {
		games := min(max(bot.GamesPlayed, 1), m.cfg.GamesCap)
		weights[i] = 1 / float64(games)
	}
	return weights
}

func (m *Matchmaker) proximityWeights(bots []model.EligibleBot, first int) []float64 {
	weights := make([]float64, len(bots))
	for i, bot := range bots {
		if i == first || bot.ID == bots[first].ID {
			continue
		}
		diff := math.Abs(bot.Rating - bots[first].Rating)
		weights[i] = 1 / math.Pow(diff+m.cfg.RatingOffset, m.cfg.RatingPower)
	}
	return weights
}

// draw picks the first index whose cumulative weight reaches r in [0,total).
// Zero-weight entries are never picked. Returns -1 when all weights are zero.
func (m *Matchmaker) draw(weights []float64) int {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return -1
	}
	r := m.rng.Float64() * total
	var sum float64
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		sum += w
		last = i
		if sum >= r {
			return i
		}
	}
	return last
}
