package rules

import (
	"slices"
	"strings"

	"botarena/internal/arena/model"
	appErr "botarena/pkg/errors"

	"github.com/corentings/chess/v2"
)

// ChessOracle implements Oracle for standard chess.
type ChessOracle struct{}

func NewChessOracle() *ChessOracle {
	return &ChessOracle{}
}

func (ChessOracle) Validate(position string) error {
	if strings.TrimSpace(position) == "" {
		return nil
	}
	if _, err := chess.FEN(position); err != nil {
		return appErr.Wrapf(err, appErr.InvalidPosition, "invalid position %q", position)
	}
	return nil
}

func (ChessOracle) NewGame(position string) (Game, error) {
	position = strings.TrimSpace(position)
	if position == "" {
		return &chessGame{game: chess.NewGame()}, nil
	}
	opt, err := chess.FEN(position)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidPosition, "invalid position %q", position)
	}
	return &chessGame{game: chess.NewGame(opt)}, nil
}

type chessGame struct {
	game *chess.Game
}

func (g *chessGame) SideToMove() model.Side {
	if g.game.Position().Turn() == chess.White {
		return model.White
	}
	return model.Black
}

// Apply accepts UCI ("e2e4", "e7e8q") or SAN ("Nf3", "O-O") and records SAN.
func (g *chessGame) Apply(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", appErr.New(appErr.IllegalMove).WithMessage("empty move")
	}
	pos := g.game.Position()
	mv, err := chess.UCINotation{}.Decode(pos, strings.ToLower(token))
	if err != nil {
		mv, err = chess.AlgebraicNotation{}.Decode(pos, token)
	}
	if err != nil {
		return "", appErr.Wrapf(err, appErr.IllegalMove, "cannot parse move %q", token)
	}
	// Decoding checks syntax only; legality comes from the position's move list.
	legal, ok := findLegal(g.game.ValidMoves(), mv)
	if !ok {
		return "", appErr.Newf(appErr.IllegalMove, "illegal move %q", token)
	}
	if err := g.game.Move(legal, nil); err != nil {
		return "", appErr.Wrapf(err, appErr.IllegalMove, "illegal move %q", token)
	}
	moves := g.game.Moves()
	if len(moves) == 0 {
		return "", appErr.Newf(appErr.IllegalMove, "move %q was not recorded", token)
	}
	return chess.AlgebraicNotation{}.Encode(pos, moves[len(moves)-1]), nil
}

func findLegal(valid []chess.Move, mv *chess.Move) (*chess.Move, bool) {
	for i := range valid {
		if valid[i].S1() == mv.S1() && valid[i].S2() == mv.S2() && valid[i].Promo() == mv.Promo() {
			return &valid[i], true
		}
	}
	return nil, false
}

func (g *chessGame) IsStalemate() bool {
	return g.game.Method() == chess.Stalemate
}

func (g *chessGame) IsInsufficientMaterial() bool {
	return g.game.Method() == chess.InsufficientMaterial
}

// IsThreefoldRepetition also covers the automatic fivefold draw.
func (g *chessGame) IsThreefoldRepetition() bool {
	if m := g.game.Method(); m == chess.ThreefoldRepetition || m == chess.FivefoldRepetition {
		return true
	}
	return slices.Contains(g.game.EligibleDraws(), chess.ThreefoldRepetition)
}

// IsFiftyMoveDraw also covers the automatic seventy-five move draw.
func (g *chessGame) IsFiftyMoveDraw() bool {
	if m := g.game.Method(); m == chess.FiftyMoveRule || m == chess.SeventyFiveMoveRule {
		return true
	}
	return slices.Contains(g.game.EligibleDraws(), chess.FiftyMoveRule)
}

func (g *chessGame) IsCheckmate() bool {
	return g.game.Method() == chess.Checkmate
}

// IsGameOver treats claimable draws as terminal; bots never get to claim them.
func (g *chessGame) IsGameOver() bool {
	return g.game.Outcome() != chess.NoOutcome || g.IsThreefoldRepetition() || g.IsFiftyMoveDraw()
}

func (g *chessGame) Serialize() string {
	return g.game.FEN()
}
