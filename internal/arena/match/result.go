package match

import (
	"strings"

	"botarena/internal/arena/metrics"
	"botarena/internal/arena/model"
)

var abortedPersistence = aborted("persistence failure")

func loss(side model.Side, format string) model.Result {
	return model.Result{
		Winner: model.WinnerFor(side.Opponent()),
		Reason: side.Name() + " " + format,
		Rated:  true,
	}
}

func crashed(side model.Side) model.Result {
	return loss(side, "kicked to bucket early (crashed)")
}

func timedOut(side model.Side) model.Result {
	return loss(side, "timed out")
}

func offTurn(side model.Side) model.Result {
	return loss(side, "responded out of turn")
}

func illegalMove(side model.Side, token string) model.Result {
	return loss(side, "made an illegal move: "+token)
}

// aborted is an unrated draw for matches that never reached a fair conclusion.
func aborted(detail string) model.Result {
	return model.Result{Winner: model.WinnerDraw, Reason: "Aborted: " + detail}
}

func isAborted(res model.Result) bool {
	return strings.HasPrefix(res.Reason, "Aborted:")
}

func outcomeClass(res model.Result) string {
	if isAborted(res) {
		return metrics.OutcomeAborted
	}
	switch res.Winner {
	case model.WinnerWhite:
		return metrics.OutcomeWhite
	case model.WinnerBlack:
		return metrics.OutcomeBlack
	default:
		return metrics.OutcomeDraw
	}
}
