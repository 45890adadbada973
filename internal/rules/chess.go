// Package rules adapts github.com/corentings/chess/v2 to the engine's Rules
// contract. Positions are rebuilt from the start FEN and the UCI move list on
// every call so repetition history is always complete.
package rules

import (
	"fmt"
	"slices"

	"github.com/corentings/chess/v2"

	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Start returns the standard initial position.
func Start() engine.Position {
	return engine.Position{StartFEN: StartFEN, FEN: StartFEN}
}

type Chess struct{}

func NewChess() Chess { return Chess{} }

func (Chess) ApplyMove(pos engine.Position, move string) (engine.MoveResult, error) {
	game, err := replay(pos)
	if err != nil {
		return engine.MoveResult{}, err
	}
	if game.Outcome() != chess.NoOutcome {
		return engine.MoveResult{}, fmt.Errorf("%w: game already decided", engine.ErrIllegalMove)
	}
	if err := game.PushNotationMove(move, chess.UCINotation{}, nil); err != nil {
		return engine.MoveResult{}, fmt.Errorf("%w: %s: %v", engine.ErrIllegalMove, move, err)
	}

	res := engine.MoveResult{
		Position: engine.Position{
			StartFEN: pos.StartFEN,
			FEN:      game.FEN(),
			Moves:    append(slices.Clone(pos.Moves), move),
		},
	}
	if moves := game.Moves(); len(moves) > 0 {
		res.IsCheck = moves[len(moves)-1].HasTag(chess.Check)
	}

	switch game.Method() {
	case chess.Checkmate:
		res.IsMate = true
	case chess.Stalemate:
		res.IsStalemate = true
	case chess.InsufficientMaterial:
		res.IsInsufficientMaterial = true
	case chess.FivefoldRepetition:
		res.IsThreefold = true
	case chess.SeventyFiveMoveRule:
		res.IsFiftyMove = true
	}
	// Threefold and fifty-move are claimable, not automatic, in the library.
	// Sessions end on them without a claim.
	for _, method := range game.EligibleDraws() {
		switch method {
		case chess.ThreefoldRepetition:
			res.IsThreefold = true
		case chess.FiftyMoveRule:
			res.IsFiftyMove = true
		}
	}
	return res, nil
}

func replay(pos engine.Position) (*chess.Game, error) {
	start := pos.StartFEN
	if start == "" {
		start = StartFEN
	}
	opt, err := chess.FEN(start)
	if err != nil {
		return nil, fmt.Errorf("%w: bad start position: %v", engine.ErrIllegalMove, err)
	}
	game := chess.NewGame(opt)
	for i, mv := range pos.Moves {
		if err := game.PushNotationMove(mv, chess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, mv, err)
		}
	}
	return game, nil
}

// FromFEN validates fen and returns it as a starting position.
func FromFEN(fen string) (engine.Position, error) {
	if fen == "" {
		return Start(), nil
	}
	if _, err := chess.FEN(fen); err != nil {
		return engine.Position{}, fmt.Errorf("invalid start position: %w", err)
	}
	return engine.Position{StartFEN: fen, FEN: fen}, nil
}
