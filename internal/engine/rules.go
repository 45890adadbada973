package engine

// Position is the board encoding plus the move history the rules engine needs
// for repetition detection.
type Position struct {
	StartFEN string   `json:"start_fen"`
	FEN      string   `json:"fen"`
	Moves    []string `json:"moves"`
}

type MoveResult struct {
	Position               Position
	IsCheck                bool
	IsMate                 bool
	IsStalemate            bool
	IsThreefold            bool
	IsFiftyMove            bool
	IsInsufficientMaterial bool
}

// Rules validates a move against a position. Implementations must be pure and
// return an error wrapping ErrIllegalMove for moves they reject.
type Rules interface {
	ApplyMove(pos Position, move string) (MoveResult, error)
}
