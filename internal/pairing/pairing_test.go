package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
)

func TestHandoff_Seats(t *testing.T) {
	tests := []struct {
		name    string
		in      Handoff
		white   engine.Seat
		black   engine.Seat
		wantErr bool
	}{
		{
			name:  "two humans",
			in:    Handoff{White: "alice", Black: "bob"},
			white: engine.Seat{Principal: "alice", Kind: engine.SeatHuman},
			black: engine.Seat{Principal: "bob", Kind: engine.SeatHuman},
		},
		{
			name:  "synthetic black",
			in:    Handoff{White: "alice", Black: "stockfish-3", BlackKind: engine.SeatSynthetic},
			white: engine.Seat{Principal: "alice", Kind: engine.SeatHuman},
			black: engine.Seat{Principal: "stockfish-3", Kind: engine.SeatSynthetic},
		},
		{
			name:  "open black seat",
			in:    Handoff{White: "alice"},
			white: engine.Seat{Principal: "alice", Kind: engine.SeatHuman},
		},
		{name: "same principal", in: Handoff{White: "alice", Black: "alice"}, wantErr: true},
		{name: "kind without principal", in: Handoff{White: "alice", BlackKind: engine.SeatHuman}, wantErr: true},
		{name: "unknown kind", in: Handoff{White: "alice", WhiteKind: "robot"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			white, black, err := tt.in.Seats()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidHandoff)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.white, white)
			assert.Equal(t, tt.black, black)
		})
	}
}

func TestHandoff_TimeControl(t *testing.T) {
	def := engine.TimeControl{InitialMs: 600000}

	tc, err := Handoff{}.TimeControl(def)
	require.NoError(t, err)
	assert.Equal(t, def, tc)

	tc, err = Handoff{InitialMs: 180000, IncrementMs: 2000}.TimeControl(def)
	require.NoError(t, err)
	assert.Equal(t, engine.TimeControl{InitialMs: 180000, IncrementMs: 2000}, tc)

	_, err = Handoff{InitialMs: -1}.TimeControl(def)
	require.ErrorIs(t, err, ErrInvalidHandoff)
}

func TestResultOf(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := engine.NewSession("s1",
		engine.Seat{Principal: "alice", Kind: engine.SeatHuman},
		engine.Seat{Principal: "bob", Kind: engine.SeatHuman},
		engine.Position{Moves: []string{"e2e4"}}, engine.TimeControl{InitialMs: 1000}, now)

	_, ok := ResultOf(s)
	assert.False(t, ok)

	s.Status = engine.StatusFinished
	s.Terminal = &engine.Terminal{Result: engine.ResultBlackWins, EndReason: engine.EndResignation, Winner: clock.SideBlack, EndedAt: now}
	r, ok := ResultOf(s)
	require.True(t, ok)
	assert.Equal(t, Result{
		SessionID: "s1", White: "alice", Black: "bob",
		Result: engine.ResultBlackWins, EndReason: engine.EndResignation,
		Winner: clock.SideBlack, Moves: 1, EndedAt: now,
	}, r)
}
