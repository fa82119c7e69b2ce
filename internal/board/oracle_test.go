package board

import (
	"errors"
	"testing"

	"github.com/castlegate/arena/internal/domain"
)

func TestStartingPositionSideToMove(t *testing.T) {
	o := NewOracle()
	role, err := o.SideToMove(o.StartingPosition())
	if err != nil {
		t.Fatalf("SideToMove: %v", err)
	}
	if role != domain.RoleWhite {
		t.Fatalf("starting position must be white to move, got %s", role)
	}
}

func TestApplyUCIMove(t *testing.T) {
	o := NewOracle()
	applied, err := o.Apply(o.StartingPosition(), "e2e4")
	if err != nil {
		t.Fatalf("Apply e2e4: %v", err)
	}
	if applied.UCI != "e2e4" {
		t.Fatalf("canonical UCI: got %q", applied.UCI)
	}
	if applied.SAN != "e4" {
		t.Fatalf("SAN: got %q, want e4", applied.SAN)
	}
	role, err := o.SideToMove(applied.FEN)
	if err != nil {
		t.Fatalf("SideToMove after move: %v", err)
	}
	if role != domain.RoleBlack {
		t.Fatalf("after white's move it must be black to move, got %s", role)
	}
}

func TestApplySANFallback(t *testing.T) {
	o := NewOracle()
	applied, err := o.Apply(o.StartingPosition(), "Nf3")
	if err != nil {
		t.Fatalf("Apply Nf3: %v", err)
	}
	if applied.UCI != "g1f3" {
		t.Fatalf("UCI for Nf3: got %q, want g1f3", applied.UCI)
	}
}

func TestApplyIllegalMove(t *testing.T) {
	o := NewOracle()
	// Well-formed UCI strings that break the rules must be rejected the same
	// way as garbage input; parsing alone never commits a move.
	for _, mv := range []string{"e2e5", "d2d5", "b1b3", "e1e2", "Ke2", "zzzz", ""} {
		res, err := o.Apply(o.StartingPosition(), mv)
		if !errors.Is(err, domain.ErrIllegalMove) {
			t.Fatalf("Apply %q: got %v, want ErrIllegalMove", mv, err)
		}
		if res.FEN != "" {
			t.Fatalf("Apply %q returned a position on rejection: %q", mv, res.FEN)
		}
	}
}

func TestApplyTurnOrderEnforced(t *testing.T) {
	o := NewOracle()
	// Moving black's pieces while white is on turn is rejected even when the
	// squares themselves are plausible.
	for _, mv := range []string{"e7e5", "b8c6"} {
		if _, err := o.Apply(o.StartingPosition(), mv); !errors.Is(err, domain.ErrIllegalMove) {
			t.Fatalf("out-of-turn %q: got %v, want ErrIllegalMove", mv, err)
		}
	}
}

func TestTerminalCheckmate(t *testing.T) {
	o := NewOracle()
	fen := o.StartingPosition()
	// Fool's mate.
	for _, mv := range []string{"f3", "e5", "g4", "Qh4#"} {
		applied, err := o.Apply(fen, mv)
		if err != nil {
			t.Fatalf("Apply %s: %v", mv, err)
		}
		fen = applied.FEN
	}
	v, err := o.Terminal(fen)
	if err != nil {
		t.Fatalf("Terminal: %v", err)
	}
	if v != VerdictCheckmate {
		t.Fatalf("fool's mate: got %s, want checkmate", v)
	}
}

func TestTerminalStalemate(t *testing.T) {
	o := NewOracle()
	v, err := o.Terminal("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("Terminal: %v", err)
	}
	if v != VerdictStalemate {
		t.Fatalf("got %s, want stalemate", v)
	}
}

func TestTerminalNoneInOpenPosition(t *testing.T) {
	o := NewOracle()
	v, err := o.Terminal(o.StartingPosition())
	if err != nil {
		t.Fatalf("Terminal: %v", err)
	}
	if v != VerdictNone {
		t.Fatalf("starting position: got %s, want none", v)
	}
}

func TestTerminalSeventyFiveMoveRule(t *testing.T) {
	o := NewOracle()
	v, err := o.Terminal("8/8/4k3/8/8/4K3/4R3/8 w - - 150 120")
	if err != nil {
		t.Fatalf("Terminal: %v", err)
	}
	if v != VerdictOtherDraw {
		t.Fatalf("half-move clock at 150: got %s, want other_draw", v)
	}
}

func TestInsufficientMaterial(t *testing.T) {
	o := NewOracle()
	cases := []struct {
		fen  string
		want bool
	}{
		{"8/8/4k3/8/8/4K3/8/8 w - - 0 1", true},                          // K vs K
		{"8/8/4k3/8/8/4K3/4N3/8 w - - 0 1", true},                       // K+N vs K
		{"8/8/4k3/8/8/4K3/4B3/8 w - - 0 1", true},                       // K+B vs K
		{"8/2b5/4k3/8/8/4K3/4B3/8 w - - 0 1", false},                    // opposite-colored bishops
		{"8/8/4k3/8/8/4K3/4R3/8 w - - 0 1", false},                      // rook mates
		{"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", false},
	}
	for _, c := range cases {
		got, err := o.InsufficientMaterial(c.fen)
		if err != nil {
			t.Fatalf("InsufficientMaterial(%q): %v", c.fen, err)
		}
		if got != c.want {
			t.Fatalf("InsufficientMaterial(%q): got %v, want %v", c.fen, got, c.want)
		}
	}
}
