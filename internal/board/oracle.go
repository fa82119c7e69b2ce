package board

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/castlegate/arena/internal/domain"
)

// Verdict is the terminal status of a position.
type Verdict string

const (
	VerdictNone                 Verdict = "none"
	VerdictCheckmate            Verdict = "checkmate"
	VerdictStalemate            Verdict = "stalemate"
	VerdictInsufficientMaterial Verdict = "insufficient_material"
	// VerdictOtherDraw covers the seventy-five-move rule, the only other
	// drawing rule decidable from a single FEN snapshot.
	VerdictOtherDraw Verdict = "other_draw"
)

// Applied is the result of a legal move.
type Applied struct {
	FEN string // position after the move
	UCI string // canonical UCI of the applied move
	SAN string // algebraic notation of the applied move
}

// Oracle is the rules-validation collaborator. Implementations must be
// deterministic and side-effect-free; the session engine treats positions as
// opaque and mutates them only through Apply.
type Oracle interface {
	StartingPosition() string
	SideToMove(fen string) (domain.Role, error)
	Apply(fen, move string) (Applied, error)
	Terminal(fen string) (Verdict, error)
	InsufficientMaterial(fen string) (bool, error)
}

// RulesOracle implements Oracle on top of corentings/chess.
type RulesOracle struct{}

func NewOracle() *RulesOracle { return &RulesOracle{} }

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func (o *RulesOracle) StartingPosition() string { return startFEN }

func gameFrom(fen string) (*nchess.Game, error) {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return nchess.NewGame(option), nil
}

func (o *RulesOracle) SideToMove(fen string) (domain.Role, error) {
	game, err := gameFrom(fen)
	if err != nil {
		return "", err
	}
	if game.Position().Turn() == nchess.White {
		return domain.RoleWhite, nil
	}
	return domain.RoleBlack, nil
}

// Apply validates the move against the position and returns the resulting
// position. UCI is preferred; SAN is accepted as a fallback. Illegal or
// malformed input fails with domain.ErrIllegalMove.
func (o *RulesOracle) Apply(fen, move string) (Applied, error) {
	game, err := gameFrom(fen)
	if err != nil {
		return Applied{}, err
	}
	pos := game.Position()

	raw := strings.TrimSpace(move)
	if raw == "" {
		return Applied{}, domain.ErrIllegalMove
	}

	if mv, derr := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); derr == nil {
		// Decode only parses; legality is checked by Move.
		if merr := game.Move(mv, nil); merr != nil {
			return Applied{}, domain.ErrIllegalMove
		}
		return Applied{
			FEN: game.FEN(),
			UCI: mv.String(),
			SAN: nchess.AlgebraicNotation{}.Encode(pos, mv),
		}, nil
	}

	if err := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
		return Applied{}, domain.ErrIllegalMove
	}
	moves := game.Moves()
	if len(moves) == 0 {
		return Applied{}, domain.ErrIllegalMove
	}
	last := moves[len(moves)-1]
	return Applied{
		FEN: game.FEN(),
		UCI: last.String(),
		SAN: nchess.AlgebraicNotation{}.Encode(pos, last),
	}, nil
}

// Terminal reports whether the position ends the game on its own.
func (o *RulesOracle) Terminal(fen string) (Verdict, error) {
	game, err := gameFrom(fen)
	if err != nil {
		return VerdictNone, err
	}
	switch game.Position().Status() {
	case nchess.Checkmate:
		return VerdictCheckmate, nil
	case nchess.Stalemate:
		return VerdictStalemate, nil
	}
	if insufficientMaterial(game.Position()) {
		return VerdictInsufficientMaterial, nil
	}
	// Seventy-five-move rule: 150 half-moves without a capture or pawn move.
	if hm, ok := halfMoveClock(fen); ok && hm >= 150 {
		return VerdictOtherDraw, nil
	}
	return VerdictNone, nil
}

func (o *RulesOracle) InsufficientMaterial(fen string) (bool, error) {
	game, err := gameFrom(fen)
	if err != nil {
		return false, err
	}
	return insufficientMaterial(game.Position()), nil
}

// insufficientMaterial reports whether neither side can deliver mate:
// K vs K, K+minor vs K, or K+B vs K+B with same-colored bishops.
func insufficientMaterial(pos *nchess.Position) bool {
	b := pos.Board()
	var knights, bishops, other int
	bishopColors := map[int]bool{} // square color (0 light, 1 dark) → seen
	for sq := 0; sq < 64; sq++ {
		p := b.Piece(nchess.Square(sq))
		if p == nchess.NoPiece {
			continue
		}
		switch p.Type() {
		case nchess.King:
		case nchess.Knight:
			knights++
		case nchess.Bishop:
			bishops++
			bishopColors[(sq/8+sq%8)%2] = true
		default:
			other++
		}
	}
	if other > 0 {
		return false
	}
	minors := knights + bishops
	if minors <= 1 {
		return true
	}
	return knights == 0 && len(bishopColors) == 1
}

func halfMoveClock(fen string) (int, bool) {
	fields := strings.Fields(fen)
	if len(fields) < 5 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0, false
	}
	return n, true
}
