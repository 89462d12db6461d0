// Package position implements the position state machine and the
// participant margin and PnL accounting it drives. Functions here are pure:
// they validate, then mutate the records passed in, and never touch a store.
//
// Margin model: opening locks Margin(notional, leverage) from the virtual
// balance and adds the full notional to volume. Closing releases the
// position's locked margin and books realized PnL into the virtual balance.
// Equity is virtual balance - used margin + unrealized PnL.
package position

import (
	"fmt"

	"github.com/atmx/league-engine/internal/fixedpoint"
	"github.com/atmx/league-engine/internal/model"
)

// Init creates the Unopened position seq for a participant on market. last
// is the highest sequence already initialized for the participant.
func Init(part *model.Participant, seq, last uint64, marketKey string, market *model.Market) (*model.Position, error) {
	if err := CheckSequence(seq, last); err != nil {
		return nil, err
	}
	return &model.Position{
		League:         part.League,
		User:           part.User,
		Market:         marketKey,
		MarketDecimals: market.Decimals,
		PriceFeed:      market.PriceFeed,
		Seq:            seq,
	}, nil
}

// CheckSequence enforces gapless sequences starting at 1: seq must be
// exactly one past last.
func CheckSequence(seq, last uint64) error {
	if seq != last+1 {
		return fmt.Errorf("%w: got %d, want %d", model.ErrInvalidSequence, seq, last+1)
	}
	return nil
}

// OpenParams describes an open request.
type OpenParams struct {
	Direction   model.Direction
	Size        int64 // base units
	Leverage    uint8
	MaxLeverage uint8 // effective cap: min(market, league)
	Price       int64 // micro-units, read at call time
	Now         int64 // unix seconds
}

// Open moves pos from Unopened to Opened and locks margin on part.
func Open(pos *model.Position, part *model.Participant, p OpenParams) error {
	if pos.State() != model.PositionUnopened {
		return fmt.Errorf("%w: position %d is %s", model.ErrInvalidState, pos.Seq, pos.State())
	}
	switch {
	case !p.Direction.Valid():
		return fmt.Errorf("%w: direction %d", model.ErrInvalidParam, p.Direction)
	case p.Size <= 0:
		return fmt.Errorf("%w: size %d", model.ErrInvalidParam, p.Size)
	case p.Leverage == 0:
		return fmt.Errorf("%w: zero leverage", model.ErrInvalidParam)
	case p.Leverage > p.MaxLeverage:
		return fmt.Errorf("%w: %dx > %dx", model.ErrLeverageExceeded, p.Leverage, p.MaxLeverage)
	case p.Price <= 0:
		return fmt.Errorf("%w: price %d", model.ErrOracle, p.Price)
	case p.Now <= 0:
		return fmt.Errorf("%w: timestamp %d", model.ErrInvalidParam, p.Now)
	case len(part.OpenPositions) >= model.MaxOpenPositions:
		return fmt.Errorf("%w: %d open", model.ErrMaxOpenPositions, len(part.OpenPositions))
	}

	notional, err := fixedpoint.Notional(p.Price, p.Size, pos.MarketDecimals)
	if err != nil {
		return fmt.Errorf("%w: notional: %v", model.ErrInvalidParam, err)
	}
	if notional == 0 {
		return fmt.Errorf("%w: size %d below one micro-unit of notional", model.ErrInvalidParam, p.Size)
	}
	margin, err := fixedpoint.Margin(notional, p.Leverage)
	if err != nil {
		return fmt.Errorf("%w: margin: %v", model.ErrInvalidParam, err)
	}

	used, err := fixedpoint.Add(part.UsedMargin, margin)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInsufficientMargin, err)
	}
	if margin > part.AvailableMargin() || used > part.VirtualBalance+part.UnrealizedPnL {
		return fmt.Errorf("%w: need %s, available %s", model.ErrInsufficientMargin,
			fixedpoint.String(margin), fixedpoint.String(part.AvailableMargin()))
	}
	volume, err := fixedpoint.Add(part.TotalVolume, notional)
	if err != nil {
		return fmt.Errorf("%w: volume: %v", model.ErrInvalidParam, err)
	}

	pos.Direction = p.Direction
	pos.EntryPrice = p.Price
	pos.EntrySize = p.Size
	pos.Leverage = p.Leverage
	pos.Size = p.Size
	pos.Notional = notional
	pos.Margin = margin
	pos.UnrealizedPnL = 0
	pos.OpenedAt = p.Now

	part.UsedMargin = used
	part.TotalVolume = volume
	part.OpenPositions = append(part.OpenPositions, pos.Seq)
	if pos.Seq > part.CurrentPositionSeq {
		part.CurrentPositionSeq = pos.Seq
	}
	return nil
}

// Mark returns the unrealized PnL of pos at price.
func Mark(pos *model.Position, price int64) (int64, error) {
	if pos.State() != model.PositionOpened {
		return 0, nil
	}
	return fixedpoint.PnL(int64(pos.Direction), pos.EntryPrice, price, pos.Size, pos.MarketDecimals)
}

// Revalue marks every open position of part at its price and sets
// part.UnrealizedPnL to their sum. positions and prices are parallel.
func Revalue(part *model.Participant, positions []*model.Position, prices []int64) error {
	if len(positions) != len(prices) {
		return fmt.Errorf("%w: %d positions, %d prices", model.ErrInvalidParam, len(positions), len(prices))
	}
	var total int64
	for i, pos := range positions {
		if pos.State() != model.PositionOpened {
			return fmt.Errorf("%w: position %d is %s", model.ErrInvalidParam, pos.Seq, pos.State())
		}
		upnl, err := Mark(pos, prices[i])
		if err != nil {
			return fmt.Errorf("%w: mark %d: %v", model.ErrInvalidParam, pos.Seq, err)
		}
		pos.UnrealizedPnL = upnl
		if total, err = fixedpoint.Add(total, upnl); err != nil {
			return fmt.Errorf("%w: %v", model.ErrInvalidParam, err)
		}
	}
	part.UnrealizedPnL = total
	return nil
}

// CloseResult summarizes a close.
type CloseResult struct {
	ClosedSize int64 `json:"closed_size"`
	Realized   int64 `json:"realized_pnl"`
	Released   int64 `json:"released_margin"`
	Full       bool  `json:"full"`
}

// Close realizes size units of pos at price. size <= 0 or size >= pos.Size
// closes the whole position; anything smaller is a partial close that
// leaves the position Opened.
func Close(pos *model.Position, part *model.Participant, size, price, now int64) (CloseResult, error) {
	if pos.State() != model.PositionOpened {
		return CloseResult{}, fmt.Errorf("%w: position %d is %s", model.ErrInvalidState, pos.Seq, pos.State())
	}
	if price <= 0 {
		return CloseResult{}, fmt.Errorf("%w: price %d", model.ErrOracle, price)
	}
	full := size <= 0 || size >= pos.Size
	if full {
		size = pos.Size
	}

	pnl, err := fixedpoint.PnL(int64(pos.Direction), pos.EntryPrice, price, size, pos.MarketDecimals)
	if err != nil {
		return CloseResult{}, fmt.Errorf("%w: pnl: %v", model.ErrInvalidParam, err)
	}

	released, cached := pos.Margin, pos.UnrealizedPnL
	if !full {
		if released, err = fixedpoint.MulDiv(pos.Margin, size, pos.Size, fixedpoint.RoundDown); err != nil {
			return CloseResult{}, fmt.Errorf("%w: %v", model.ErrInvalidParam, err)
		}
		if cached, err = fixedpoint.MulDiv(pos.UnrealizedPnL, size, pos.Size, fixedpoint.RoundDown); err != nil {
			return CloseResult{}, fmt.Errorf("%w: %v", model.ErrInvalidParam, err)
		}
	}
	balance, err := fixedpoint.Add(part.VirtualBalance, pnl)
	if err != nil {
		return CloseResult{}, fmt.Errorf("%w: %v", model.ErrInvalidParam, err)
	}

	remaining := pos.Size - size
	notional, err := fixedpoint.Notional(pos.EntryPrice, remaining, pos.MarketDecimals)
	if err != nil {
		return CloseResult{}, fmt.Errorf("%w: %v", model.ErrInvalidParam, err)
	}

	part.VirtualBalance = balance
	part.UsedMargin -= released
	part.UnrealizedPnL -= cached

	pos.Size = remaining
	pos.Notional = notional
	pos.Margin -= released
	pos.UnrealizedPnL -= cached
	pos.ClosedSize += size
	pos.ClosedPrice = price
	pos.ClosedPnL += pnl

	if full {
		if now < pos.OpenedAt {
			now = pos.OpenedAt
		}
		pos.ClosedAt = now
		pos.ClosedEquity = part.Equity()
		part.RemoveOpen(pos.Seq)
	}
	return CloseResult{ClosedSize: size, Realized: pnl, Released: released, Full: full}, nil
}
