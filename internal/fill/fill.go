// Package fill simulates order fills against an externally supplied depth
// snapshot. It walks book levels best-first, consuming size level by level,
// and produces a size-weighted average fill price. Nothing here mutates
// state; the engine decides what to do with the result.
package fill

import (
	"errors"

	"github.com/polyprop/polyprop/internal/domain"
)

// ErrInsufficientDepth is returned when the book cannot absorb the requested
// amount.
var ErrInsufficientDepth = errors.New("fill: insufficient book depth")

// sizeEpsilon absorbs float drift when deciding whether a walk fully
// consumed the requested amount.
const sizeEpsilon = 1e-9

// Result is one simulated fill.
type Result struct {
	Shares   float64
	AvgPrice float64 // size-weighted
	Notional float64 // dollars exchanged
}

// BuyNotional walks ask levels spending up to notional dollars and returns
// the shares acquired. Levels must be sorted best (lowest) first.
func BuyNotional(asks []domain.PriceLevel, notional float64) (Result, error) {
	if notional <= 0 {
		return Result{}, errors.New("fill: notional must be positive")
	}

	remaining := notional
	var shares float64
	for _, lvl := range asks {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}
		levelCost := lvl.Price * lvl.Size
		if remaining <= levelCost+sizeEpsilon {
			shares += remaining / lvl.Price
			remaining = 0
			break
		}
		shares += lvl.Size
		remaining -= levelCost
	}
	if remaining > sizeEpsilon {
		return Result{}, ErrInsufficientDepth
	}

	return Result{
		Shares:   shares,
		AvgPrice: notional / shares,
		Notional: notional,
	}, nil
}

// SellShares walks bid levels selling the given share quantity and returns
// the proceeds. Levels must be sorted best (highest) first.
func SellShares(bids []domain.PriceLevel, shares float64) (Result, error) {
	if shares <= 0 {
		return Result{}, errors.New("fill: shares must be positive")
	}

	remaining := shares
	var proceeds float64
	for _, lvl := range bids {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}
		take := lvl.Size
		if remaining <= take+sizeEpsilon {
			take = remaining
		}
		proceeds += take * lvl.Price
		remaining -= take
		if remaining <= sizeEpsilon {
			remaining = 0
			break
		}
	}
	if remaining > sizeEpsilon {
		return Result{}, ErrInsufficientDepth
	}

	return Result{
		Shares:   shares,
		AvgPrice: proceeds / shares,
		Notional: proceeds,
	}, nil
}

// DirectionBook returns the bid and ask levels as seen by a trader of the
// given direction. Books are quoted in YES terms; for NO the sides swap and
// prices invert (a resting YES bid at p is willing liquidity for a NO buyer
// at 1-p). Sort order is preserved: the inversion maps best-first YES bids
// onto best-first NO asks and vice versa.
func DirectionBook(book domain.OrderbookSnapshot, dir domain.Direction) (bids, asks []domain.PriceLevel) {
	if dir != domain.DirectionNo {
		return book.Bids, book.Asks
	}

	asks = make([]domain.PriceLevel, 0, len(book.Bids))
	for _, lvl := range book.Bids {
		asks = append(asks, domain.PriceLevel{Price: 1 - lvl.Price, Size: lvl.Size})
	}
	bids = make([]domain.PriceLevel, 0, len(book.Asks))
	for _, lvl := range book.Asks {
		bids = append(bids, domain.PriceLevel{Price: 1 - lvl.Price, Size: lvl.Size})
	}
	return bids, asks
}
