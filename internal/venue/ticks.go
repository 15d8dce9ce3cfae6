package venue

import "github.com/shopspring/decimal"

// FloorToTick rounds value down onto the tick grid. A non-positive tick
// returns the value unchanged.
func FloorToTick(value, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return value
	}
	return value.Div(tick).Floor().Mul(tick)
}

// CeilToTick rounds value up onto the tick grid.
func CeilToTick(value, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return value
	}
	return value.Div(tick).Ceil().Mul(tick)
}

// RoundToTick rounds value to the nearest grid point, half away from zero.
func RoundToTick(value, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return value
	}
	return value.Div(tick).Round(0).Mul(tick)
}

// CrossPrice offsets ref by crossTicks price ticks in the taking direction:
// up for buys, down for sells. Sell prices are floored at one tick.
func CrossPrice(ref, priceTick decimal.Decimal, side Side, crossTicks int) decimal.Decimal {
	offset := priceTick.Mul(decimal.NewFromInt(int64(crossTicks)))
	if side == Buy {
		return ref.Add(offset)
	}
	crossed := ref.Sub(offset)
	if !crossed.IsPositive() {
		return priceTick
	}
	return crossed
}
