package shared

import "github.com/shopspring/decimal"

var (
	// Cent is the smallest currency unit; balances below it count as settled.
	Cent    = decimal.New(1, -2)
	hundred = decimal.NewFromInt(100)
)

// RoundMoney quantises an amount to currency cents, rounding half away from zero.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Qty lifts an integer quantity into decimal arithmetic.
func Qty(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// LineTotal returns round2(qty × unit).
func LineTotal(qty int, unit decimal.Decimal) decimal.Decimal {
	return RoundMoney(Qty(qty).Mul(unit))
}

// PercentOf returns value × pct / 100 without rounding.
func PercentOf(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(hundred)
}

// ApplyPercent returns value × (1 + pct/100) without rounding. Negative pct discounts.
func ApplyPercent(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
}

// MaxZero clamps negative amounts to zero.
func MaxZero(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// SumMoney adds amounts and rounds the result.
func SumMoney(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return RoundMoney(total)
}

// FormatMoney renders an amount with two decimals for user messages.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
