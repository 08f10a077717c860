package decimalx

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PercentOf num / den * 100, den 为 0 时返回 0
func PercentOf(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den).Mul(hundred)
}

// Clamp 将 d 限制在 [lo, hi]
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(d, lo), hi)
}
