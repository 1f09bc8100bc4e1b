package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPrice(t *testing.T) {
	tests := []struct {
		name   string
		tokens int64
		price  string
		want   string
	}{
		{"一百万 token", 1_000_000, "0.03", "0.0300000000"},
		{"非整百万 token", 333333, "0.1", "0.0333333000"},
		{"非整百万 token 末位恰好进位", 333333, "0.00015", "0.0000500000"},
		{"零 token", 0, "100", "0.0000000000"},
		{"负数 token 视为零", -5, "100", "0.0000000000"},
		{"普通用量", 1000, "100", "0.1000000000"},
		{"恰好半位进位", 1, "0.00005", "0.0000000001"},
		{"不足半位舍去", 1, "0.00004", "0.0000000000"},
		{"超过十位小数四舍五入", 7, "0.0123456789", "0.0000000864"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Price(tt.tokens, d(tt.price))
			assert.Equal(t, tt.want, got.StringFixed(PriceScale))
		})
	}
}

func TestPrice_ZeroIsExact(t *testing.T) {
	assert.True(t, Price(0, d("12.5")).Equal(decimal.Zero))
	assert.True(t, Price(0, d("12.5")).IsZero())
}

func TestEffectiveRate(t *testing.T) {
	assert.True(t, EffectiveRate(d("100"), decimal.NullDecimal{}).Equal(d("100")))
	assert.True(t, EffectiveRate(d("100"), decimal.NewNullDecimal(d("0.2"))).Equal(d("120")))
	assert.True(t, EffectiveRate(d("100"), decimal.NewNullDecimal(decimal.Zero)).Equal(d("100")))
}

func TestCalculate(t *testing.T) {
	m := AIModel{
		ID:               "m1",
		Name:             "chat-pro",
		InputPricePer1M:  d("100"),
		OutputPricePer1M: d("200"),
	}

	charge := Calculate(Usage{InputTokens: 1000, OutputTokens: 500}, m.Priced())

	assert.True(t, charge.InputCost.Equal(d("0.1")), charge.InputCost.String())
	assert.True(t, charge.OutputCost.Equal(d("0.1")), charge.OutputCost.String())
	assert.True(t, charge.Total.Equal(d("0.2")), charge.Total.String())
}

func TestCalculate_WithMarkup(t *testing.T) {
	m := AIModel{
		InputPricePer1M:  d("100"),
		OutputPricePer1M: d("200"),
		MarkupRate:       decimal.NewNullDecimal(d("0.5")),
	}

	charge := Calculate(Usage{InputTokens: 1000, OutputTokens: 500}, m.Priced())
	assert.True(t, charge.Total.Equal(d("0.3")), charge.Total.String())
}

func TestCalculate_NoUsage(t *testing.T) {
	m := AIModel{InputPricePer1M: d("100"), OutputPricePer1M: d("200")}
	charge := Calculate(Usage{}, m.Priced())
	assert.True(t, charge.Total.IsZero())
}
