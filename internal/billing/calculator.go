package billing

import "github.com/shopspring/decimal"

// 金额保留小数位
const PriceScale int32 = 10

var one = decimal.NewFromInt(1)

// EffectiveRate 有效费率 = 基础价 × (1 + 加价率)
func EffectiveRate(base decimal.Decimal, markup decimal.NullDecimal) decimal.Decimal {
	if !markup.Valid {
		return base
	}
	return base.Mul(one.Add(markup.Decimal))
}

// Price 计算 tokens 的费用：tokens / 1e6 × 单价，四舍五入到 10 位小数
// tokens 为 0 时精确返回 0
func Price(tokens int64, pricePerMillion decimal.Decimal) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).Mul(pricePerMillion).Shift(-6).Round(PriceScale)
}

// Calculate 按输入/输出 token 分别计价后求和
func Calculate(usage Usage, model PricedModel) Charge {
	in := Price(usage.InputTokens, model.InputRate)
	out := Price(usage.OutputTokens, model.OutputRate)
	return Charge{
		InputCost:  in,
		OutputCost: out,
		Total:      in.Add(out),
	}
}
