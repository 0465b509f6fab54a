package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telshop/storefront/internal/domain/promo"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func validRule(kind promo.Kind, value, minOrder string) *promo.Rule {
	return &promo.Rule{
		Code:           "TEST",
		Kind:           kind,
		Value:          dec(value),
		MinOrderAmount: dec(minOrder),
		ValidFrom:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:         true,
	}
}

func TestCompute(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	policy := DefaultPolicy()

	tests := []struct {
		name          string
		lines         []Line
		rule          *promo.Rule
		wantSubtotal  string
		wantLineDisc  string
		wantPromoDisc string
		wantDelivery  string
		wantFinal     string
	}{
		{
			name: "single discounted line below threshold",
			lines: []Line{
				{ProductID: "p1", Quantity: 2, UnitPrice: dec("1000"), PriorPrice: dec("1200")},
			},
			wantSubtotal:  "2000",
			wantLineDisc:  "400",
			wantPromoDisc: "0",
			wantDelivery:  "299",
			wantFinal:     "1899",
		},
		{
			name: "net one unit below threshold pays delivery",
			lines: []Line{
				{ProductID: "p1", Quantity: 1, UnitPrice: dec("2999")},
			},
			wantSubtotal:  "2999",
			wantLineDisc:  "0",
			wantPromoDisc: "0",
			wantDelivery:  "299",
			wantFinal:     "3298",
		},
		{
			name: "net at threshold ships free",
			lines: []Line{
				{ProductID: "p1", Quantity: 1, UnitPrice: dec("3000")},
			},
			wantSubtotal:  "3000",
			wantLineDisc:  "0",
			wantPromoDisc: "0",
			wantDelivery:  "0",
			wantFinal:     "3000",
		},
		{
			name: "percentage promo rounds half up",
			lines: []Line{
				{ProductID: "p1", Quantity: 1, UnitPrice: dec("1333")},
			},
			rule:          validRule(promo.KindPercentage, "15", "0"),
			wantSubtotal:  "1333",
			wantLineDisc:  "0",
			wantPromoDisc: "199.95",
			wantDelivery:  "299",
			wantFinal:     "1432.05",
		},
		{
			name: "fixed promo capped at net",
			lines: []Line{
				{ProductID: "p1", Quantity: 1, UnitPrice: dec("500")},
			},
			rule:          validRule(promo.KindFixed, "800", "0"),
			wantSubtotal:  "500",
			wantLineDisc:  "0",
			wantPromoDisc: "500",
			wantDelivery:  "0",
			wantFinal:     "0",
		},
		{
			name: "free shipping promo zeroes delivery only",
			lines: []Line{
				{ProductID: "p1", Quantity: 1, UnitPrice: dec("1500")},
			},
			rule:          validRule(promo.KindFreeShipping, "0", "0"),
			wantSubtotal:  "1500",
			wantLineDisc:  "0",
			wantPromoDisc: "0",
			wantDelivery:  "0",
			wantFinal:     "1500",
		},
		{
			name: "promo below minimum order contributes nothing",
			lines: []Line{
				{ProductID: "p1", Quantity: 1, UnitPrice: dec("900")},
			},
			rule:          validRule(promo.KindPercentage, "10", "1000"),
			wantSubtotal:  "900",
			wantLineDisc:  "0",
			wantPromoDisc: "0",
			wantDelivery:  "299",
			wantFinal:     "1199",
		},
		{
			name: "line discounts count toward promo minimum",
			lines: []Line{
				{ProductID: "p1", Quantity: 2, UnitPrice: dec("600"), PriorPrice: dec("700")},
			},
			rule:          validRule(promo.KindPercentage, "10", "1200"),
			wantSubtotal:  "1200",
			wantLineDisc:  "200",
			wantPromoDisc: "0",
			wantDelivery:  "299",
			wantFinal:     "1299",
		},
		{
			name: "promo discount can drop net below free delivery threshold",
			lines: []Line{
				{ProductID: "p1", Quantity: 1, UnitPrice: dec("3100")},
			},
			rule:          validRule(promo.KindFixed, "200", "0"),
			wantSubtotal:  "3100",
			wantLineDisc:  "0",
			wantPromoDisc: "200",
			wantDelivery:  "299",
			wantFinal:     "3199",
		},
		{
			name: "prior price at or below current yields no line discount",
			lines: []Line{
				{ProductID: "p1", Quantity: 3, UnitPrice: dec("400"), PriorPrice: dec("400")},
				{ProductID: "p2", Quantity: 1, UnitPrice: dec("500"), PriorPrice: dec("450")},
			},
			wantSubtotal:  "1700",
			wantLineDisc:  "0",
			wantPromoDisc: "0",
			wantDelivery:  "299",
			wantFinal:     "1999",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.lines, tt.rule, now, policy)

			assert.True(t, dec(tt.wantSubtotal).Equal(got.Subtotal), "subtotal: want %s, got %s", tt.wantSubtotal, got.Subtotal)
			assert.True(t, dec(tt.wantLineDisc).Equal(got.LineDiscount), "line discount: want %s, got %s", tt.wantLineDisc, got.LineDiscount)
			assert.True(t, dec(tt.wantPromoDisc).Equal(got.PromoDiscount), "promo discount: want %s, got %s", tt.wantPromoDisc, got.PromoDiscount)
			assert.True(t, dec(tt.wantDelivery).Equal(got.DeliveryCost), "delivery: want %s, got %s", tt.wantDelivery, got.DeliveryCost)
			assert.True(t, dec(tt.wantFinal).Equal(got.FinalPrice), "final: want %s, got %s", tt.wantFinal, got.FinalPrice)

			// The breakdown identity must hold for every computation.
			identity := got.Subtotal.Sub(got.LineDiscount).Sub(got.PromoDiscount).Add(got.DeliveryCost)
			assert.True(t, identity.Equal(got.FinalPrice), "identity: %s != %s", identity, got.FinalPrice)
		})
	}
}

func TestComputeEmpty(t *testing.T) {
	got := Compute(nil, nil, time.Now(), DefaultPolicy())

	require.True(t, got.FinalPrice.IsZero())
	require.True(t, got.DeliveryCost.IsZero())
	require.True(t, got.FreeDelivery)
}

func TestComputeExpiredRuleIgnored(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	rule := validRule(promo.KindPercentage, "50", "0")
	rule.ValidUntil = now.Add(-time.Hour)

	got := Compute([]Line{{ProductID: "p1", Quantity: 1, UnitPrice: dec("1000")}}, rule, now, DefaultPolicy())

	assert.True(t, got.PromoDiscount.IsZero())
	assert.True(t, dec("1299").Equal(got.FinalPrice))
}

func TestComputeExhaustedRuleIgnored(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	rule := validRule(promo.KindPercentage, "50", "0")
	rule.MaxUses = 10
	rule.Uses = 10

	got := Compute([]Line{{ProductID: "p1", Quantity: 1, UnitPrice: dec("1000")}}, rule, now, DefaultPolicy())

	assert.True(t, got.PromoDiscount.IsZero())
}

func TestAmountToFreeDelivery(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Now()

	got := Compute([]Line{{ProductID: "p1", Quantity: 1, UnitPrice: dec("2500")}}, nil, now, policy)
	missing := AmountToFreeDelivery(got, policy)
	assert.True(t, dec("500").Equal(missing), "want 500, got %s", missing)

	free := Compute([]Line{{ProductID: "p1", Quantity: 2, UnitPrice: dec("2500")}}, nil, now, policy)
	assert.True(t, AmountToFreeDelivery(free, policy).IsZero())
}
