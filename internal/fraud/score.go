package fraud

import (
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"
)

const MaxJitter = 0.1

var (
	highAmount   = decimal.NewFromInt(1000)
	mediumAmount = decimal.NewFromInt(500)
)

type Input struct {
	Amount        decimal.Decimal
	CustomerID    string
	PaymentMethod string
}

// Score combines the rule weights with jitter and clamps the result to [0, 1].
// jitter outside [-MaxJitter, MaxJitter] is clamped first.
func Score(in Input, jitter float64) float64 {
	score := decimal.Zero
	switch {
	case in.Amount.GreaterThan(highAmount):
		score = score.Add(decimal.RequireFromString("0.3"))
	case in.Amount.GreaterThan(mediumAmount):
		score = score.Add(decimal.RequireFromString("0.2"))
	}
	if strings.HasPrefix(in.CustomerID, "new-") {
		score = score.Add(decimal.RequireFromString("0.4"))
	}
	if in.PaymentMethod == "crypto" {
		score = score.Add(decimal.RequireFromString("0.2"))
	}

	score = score.Add(decimal.NewFromFloat(clamp(jitter, -MaxJitter, MaxJitter)))
	f, _ := score.Float64()
	return clamp(f, 0, 1)
}

// Jitter draws a value in [-MaxJitter, MaxJitter].
type Jitter func(orderID string) float64

// OrderJitter seeds the draw from the order id, so a redelivered message gets the same score.
func OrderJitter(orderID string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(orderID))
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	return (r.Float64()*2 - 1) * MaxJitter
}

func NoJitter(string) float64 { return 0 }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
