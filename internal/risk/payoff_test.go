package risk

import (
	"math"
	"testing"

	"optbacktest/internal/market"
)

func TestMaxLossGain_ShortCall(t *testing.T) {
	legs := []Leg{{OptionType: market.Call, Strike: 100, Side: -1, Quantity: 1, Multiplier: 100}}

	// Credit of 500 is a cost basis of -500.
	b := MaxLossGain(legs, -500, 100)
	if !b.UnboundedRisk {
		t.Error("expected unbounded risk")
	}
	if b.UnboundedGain {
		t.Error("expected bounded gain")
	}
	if !math.IsInf(b.MaxLoss, 1) {
		t.Errorf("expected +Inf max loss, got %v", b.MaxLoss)
	}
	if b.MaxGain != 500 {
		t.Errorf("expected max gain 500, got %v", b.MaxGain)
	}
}

func TestMaxLossGain_LongCall(t *testing.T) {
	legs := []Leg{{OptionType: market.Call, Strike: 100, Side: 1, Quantity: 1, Multiplier: 100}}
	b := MaxLossGain(legs, 250, 100)
	if !b.UnboundedGain || b.UnboundedRisk {
		t.Fatalf("expected unbounded gain only, got %+v", b)
	}
	if b.MaxLoss != 250 {
		t.Errorf("expected max loss 250, got %v", b.MaxLoss)
	}
}

func TestMaxLossGain_IronCondor(t *testing.T) {
	legs := []Leg{
		{OptionType: market.Put, Strike: 90, Side: 1, Quantity: 1, Multiplier: 100},
		{OptionType: market.Put, Strike: 95, Side: -1, Quantity: 1, Multiplier: 100},
		{OptionType: market.Call, Strike: 105, Side: -1, Quantity: 1, Multiplier: 100},
		{OptionType: market.Call, Strike: 110, Side: 1, Quantity: 1, Multiplier: 100},
	}
	// Net credit 200.
	b := MaxLossGain(legs, -200, 100)
	if b.UnboundedRisk || b.UnboundedGain {
		t.Fatalf("expected bounded condor, got %+v", b)
	}
	if b.MaxLoss != 300 {
		t.Errorf("expected max loss 300, got %v", b.MaxLoss)
	}
	if b.MaxGain != 200 {
		t.Errorf("expected max gain 200, got %v", b.MaxGain)
	}
}

func TestMaxLossGain_CallBackspreadHasUnboundedGain(t *testing.T) {
	legs := []Leg{
		{OptionType: market.Call, Strike: 100, Side: -1, Quantity: 1, Multiplier: 100},
		{OptionType: market.Call, Strike: 105, Side: 1, Quantity: 2, Multiplier: 100},
	}
	b := MaxLossGain(legs, -100, 100)
	if !b.UnboundedGain {
		t.Error("expected unbounded gain")
	}
	// Worst case at S = 105: -500 payoff plus the 100 credit.
	if b.MaxLoss != 400 {
		t.Errorf("expected max loss 400, got %v", b.MaxLoss)
	}
}

func TestMaxLossGain_GainClippedAtZero(t *testing.T) {
	// Overpaid put spread can never profit.
	legs := []Leg{
		{OptionType: market.Put, Strike: 100, Side: 1, Quantity: 1, Multiplier: 100},
		{OptionType: market.Put, Strike: 95, Side: -1, Quantity: 1, Multiplier: 100},
	}
	b := MaxLossGain(legs, 700, 100)
	if b.MaxGain != 0 {
		t.Errorf("expected max gain 0, got %v", b.MaxGain)
	}
	if b.MaxLoss != 700 {
		t.Errorf("expected max loss 700, got %v", b.MaxLoss)
	}
}

func TestMaxLossGain_DefaultMultiplier(t *testing.T) {
	legs := []Leg{{OptionType: market.Put, Strike: 50, Side: 1, Quantity: 1, Multiplier: math.NaN()}}
	b := MaxLossGain(legs, 100, 10)
	if b.MaxGain != 400 {
		t.Errorf("expected max gain 400, got %v", b.MaxGain)
	}
}

func TestMaxLossGain_Undefined(t *testing.T) {
	b := MaxLossGain(nil, 100, 100)
	if !math.IsNaN(b.MaxLoss) || !math.IsNaN(b.MaxGain) || b.UnboundedRisk || b.UnboundedGain {
		t.Errorf("expected undefined bounds for no legs, got %+v", b)
	}

	legs := []Leg{{OptionType: market.Call, Strike: 100, Side: 1, Quantity: 1, Multiplier: 100}}
	b = MaxLossGain(legs, math.NaN(), 100)
	if !math.IsNaN(b.MaxLoss) {
		t.Errorf("expected NaN max loss for NaN cost, got %v", b.MaxLoss)
	}

	bad := []Leg{{OptionType: "X", Strike: 100, Side: 1, Quantity: 1, Multiplier: 100}}
	b = MaxLossGain(bad, 100, 100)
	if !math.IsNaN(b.MaxGain) {
		t.Errorf("expected NaN max gain for unknown option type, got %v", b.MaxGain)
	}
}
