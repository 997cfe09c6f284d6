package quote

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func baseVars() Variables {
	return Variables{
		TarifKmBaseCHF:      0.85,
		MajCarburantPct:     15,
		MajEmbouteillagePct: 5,
		TVARatePct:          7.7,
	}
}

func TestCalculate_Scenarios(t *testing.T) {
	tests := []struct {
		name        string
		distance    float64
		surface     float64
		vars        Variables
		supplements []Supplement
		wantBase    float64
		wantHT      float64
		wantTTC     float64
	}{
		{
			name:     "built-in surcharges only",
			distance: 100, surface: 2, vars: baseVars(),
			wantBase: 170, wantHT: 204, wantTTC: 219.708,
		},
		{
			name:     "crane percentage supplement",
			distance: 100, surface: 2, vars: baseVars(),
			supplements: []Supplement{{Nom: "Surcharge grue", Type: SupplementPct, Montant: 20}},
			wantBase:    170, wantHT: 238, wantTTC: 256.326,
		},
		{
			name:     "toll fixed supplement",
			distance: 100, surface: 2, vars: baseVars(),
			supplements: []Supplement{{Nom: "Péage", Type: SupplementFixe, Montant: 15}},
			wantBase:    170, wantHT: 219, wantTTC: 235.863,
		},
		{
			name:     "zero distance keeps fixed supplements",
			distance: 0, surface: 5, vars: Variables{TarifKmBaseCHF: 1},
			supplements: []Supplement{{Type: SupplementFixe, Montant: 10}},
			wantBase:    0, wantHT: 10, wantTTC: 10,
		},
		{
			name:     "all zero",
			wantBase: 0, wantHT: 0, wantTTC: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Calculate(tt.distance, tt.surface, tt.vars, tt.supplements)
			assert.InDelta(t, tt.wantBase, res.PrixBaseHT, eps)
			assert.InDelta(t, tt.wantHT, res.PrixEstimeHT, eps)
			assert.InDelta(t, tt.wantTTC, res.PrixEstimeTTC, eps)
			assert.Equal(t, Currency, res.Currency)
		})
	}
}

func TestCalculate_InvalidInputsBecomeZero(t *testing.T) {
	supp := []Supplement{
		{Nom: "pct", Type: SupplementPct, Montant: 50},
		{Nom: "fixe", Type: SupplementFixe, Montant: 12.5},
	}
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -10} {
		res := Calculate(bad, 3, baseVars(), supp)
		assert.Equal(t, 0.0, res.PrixBaseHT)
		assert.InDelta(t, 12.5, res.PrixEstimeHT, eps)
		assert.InDelta(t, 12.5*1.077, res.PrixEstimeTTC, eps)

		res = Calculate(10, bad, baseVars(), nil)
		assert.Equal(t, 0.0, res.PrixBaseHT)
		assert.Equal(t, 0.0, res.PrixEstimeTTC)
	}

	res := Calculate(10, 1, Variables{TarifKmBaseCHF: 1, MajCarburantPct: -20, TVARatePct: math.NaN()},
		[]Supplement{{Type: SupplementFixe, Montant: -5}})
	assert.InDelta(t, 10, res.PrixBaseHT, eps)
	assert.InDelta(t, 10, res.PrixEstimeHT, eps)
	assert.InDelta(t, 10, res.PrixEstimeTTC, eps)
}

func TestCalculate_UnknownSupplementTypeIgnored(t *testing.T) {
	res := Calculate(100, 2, baseVars(), []Supplement{{Nom: "mystery", Type: "bonus", Montant: 99}})
	assert.InDelta(t, 204, res.PrixEstimeHT, eps)
	require.Len(t, res.Breakdown, 2)
}

func TestCalculate_Properties(t *testing.T) {
	cases := []struct{ d, s, tarif float64 }{
		{1, 1, 1}, {12.3, 4.56, 0.789}, {250, 13, 0.42}, {0, 10, 2},
	}
	for _, c := range cases {
		vars := Variables{TarifKmBaseCHF: c.tarif}
		res := Calculate(c.d, c.s, vars, nil)
		assert.InDelta(t, c.d*c.s*c.tarif, res.PrixBaseHT, eps)
		// без надбавок и налога все три уровня совпадают
		assert.InDelta(t, res.PrixBaseHT, res.PrixEstimeHT, eps)
		assert.InDelta(t, res.PrixEstimeHT, res.PrixEstimeTTC, eps)

		vars.MajCarburantPct = 10
		vars.TVARatePct = 8.1
		full := Calculate(c.d, c.s, vars, []Supplement{{Type: SupplementFixe, Montant: 3}})
		assert.GreaterOrEqual(t, full.PrixEstimeHT, full.PrixBaseHT)
		assert.InDelta(t, full.PrixEstimeHT*1.081, full.PrixEstimeTTC, eps)
	}
}

func TestCalculate_Deterministic(t *testing.T) {
	supp := []Supplement{{Nom: "a", Type: SupplementPct, Montant: 3}, {Nom: "b", Type: SupplementFixe, Montant: 7}}
	first := Calculate(42, 3.5, baseVars(), supp)
	second := Calculate(42, 3.5, baseVars(), supp)
	assert.Equal(t, first, second)
}

func TestCalculate_BreakdownOrder(t *testing.T) {
	supp := []Supplement{
		{Nom: "Surcharge grue", Type: SupplementPct, Montant: 20},
		{Nom: "Péage", Type: SupplementFixe, Montant: 15},
	}
	res := Calculate(100, 2, baseVars(), supp)
	require.Len(t, res.Breakdown, 4)
	assert.Equal(t, labelCarburant, res.Breakdown[0].Label)
	assert.Equal(t, labelEmbouteillage, res.Breakdown[1].Label)
	assert.Equal(t, "Surcharge grue", res.Breakdown[2].Label)
	assert.InDelta(t, 34, res.Breakdown[2].Amount, eps)
	assert.Equal(t, "Péage", res.Breakdown[3].Label)
	assert.InDelta(t, 15, res.Breakdown[3].Amount, eps)

	var sum float64
	for _, l := range res.Breakdown {
		sum += l.Amount
	}
	assert.InDelta(t, res.PrixEstimeHT-res.PrixBaseHT, sum, eps)
}

func TestSupplementType_Valid(t *testing.T) {
	assert.True(t, SupplementPct.Valid())
	assert.True(t, SupplementFixe.Valid())
	assert.False(t, SupplementType("other").Valid())
}
