// Package quote рассчитывает оценочную стоимость перевозки по активному набору тарифов.
package quote

import "math"

// SupplementType определяет, как интерпретируется сумма надбавки
type SupplementType string

const (
	SupplementPct  SupplementType = "pct"  // процент от базовой цены
	SupplementFixe SupplementType = "fixe" // фиксированная сумма
)

// Currency - единственная валюта расчетов
const Currency = "CHF"

// Variables - тарифные переменные активного набора
type Variables struct {
	TarifKmBaseCHF      float64 `json:"tarif_km_base_chf"`
	MajCarburantPct     float64 `json:"maj_carburant_pct"`
	MajEmbouteillagePct float64 `json:"maj_embouteillage_pct"`
	TVARatePct          float64 `json:"tva_rate_pct"`
}

// Supplement - именованная надбавка
type Supplement struct {
	Nom     string         `json:"nom"`
	Type    SupplementType `json:"type"`
	Montant float64        `json:"montant"`
}

// Line - строка детализации: одна примененная надбавка
type Line struct {
	Label  string         `json:"label"`
	Type   SupplementType `json:"type"`
	Rate   float64        `json:"rate"`
	Amount float64        `json:"amount"`
}

// Result - трехуровневая цена. Округление не выполняется.
type Result struct {
	PrixBaseHT    float64 `json:"prix_base_ht"`
	PrixEstimeHT  float64 `json:"prix_estime_ht"`
	PrixEstimeTTC float64 `json:"prix_estime_ttc"`
	Currency      string  `json:"currency"`
	Breakdown     []Line  `json:"breakdown"`
}

const (
	labelCarburant     = "Majoration carburant"
	labelEmbouteillage = "Majoration embouteillage"
)

// Calculate считает цену по расстоянию и площади.
// Некорректные числа (NaN, ±Inf, отрицательные) считаются нулем, ошибок нет.
func Calculate(distanceKm, surfaceM2 float64, vars Variables, supplements []Supplement) Result {
	base := sanitize(distanceKm) * sanitize(surfaceM2) * sanitize(vars.TarifKmBaseCHF)

	res := Result{
		PrixBaseHT: base,
		Currency:   Currency,
		Breakdown:  make([]Line, 0, len(supplements)+2),
	}

	total := base
	// встроенные надбавки считаются от базы, не каскадом
	for _, builtin := range []struct {
		label string
		pct   float64
	}{
		{labelCarburant, vars.MajCarburantPct},
		{labelEmbouteillage, vars.MajEmbouteillagePct},
	} {
		pct := sanitize(builtin.pct)
		amount := base * pct / 100
		total += amount
		res.Breakdown = append(res.Breakdown, Line{Label: builtin.label, Type: SupplementPct, Rate: pct, Amount: amount})
	}

	for _, s := range supplements {
		montant := sanitize(s.Montant)
		var amount float64
		switch s.Type {
		case SupplementPct:
			amount = base * montant / 100
		case SupplementFixe:
			amount = montant
		default:
			continue
		}
		total += amount
		res.Breakdown = append(res.Breakdown, Line{Label: s.Nom, Type: s.Type, Rate: montant, Amount: amount})
	}

	res.PrixEstimeHT = total
	res.PrixEstimeTTC = total * (1 + sanitize(vars.TVARatePct)/100)
	return res
}

// Valid сообщает, известен ли тип надбавки
func (t SupplementType) Valid() bool {
	return t == SupplementPct || t == SupplementFixe
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
