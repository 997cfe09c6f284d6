package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"freight-market/internal/apperror"
	"freight-market/internal/models"
	"freight-market/internal/quote"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pricingSetCols = []string{"id", "name", "version", "tarif_km_base_chf", "maj_carburant_pct", "maj_embouteillage_pct",
	"tva_rate_pct", "supplements", "is_active", "created_at", "updated_at"}

func pricingRow(id uuid.UUID, active bool, supplements string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(pricingSetCols).
		AddRow(id.String(), "Tarif 2026", 3, 0.85, 15.0, 5.0, 7.7, []byte(supplements), active, now, now)
}

func TestPricingService_CreatePricingSet(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	svc := NewPricingService(db, nil, newTestLogger())

	req := &models.PricingSetRequest{
		Name:        " Tarif 2026 ",
		Variables:   quote.Variables{TarifKmBaseCHF: 0.85, MajCarburantPct: 15, MajEmbouteillagePct: 5, TVARatePct: 7.7},
		Supplements: models.Supplements{{Nom: "Surcharge grue", Type: quote.SupplementPct, Montant: 20}},
	}

	mock.ExpectExec("INSERT INTO pricing_sets").
		WithArgs(sqlmock.AnyArg(), "Tarif 2026", 1, 0.85, 15.0, 5.0, 7.7, sqlmock.AnyArg(), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	set, err := svc.CreatePricingSet(context.Background(), adminProfile(), req)
	require.NoError(t, err)
	assert.Equal(t, "Tarif 2026", set.Name)
	assert.Equal(t, 1, set.Version)
	assert.False(t, set.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingService_CreatePricingSet_Validation(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()
	svc := NewPricingService(db, nil, newTestLogger())
	ctx := context.Background()

	cases := []*models.PricingSetRequest{
		{Name: ""},
		{Name: "x", Variables: quote.Variables{TarifKmBaseCHF: -1}},
		{Name: "x", Supplements: models.Supplements{{Nom: "a", Type: "bonus", Montant: 1}}},
		{Name: "x", Supplements: models.Supplements{{Nom: "", Type: quote.SupplementFixe, Montant: 1}}},
		{Name: "x", Supplements: models.Supplements{{Nom: "a", Type: quote.SupplementFixe, Montant: -3}}},
	}
	for _, req := range cases {
		_, err := svc.CreatePricingSet(ctx, adminProfile(), req)
		assert.True(t, apperror.Is(err, apperror.KindValidation), "expected validation error for %+v, got %v", req, err)
	}
}

func TestPricingService_CreatePricingSet_RequiresAdmin(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()
	svc := NewPricingService(db, nil, newTestLogger())

	_, err := svc.CreatePricingSet(context.Background(), memberOf(uuid.New(), models.CompanyRoleOwner), &models.PricingSetRequest{Name: "x"})
	assert.True(t, apperror.Is(err, apperror.KindForbidden))

	_, err = svc.CreatePricingSet(context.Background(), nil, &models.PricingSetRequest{Name: "x"})
	assert.True(t, apperror.Is(err, apperror.KindUnauthorized))
}

func TestPricingService_UpdatePricingSet_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	svc := NewPricingService(db, nil, newTestLogger())
	id := uuid.New()

	mock.ExpectQuery("UPDATE pricing_sets").WillReturnError(sql.ErrNoRows)

	_, err := svc.UpdatePricingSet(context.Background(), adminProfile(), id, &models.PricingSetRequest{Name: "x"})
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingService_ActivatePricingSet(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	client, mr := newTestRedis(t)
	svc := NewPricingService(db, client, newTestLogger())
	id := uuid.New()

	_ = mr.Set("pricing:active", `{"id":"stale"}`)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM pricing_sets WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectExec("UPDATE pricing_sets SET is_active = FALSE").
		WithArgs(sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE pricing_sets SET is_active = TRUE").
		WithArgs(sqlmock.AnyArg(), id).
		WillReturnRows(pricingRow(id, true, `[]`))
	mock.ExpectCommit()

	set, err := svc.ActivatePricingSet(context.Background(), adminProfile(), id)
	require.NoError(t, err)
	assert.True(t, set.IsActive)
	assert.False(t, mr.Exists("pricing:active"), "active cache must be invalidated")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingService_ActivatePricingSet_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	svc := NewPricingService(db, nil, newTestLogger())
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM pricing_sets").WithArgs(id).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.ActivatePricingSet(context.Background(), adminProfile(), id)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingService_ActivatePricingSet_ConcurrentActivation(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	svc := NewPricingService(db, nil, newTestLogger())
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM pricing_sets WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectExec("UPDATE pricing_sets SET is_active = FALSE").
		WithArgs(sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("UPDATE pricing_sets SET is_active = TRUE").
		WithArgs(sqlmock.AnyArg(), id).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "pricing_sets_single_active_idx"})
	mock.ExpectRollback()

	_, err := svc.ActivatePricingSet(context.Background(), adminProfile(), id)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingService_GetActivePricingSet_None(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	svc := NewPricingService(db, nil, newTestLogger())

	mock.ExpectQuery("FROM pricing_sets WHERE is_active").WillReturnError(sql.ErrNoRows)

	_, err := svc.GetActivePricingSet(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	assert.Equal(t, "no active pricing set", err.Error())
}

func TestPricingService_Quote_UsesCachedActiveSet(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	client, _ := newTestRedis(t)
	svc := NewPricingService(db, client, newTestLogger())
	id := uuid.New()

	// второй расчет должен взять набор из Redis
	mock.ExpectQuery("FROM pricing_sets WHERE is_active").
		WillReturnRows(pricingRow(id, true, `[{"nom":"Péage","type":"fixe","montant":15}]`))

	for i := 0; i < 2; i++ {
		res, err := svc.Quote(context.Background(), 100, 2)
		require.NoError(t, err)
		assert.InDelta(t, 170, res.PrixBaseHT, 1e-9)
		assert.InDelta(t, 219, res.PrixEstimeHT, 1e-9)
		assert.InDelta(t, 235.863, res.PrixEstimeTTC, 1e-9)
		assert.Equal(t, id, res.PricingSetID)
		assert.Equal(t, 3, res.Version)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingService_ListPricingSets(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	svc := NewPricingService(db, nil, newTestLogger())

	rows := pricingRow(uuid.New(), true, `[]`)
	rows.AddRow(uuid.New().String(), "Ancien", 1, 0.8, 10.0, 0.0, 7.7, []byte(`[]`), false, time.Now(), time.Now())
	mock.ExpectQuery("FROM pricing_sets ORDER BY is_active DESC").WillReturnRows(rows)

	sets, err := svc.ListPricingSets(context.Background())
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.True(t, sets[0].IsActive)
	assert.Equal(t, "Ancien", sets[1].Name)
}
