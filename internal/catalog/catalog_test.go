package catalog

import (
	"context"
	"testing"

	"retailpos/internal/apierror"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository/repotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var branch = uuid.New()

func strPtr(s string) *string { return &s }

func storable() *model.Product {
	return &model.Product{ID: uuid.New(), Storable: &model.Storable{ID: uuid.New()}}
}

func newCatalog(t *testing.T) (*Catalog, *repotest.Sellables) {
	t.Helper()
	repo := &repotest.Sellables{}
	return New(repo, "pt-BR", nil), repo
}

func TestParseScaleBarcode_WeightFormat(t *testing.T) {
	sb, ok := ParseScaleBarcode("2001230015000", 4)
	require.True(t, ok)
	assert.Equal(t, "00123", sb.Code)
	assert.Equal(t, ScaleWeight, sb.Mode)
	assert.Equal(t, "1.500", sb.Weight.Fixed())
}

func TestParseScaleBarcode_PriceFormats(t *testing.T) {
	sb, ok := ParseScaleBarcode("2012340123450", 0)
	require.True(t, ok)
	assert.Equal(t, "0123", sb.Code)
	assert.Equal(t, ScalePrice, sb.Mode)
	assert.Equal(t, "123.45", sb.Price.String())

	sb, ok = ParseScaleBarcode("2123456049900", 2)
	require.True(t, ok)
	assert.Equal(t, "123456", sb.Code)
	assert.Equal(t, "49.90", sb.Price.String())
}

func TestParseScaleBarcode_Rejects(t *testing.T) {
	for name, tc := range map[string]struct {
		text   string
		format int
	}{
		"disabled":       {"2001230015000", ScaleDisabled},
		"unknown format": {"2001230015000", 9},
		"wrong prefix":   {"7891234567895", 4},
		"too short":      {"200123001500", 4},
		"not digits":     {"20012300150A0", 4},
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := ParseScaleBarcode(tc.text, tc.format)
			assert.False(t, ok)
		})
	}
}

func TestValidateBarcode(t *testing.T) {
	assert.NoError(t, ValidateBarcode("12345678901234"))
	err := ValidateBarcode("123456789012345")
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindValidation))
	assert.Error(t, ValidateBarcode("   "))
}

func TestResolve_ScaleWeight(t *testing.T) {
	c, repo := newCatalog(t)
	cheese := repo.Add(&model.Sellable{Code: "00123", Description: "Cheese", BasePrice: money.MustCurrency("40.00"), Product: storable()})

	res, err := c.Resolve(context.Background(), nil, "2001230015000", branch, Options{ScaleFormat: 4})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, cheese.ID, res.Sellable.ID)
	require.NotNil(t, res.Quantity)
	assert.Equal(t, "1.500", res.Quantity.Fixed())
}

func TestResolve_ScalePriceDerivesWeight(t *testing.T) {
	c, repo := newCatalog(t)
	repo.Add(&model.Sellable{Code: "0123", Description: "Ham", BasePrice: money.MustCurrency("20.00")})

	// price 15.00 at 20.00/kg
	res, err := c.Resolve(context.Background(), nil, "2012340015000", branch, Options{ScaleFormat: 0})
	require.NoError(t, err)
	require.NotNil(t, res.Quantity)
	assert.Equal(t, "0.750", res.Quantity.Fixed())
}

func TestResolve_UnknownScaleCodeUsesFallback(t *testing.T) {
	c, repo := newCatalog(t)
	generic := repo.Add(&model.Sellable{Code: "W", Description: "Weighed goods", BasePrice: money.MustCurrency("10.00")})

	res, err := c.Resolve(context.Background(), nil, "2999990015000", branch, Options{ScaleFormat: 4, ScaleFallback: &generic.ID})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, generic.ID, res.Sellable.ID)
	assert.Equal(t, "1.500", res.Quantity.Fixed())

	res, err = c.Resolve(context.Background(), nil, "2999990015000", branch, Options{ScaleFormat: 4})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_BarcodeBeforeCode(t *testing.T) {
	c, repo := newCatalog(t)
	byCode := repo.Add(&model.Sellable{Code: "789", Description: "By code"})
	byBarcode := repo.Add(&model.Sellable{Code: "X1", Barcode: strPtr("789"), Description: "By barcode"})

	res, err := c.Resolve(context.Background(), nil, "789", branch, Options{ScaleFormat: ScaleDisabled})
	require.NoError(t, err)
	assert.Equal(t, byBarcode.ID, res.Sellable.ID)
	assert.NotEqual(t, byCode.ID, res.Sellable.ID)
}

func TestResolve_CaseInsensitiveCodeAndBatch(t *testing.T) {
	c, repo := newCatalog(t)
	s := repo.Add(&model.Sellable{Code: "abc", Description: "Milk", Product: storable()})
	batch := repo.AddBatch(s, "L-77", branch, money.QuantityFromInt(3))

	res, err := c.Resolve(context.Background(), nil, "ABC", branch, Options{ScaleFormat: ScaleDisabled})
	require.NoError(t, err)
	assert.Equal(t, s.ID, res.Sellable.ID)
	assert.Nil(t, res.Batch)

	res, err = c.Resolve(context.Background(), nil, "l-77", branch, Options{ScaleFormat: ScaleDisabled})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, s.ID, res.Sellable.ID)
	assert.Equal(t, batch.ID, res.Batch.ID)
}

func TestResolve_InvisibleSellables(t *testing.T) {
	c, repo := newCatalog(t)
	other := uuid.New()
	repo.Add(&model.Sellable{Code: "closed", Status: model.SellableClosed})
	repo.Add(&model.Sellable{Code: "elsewhere", BranchID: &other})
	repo.Add(&model.Sellable{Code: "grid", Product: &model.Product{IsGrid: true}})

	for _, text := range []string{"closed", "elsewhere", "grid", "nothing"} {
		res, err := c.Resolve(context.Background(), nil, text, branch, Options{ScaleFormat: ScaleDisabled})
		require.NoError(t, err, text)
		assert.Nil(t, res, text)
	}
}

func TestResolve_EmptyBatchIsInvisible(t *testing.T) {
	c, repo := newCatalog(t)
	s := repo.Add(&model.Sellable{Code: "S", Product: storable()})
	repo.AddBatch(s, "EMPTY", branch, money.ZeroQty)

	res, err := c.Resolve(context.Background(), nil, "EMPTY", branch, Options{ScaleFormat: ScaleDisabled})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSearch_RanksPrefixThenWordThenSubstring(t *testing.T) {
	c, repo := newCatalog(t)
	repo.Add(&model.Sellable{Code: "3", Description: "Pão de queijo"})
	repo.Add(&model.Sellable{Code: "1", Description: "Queijo minas"})
	repo.Add(&model.Sellable{Code: "2", Description: "Requeijão"})
	repo.Add(&model.Sellable{Code: "4", Description: "Arroz"})

	got, err := c.Search(context.Background(), nil, "QUEIJ", branch, 10, Options{})
	require.NoError(t, err)
	var codes []string
	for _, r := range got {
		codes = append(codes, r.Code)
	}
	assert.Equal(t, []string{"1", "3", "2"}, codes)
}

func TestSearch_IgnoresAccentsAndCapsDemo(t *testing.T) {
	c, repo := newCatalog(t)
	repo.Add(&model.Sellable{Code: "1", Description: "Açúcar"})
	for i := 0; i < DemoCatalogSize+5; i++ {
		repo.Add(&model.Sellable{Code: uuid.NewString(), Description: "Acucar refinado"})
	}

	got, err := c.Search(context.Background(), nil, "acucar", branch, 0, Options{DemoMode: true})
	require.NoError(t, err)
	assert.Len(t, got, DemoCatalogSize)
	assert.Equal(t, "Açúcar", got[0].Description)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "cafe com leite", Normalize("  Café   com LEITE "))
}
