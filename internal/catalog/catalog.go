// Package catalog is the read-only view of what can be sold in a branch:
// barcode/code/batch resolution for the POS entry and type-ahead search.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"retailpos/internal/apierror"
	"retailpos/internal/model"
	"retailpos/internal/money"
	"retailpos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// MaxBarcodeLength is the longest barcode accepted (GTIN-14).
const MaxBarcodeLength = 14

// DemoCatalogSize caps the candidates searched in demo mode.
const DemoCatalogSize = 100

// Resolution is a successful lookup.
type Resolution struct {
	Sellable *model.Sellable
	Batch    *model.StorableBatch
	// Quantity is set when the text was a scale label: the weight read, or the
	// weight paid for by the label price.
	Quantity *money.Quantity
}

// Options are the per-command parameters resolution depends on.
type Options struct {
	ScaleFormat int
	DemoMode    bool
	// ScaleFallback is sold for scale labels whose code is unknown.
	ScaleFallback *uuid.UUID
}

// Catalog resolves entry text to sellables.
type Catalog struct {
	sellables repository.SellableRepository
	cache     SearchCache
	locale    language.Tag
}

// New builds a Catalog. cache may be nil.
func New(sellables repository.SellableRepository, locale string, cache SearchCache) *Catalog {
	tag, err := language.Parse(locale)
	if err != nil {
		log.Warn().Err(err).Str("locale", locale).Msg("catalog: unknown locale, using und")
		tag = language.Und
	}
	return &Catalog{sellables: sellables, cache: cache, locale: tag}
}

// ValidateBarcode checks the entry text before any lookup.
func ValidateBarcode(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return apierror.Validation("barcode", "Barcode cannot be empty")
	}
	if len([]rune(text)) > MaxBarcodeLength {
		return apierror.Validationf("barcode", "Barcode must have at most %d characters", MaxBarcodeLength)
	}
	return nil
}

// Resolve finds the sellable for text in the branch. The first match wins:
// scale label, barcode, code, then batch number, all case-insensitive.
// Unresolved text and grid parents yield nil without error; the caller
// decides whether to open the search.
func (c *Catalog) Resolve(ctx context.Context, tx *gorm.DB, text string, branchID uuid.UUID, opts Options) (*Resolution, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	res, err := c.resolve(ctx, tx, text, branchID, opts)
	if err != nil || res == nil {
		return nil, err
	}
	if res.Sellable.IsGrid() {
		log.Debug().Str("code", res.Sellable.Code).Msg("catalog: grid parent resolved, variant required")
		return nil, nil
	}
	return res, nil
}

func (c *Catalog) resolve(ctx context.Context, tx *gorm.DB, text string, branchID uuid.UUID, opts Options) (*Resolution, error) {
	if sb, ok := ParseScaleBarcode(text, opts.ScaleFormat); ok {
		s, err := c.sellables.FindByCode(ctx, tx, sb.Code, branchID)
		if repository.IsNotFound(err) && opts.ScaleFallback != nil {
			s, err = c.sellables.FindByID(ctx, tx, *opts.ScaleFallback)
		}
		switch {
		case err == nil:
			return scaleResolution(s, sb)
		case !repository.IsNotFound(err):
			return nil, err
		}
	}

	if s, err := c.sellables.FindByBarcode(ctx, tx, text, branchID); err == nil {
		return &Resolution{Sellable: s}, nil
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	if s, err := c.sellables.FindByCode(ctx, tx, text, branchID); err == nil {
		return &Resolution{Sellable: s}, nil
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	s, batch, err := c.sellables.FindByBatchNumber(ctx, tx, text, branchID)
	if err == nil {
		return &Resolution{Sellable: s, Batch: batch}, nil
	}
	if repository.IsNotFound(err) {
		return nil, nil
	}
	return nil, err
}

func scaleResolution(s *model.Sellable, sb *ScaleBarcode) (*Resolution, error) {
	qty := sb.Weight
	if sb.Mode == ScalePrice {
		if !s.BasePrice.IsPositive() {
			return nil, apierror.Validationf("barcode", "Sellable %s has no price to derive the weight from", s.Code)
		}
		var err error
		if qty, err = sb.Price.DivToQuantity(s.BasePrice); err != nil {
			return nil, fmt.Errorf("scale weight: %w", err)
		}
	}
	return &Resolution{Sellable: s, Quantity: &qty}, nil
}

// ── Search ────────────────────────────────────────────────────────────────────

// SearchResult is one type-ahead candidate.
type SearchResult struct {
	SellableID  uuid.UUID      `json:"sellable_id"`
	Code        string         `json:"code"`
	Barcode     string         `json:"barcode,omitempty"`
	Description string         `json:"description"`
	Price       money.Currency `json:"price"`
	Unit        string         `json:"unit,omitempty"`
	IsGrid      bool           `json:"is_grid,omitempty"`
}

type match struct {
	rank int
	s    model.Sellable
}

// Search ranks the available sellables whose description matches text:
// description prefix first, then a word prefix, then any substring. Accents
// and case are ignored; ties are ordered by the locale collation of the
// description, then by code.
func (c *Catalog) Search(ctx context.Context, tx *gorm.DB, text string, branchID uuid.UUID, limit int, opts Options) ([]SearchResult, error) {
	needle := Normalize(text)
	if needle == "" {
		return nil, nil
	}
	key := fmt.Sprintf("catalog:search:%s:%d:%t:%s", branchID, limit, opts.DemoMode, needle)
	if c.cache != nil {
		if hit, ok := c.cache.Get(ctx, key); ok {
			return hit, nil
		}
	}

	candidateLimit := 0
	if opts.DemoMode {
		candidateLimit = DemoCatalogSize
	}
	candidates, err := c.sellables.ListAvailable(ctx, tx, branchID, candidateLimit)
	if err != nil {
		return nil, err
	}

	matches := make([]match, 0, len(candidates))
	for _, s := range candidates {
		if r := rank(Normalize(s.Description), needle); r >= 0 {
			matches = append(matches, match{rank: r, s: s})
		}
	}

	col := collate.New(c.locale, collate.IgnoreCase)
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if cmp := col.CompareString(a.s.Description, b.s.Description); cmp != 0 {
			return cmp < 0
		}
		return a.s.Code < b.s.Code
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		out = append(out, toResult(m.s))
	}
	if c.cache != nil {
		c.cache.Set(ctx, key, out)
	}
	return out, nil
}

// ResultOf describes a resolved sellable the way Search lists it.
func ResultOf(s *model.Sellable) SearchResult { return toResult(*s) }

func toResult(s model.Sellable) SearchResult {
	r := SearchResult{
		SellableID:  s.ID,
		Code:        s.Code,
		Description: s.Description,
		Price:       s.BasePrice,
		Unit:        s.UnitDescription(),
		IsGrid:      s.IsGrid(),
	}
	if s.Barcode != nil {
		r.Barcode = *s.Barcode
	}
	return r
}

// rank returns 0 for a prefix match, 1 for a word-prefix match, 2 for a
// substring match and -1 when needle does not occur in haystack.
func rank(haystack, needle string) int {
	switch {
	case strings.HasPrefix(haystack, needle):
		return 0
	case strings.Contains(haystack, " "+needle):
		return 1
	case strings.Contains(haystack, needle):
		return 2
	default:
		return -1
	}
}

// Normalize strips accents, folds case and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(out)), " ")
}
