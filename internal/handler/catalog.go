package handler

import (
	"net/http"
	"strconv"
	"strings"

	"retailpos/internal/apierror"
	"retailpos/internal/catalog"
	"retailpos/internal/config"
	"retailpos/internal/dto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultSearchLimit = 20

// CatalogHandler serves the price check and the type-ahead search of the
// terminal. Neither touches the sale.
type CatalogHandler struct {
	catalog *catalog.Catalog
	params  config.ParamSource
}

func NewCatalogHandler(c *catalog.Catalog, params config.ParamSource) *CatalogHandler {
	return &CatalogHandler{catalog: c, params: params}
}

func (h *CatalogHandler) options() catalog.Options {
	p := h.params.Snapshot()
	opts := catalog.Options{ScaleFormat: p.ScaleBarcodeFormat, DemoMode: p.DemoMode}
	if id, err := uuid.Parse(p.DefaultScaleToken); err == nil {
		opts.ScaleFallback = &id
	}
	return opts
}

// Search godoc
// @Summary Type-ahead search of the branch catalog
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param q query string true "Text"
// @Param limit query int false "Max results (1-100)"
// @Success 200 {object} dto.SearchResponse
// @Router /v1/catalog/search [get]
func (h *CatalogHandler) Search(c *gin.Context) {
	s, ok := sessionOf(c)
	if !ok {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultSearchLimit)))
	if err != nil || limit < 1 || limit > 100 {
		limit = defaultSearchLimit
	}

	results, err := h.catalog.Search(c.Request.Context(), nil, q, s.branchID, limit, h.options())
	if err != nil {
		fail(c, err)
		return
	}
	if results == nil {
		results = []catalog.SearchResult{}
	}
	c.JSON(http.StatusOK, dto.SearchResponse{Query: q, Results: results})
}

// Lookup godoc
// @Summary Price check by barcode, code, batch number or scale label
// @Tags catalog
// @Produce json
// @Security BearerAuth
// @Param text path string true "Entry text"
// @Success 200 {object} catalog.SearchResult
// @Failure 404 {object} apierror.APIError
// @Router /v1/catalog/lookup/{text} [get]
func (h *CatalogHandler) Lookup(c *gin.Context) {
	s, ok := sessionOf(c)
	if !ok {
		return
	}
	text := c.Param("text")
	if err := catalog.ValidateBarcode(text); err != nil {
		fail(c, err)
		return
	}
	res, err := h.catalog.Resolve(c.Request.Context(), nil, text, s.branchID, h.options())
	if err != nil {
		fail(c, err)
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, apierror.New("no product matches the code"))
		return
	}
	c.JSON(http.StatusOK, catalog.ResultOf(res.Sellable))
}
