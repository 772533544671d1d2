package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dial-verify/internal/domain"
	"github.com/tbourn/go-dial-verify/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListNumbersResponse wraps a page of leased numbers and pagination info.
type ListNumbersResponse struct {
	Numbers    []domain.LeasedNumber `json:"numbers"`
	Pagination Pagination            `json:"pagination"`
}

// ListNumbers godoc
// @ID          listNumbers
// @Summary     List leased numbers (paginated)
// @Description Returns a page of the leased-number inventory, soonest lease expiry first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Numbers
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"numbers:3:9f2c41d07ab35e18\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListNumbersResponse
// @Header      200  {string} ETag  "Weak ETag for current inventory"
// @Header      200  {string} Last-Modified  "Creation time of the newest number"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /numbers [get]
func (h *Handlers) ListNumbers(c *gin.Context) {
	ctx := c.Request.Context()
	page := utils.ParsePage(c.Query("page"), c.Query("page_size"))

	// ETag pre-check (best effort).
	if st, err := h.pool.InventoryVersion(ctx); err == nil {
		etag := fmt.Sprintf(`W/"numbers:%d:%016x"`, st.Count, st.Digest)
		c.Header("ETag", etag)
		if !st.Newest.IsZero() {
			c.Header("Last-Modified", st.Newest.UTC().Format(http.TimeFormat))
		}
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.pool.ListInventory(ctx, page.Number, page.Size)
	if err != nil {
		failErr(c, err)
		return
	}

	totalPages := page.TotalPages(total)
	ok(c, http.StatusOK, ListNumbersResponse{
		Numbers: items,
		Pagination: Pagination{
			Page:       page.Number,
			PageSize:   page.Size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page.Number < totalPages,
		},
	})
}
