package priority

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/internal/platform/auth"
)

type Handler struct {
	table *Table
}

func NewHandler(t *Table) *Handler {
	return &Handler{table: t}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireAuthenticated())
	read.GET("/priorities", h.List)
	read.GET("/priorities/:department", h.Get)
}

// List returns the whole table, or one label when both department and
// weekday are given.
func (h *Handler) List(c echo.Context) error {
	dept, day := c.QueryParam("department"), c.QueryParam("weekday")
	if dept != "" && day != "" {
		wd, ok := weekdays[strings.ToLower(day)]
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid weekday")
		}
		label, found := h.table.Lookup(dept, wd)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"department": strings.ToUpper(dept),
			"weekday":    strings.ToLower(day),
			"label":      label,
			"found":      found,
		})
	}
	out := map[string]map[string]string{}
	for _, d := range h.table.Departments() {
		out[d] = h.table.Week(d)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Get(c echo.Context) error {
	week := h.table.Week(c.Param("department"))
	if len(week) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "department has no priorities")
	}
	return c.JSON(http.StatusOK, week)
}
