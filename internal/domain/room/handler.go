package room

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/internal/domain/booking"
	"github.com/orsched/orsched/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireAuthenticated())
	read.GET("/rooms", h.ListRooms)
	read.GET("/rooms/board", h.Board)
	read.GET("/rooms/:id", h.GetRoom)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/rooms", h.CreateRoom)
	admin.PUT("/rooms/:id", h.UpdateRoom)
	admin.POST("/rooms/:id/status", h.Transition)
}

func httpError(err error) *echo.HTTPError {
	if IsNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return booking.HTTPError(err)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// roomRequest carries the editable room fields. Absent fields keep their
// current value; a new room is active unless is_active is false.
type roomRequest struct {
	Name          *string `json:"name"`
	Designation   *string `json:"designation"`
	IsActive      *bool   `json:"is_active"`
	BufferMinutes *int    `json:"buffer_minutes"`
}

func (req roomRequest) apply(r *Room) {
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Designation != nil {
		r.Designation = *req.Designation
	}
	if req.IsActive != nil {
		r.IsActive = *req.IsActive
	}
	if req.BufferMinutes != nil {
		r.BufferMinutes = *req.BufferMinutes
	}
}

func (h *Handler) CreateRoom(c echo.Context) error {
	var req roomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r := Room{IsActive: true}
	req.apply(&r)
	if err := h.svc.CreateRoom(c.Request().Context(), auth.ActorFromContext(c.Request().Context()), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRoom(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetRoom(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRooms(c echo.Context) error {
	all, _ := strconv.ParseBool(c.QueryParam("all"))
	rooms, err := h.svc.ListRooms(c.Request().Context(), !all)
	if err != nil {
		return httpError(err)
	}
	if rooms == nil {
		rooms = []*Room{}
	}
	return c.JSON(http.StatusOK, rooms)
}

func (h *Handler) UpdateRoom(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req roomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	r, err := h.svc.GetRoom(ctx, id)
	if err != nil {
		return httpError(err)
	}
	req.apply(r)
	if err := h.svc.UpdateRoom(ctx, auth.ActorFromContext(ctx), r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Board(c echo.Context) error {
	day := h.svc.bookings.Policy().Today(h.svc.bookings.Now())
	if v := c.QueryParam("date"); v != "" {
		d, err := booking.ParseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		day = d
	}
	entries, err := h.svc.Board(c.Request().Context(), day)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	to, err := ParseState(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.svc.Transition(c.Request().Context(), auth.ActorFromContext(c.Request().Context()), id, to)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}
