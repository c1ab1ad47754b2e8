package booking

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireAuthenticated())
	read.GET("/bookings", h.List)
	read.GET("/bookings/:id", h.Get)

	write := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleNurse, auth.RoleAnesthesiaAdmin))
	write.POST("/bookings", h.Submit)
	write.PUT("/bookings/:id", h.Edit)
	write.POST("/bookings/:id/cancel", h.Cancel)

	anesthesia := api.Group("", auth.RequireRole(auth.RoleAnesthesiaAdmin))
	anesthesia.PUT("/bookings/:id/anesthesiologist", h.AssignAnesthesiologist)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/bookings/:id/approve", h.Approve)
	admin.POST("/bookings/:id/deny", h.Deny)
	admin.POST("/emergencies/preview", h.PreviewEmergency)
	admin.POST("/emergencies", h.InsertEmergency)
}

// HTTPError maps a scheduling error onto an HTTP response.
func HTTPError(err error) *echo.HTTPError {
	var (
		verr    *ValidationError
		pviol   *PolicyViolation
		cerr    *ConflictError
		partial *PartialBumpError
		perr    *PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": verr.Error(),
			"code":    verr.Code,
			"field":   verr.Field,
		})
	case errors.As(err, &pviol):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": pviol.Error(),
			"code":    pviol.Code,
			"contact": pviol.Contact,
		})
	case errors.As(err, &cerr):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":          cerr.Error(),
			"code":             string(cerr.Kind) + "_conflict",
			"conflicting_with": cerr.With.ID,
		})
	case errors.Is(err, ErrConfirmationRequired):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message": err.Error(),
			"code":    "confirmation_required",
		})
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message": err.Error(),
			"code":    "invalid_transition",
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.As(err, &partial):
		return echo.NewHTTPError(http.StatusInternalServerError, map[string]interface{}{
			"message":      "emergency insertion partially applied",
			"code":         "partial_bump",
			"emergency_id": partial.EmergencyID,
			"displaced":    partial.Displaced,
			"pending":      partial.Pending,
		})
	case errors.As(err, &perr):
		return echo.NewHTTPError(http.StatusServiceUnavailable, map[string]interface{}{
			"message": "storage unavailable, no changes were kept",
			"code":    "persistence",
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func actor(c echo.Context) auth.Actor {
	return auth.ActorFromContext(c.Request().Context())
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Submit(c echo.Context) error {
	var b Booking
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.Submit(c.Request().Context(), actor(c), &b)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func parseFilter(c echo.Context) (Filter, error) {
	var f Filter
	if v := c.QueryParam("date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		f.Date = &d
	}
	if v := c.QueryParam("from"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
		f.From = &d
	}
	if v := c.QueryParam("to"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
		f.To = &d
	}
	if v := c.QueryParam("room_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid room_id")
		}
		f.RoomID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		s, err := ParseStatus(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = s
	}
	f.Department = strings.ToUpper(c.QueryParam("department"))
	if c.QueryParam("mine") == "true" {
		f.CreatedBy = actor(c).ID
	}
	return f, nil
}

func (h *Handler) List(c echo.Context) error {
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	items, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Respond(items, pagination.FromContext(c)))
}

type editRequest struct {
	Date             *string   `json:"date"`
	StartTime        *Clock    `json:"start_time"`
	EndTime          *Clock    `json:"end_time"`
	Procedure        *string   `json:"procedure"`
	Surgeon          *string   `json:"surgeon"`
	Anesthesiologist *string   `json:"anesthesiologist"`
	Nurses           *[]string `json:"nurses"`
	Equipment        *[]string `json:"equipment"`
	EstimatedMinutes *int      `json:"estimated_minutes"`
	Notes            *string   `json:"notes"`
}

func (r editRequest) toEdit() (Edit, error) {
	e := Edit{
		Start:            r.StartTime,
		End:              r.EndTime,
		Procedure:        r.Procedure,
		Surgeon:          r.Surgeon,
		Anesthesiologist: r.Anesthesiologist,
		Nurses:           r.Nurses,
		Equipment:        r.Equipment,
		EstimatedMinutes: r.EstimatedMinutes,
		Notes:            r.Notes,
	}
	if r.Date != nil {
		d, err := ParseDate(*r.Date)
		if err != nil {
			return e, &ValidationError{Code: InvalidValue, Field: "date"}
		}
		e.Date = &d
	}
	return e, nil
}

func (h *Handler) Edit(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req editRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := req.toEdit()
	if err != nil {
		return HTTPError(err)
	}
	b, err := h.svc.Edit(c.Request().Context(), actor(c), id, e)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Approve(c.Request().Context(), actor(c), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Deny(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Deny(c.Request().Context(), actor(c), id, req.Reason)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.Cancel(c.Request().Context(), actor(c), id, req.Reason)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) AssignAnesthesiologist(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Anesthesiologist string `json:"anesthesiologist"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.AssignAnesthesiologist(c.Request().Context(), actor(c), id, req.Anesthesiologist)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type emergencyRequest struct {
	EmergencyID uuid.UUID `json:"emergency_id"`
	Reason      string    `json:"reason"`
	Confirm     bool      `json:"confirm"`
	Booking     *Booking  `json:"booking"`
}

func (r *emergencyRequest) booking() (*Booking, error) {
	if r.Booking == nil {
		return nil, missing("booking")
	}
	b := r.Booking.Clone()
	b.ID = r.EmergencyID
	return b, nil
}

func (h *Handler) PreviewEmergency(c echo.Context) error {
	var req emergencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := req.booking()
	if err != nil {
		return HTTPError(err)
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	p, err := h.svc.PreviewEmergency(c.Request().Context(), actor(c), b, req.Reason)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// InsertEmergency places the case. When confirmation is needed the response
// is 409 with the preview the caller must confirm, including the emergency id
// to send back.
func (h *Handler) InsertEmergency(c echo.Context) error {
	var req emergencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := req.booking()
	if err != nil {
		return HTTPError(err)
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	ctx := c.Request().Context()
	res, err := h.svc.InsertEmergency(ctx, actor(c), b, req.Reason, req.Confirm)
	if errors.Is(err, ErrConfirmationRequired) {
		p, perr := h.svc.PreviewEmergency(ctx, actor(c), b, req.Reason)
		if perr != nil {
			return HTTPError(perr)
		}
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"message": err.Error(),
			"code":    "confirmation_required",
			"preview": p,
		})
	}
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}
