package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-registration/internal/model"
	"github.com/iliyamo/event-registration/internal/repository"
)

// SpeakerHandler implements admin speaker creation and the public
// speaker list.
type SpeakerHandler struct {
	Speakers *repository.SpeakerRepo
}

func NewSpeakerHandler(speakers *repository.SpeakerRepo) *SpeakerHandler {
	return &SpeakerHandler{Speakers: speakers}
}

// Create handles POST /api/speaker (admin only).
func (h *SpeakerHandler) Create(c echo.Context) error {
	var req struct {
		Name         string `json:"name"`
		Designation  string `json:"designation"`
		Organization string `json:"organization"`
		Bio          string `json:"bio"`
		Website      string `json:"website"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid request body"})
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Designation) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "speaker 'name' and 'designation' are required"})
	}

	speaker := &model.Speaker{
		Name:         strings.TrimSpace(req.Name),
		Designation:  strings.TrimSpace(req.Designation),
		Organization: req.Organization,
		Bio:          req.Bio,
	}
	if w := strings.TrimSpace(req.Website); w != "" {
		speaker.Website = &w
	}

	if err := h.Speakers.Create(c.Request().Context(), speaker); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"success": false, "message": "a speaker with this website already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "failed to create speaker"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": speaker.ID})
}

// List handles GET /api/speaker.
func (h *SpeakerHandler) List(c echo.Context) error {
	speakers, err := h.Speakers.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "failed to list speakers"})
	}
	items := make([]echo.Map, 0, len(speakers))
	for _, s := range speakers {
		item := echo.Map{
			"id":           s.ID,
			"name":         s.Name,
			"designation":  s.Designation,
			"organization": s.Organization,
			"bio":          s.Bio,
		}
		if s.Website != nil {
			item["website"] = *s.Website
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": items})
}
