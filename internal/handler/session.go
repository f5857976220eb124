package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-registration/internal/model"
	"github.com/iliyamo/event-registration/internal/repository"
	"github.com/iliyamo/event-registration/internal/utils"
)

// SessionHandler implements admin session creation and the public
// browse endpoints.
type SessionHandler struct {
	Sessions *repository.SessionRepo
	Speakers *repository.SpeakerRepo
}

func NewSessionHandler(sessions *repository.SessionRepo, speakers *repository.SpeakerRepo) *SessionHandler {
	return &SessionHandler{Sessions: sessions, Speakers: speakers}
}

type createSessionReq struct {
	Name            string      `json:"name"`
	Tagline         string      `json:"tagline"`
	Category        string      `json:"category"`
	Description     string      `json:"description"`
	SpeakerID       *uint64     `json:"speakerId"`
	StartTime       string      `json:"startTime"`
	EndTime         string      `json:"endTime"`
	RegistrationFee interface{} `json:"registrationFee"` // number or numeric string
	Seats           int         `json:"seats"`
	Platform        string      `json:"platform"`
	MeetingLink     string      `json:"meetingLink"`
	IsOpen          *bool       `json:"isOpen"`
	Slug            string      `json:"slug"`
	Tags            string      `json:"tags"`
}

// Create handles POST /api/session (admin only).  The registration
// fee is canonicalized to a decimal string before persistence.
func (h *SessionHandler) Create(c echo.Context) error {
	var req createSessionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid request body"})
	}
	if strings.TrimSpace(req.Name) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "session 'name' is required"})
	}
	if req.StartTime == "" || req.EndTime == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "session 'startTime' and 'endTime' are required"})
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid startTime"})
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid endTime"})
	}
	if !end.After(start) {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "endTime must be after startTime"})
	}
	fee := utils.ToDecimalString(req.RegistrationFee)
	if strings.HasPrefix(fee, "-") {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid registrationFee"})
	}
	if req.Seats < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid seats"})
	}

	ctx := c.Request().Context()
	if req.SpeakerID != nil {
		if _, err := h.Speakers.GetByID(ctx, *req.SpeakerID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid speakerId"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "database error"})
		}
	}

	isOpen := true
	if req.IsOpen != nil {
		isOpen = *req.IsOpen
	}
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = fmt.Sprintf("%s-%d", slugify(req.Name), time.Now().UnixMilli())
	}
	var meetingLink *string
	if link := strings.TrimSpace(req.MeetingLink); link != "" {
		meetingLink = &link
	}

	session := &model.Session{
		Name:            strings.TrimSpace(req.Name),
		Tagline:         req.Tagline,
		Category:        req.Category,
		Description:     req.Description,
		SpeakerID:       req.SpeakerID,
		StartTime:       start.UTC(),
		EndTime:         end.UTC(),
		RegistrationFee: fee,
		Seats:           req.Seats,
		Platform:        req.Platform,
		MeetingLink:     meetingLink,
		IsOpen:          isOpen,
		Slug:            slug,
		Tags:            normalizeTags(req.Tags),
	}
	if err := h.Sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"success": false, "message": "slug already in use"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "failed to create session"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "session created successfully",
		"data":    sessionResp(session),
	})
}

// List handles GET /api/session.
func (h *SessionHandler) List(c echo.Context) error {
	sessions, err := h.Sessions.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "failed to list sessions"})
	}
	items := make([]echo.Map, 0, len(sessions))
	for i := range sessions {
		items = append(items, sessionResp(&sessions[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": items})
}

// Get handles GET /api/session/:id.
func (h *SessionHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "message": "invalid session id"})
	}
	session, err := h.Sessions.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"success": false, "message": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "message": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": sessionResp(session)})
}

func sessionResp(s *model.Session) echo.Map {
	return echo.Map{
		"id":              s.ID,
		"name":            s.Name,
		"tagline":         s.Tagline,
		"category":        s.Category,
		"description":     s.Description,
		"speakerId":       s.SpeakerID,
		"startTime":       s.StartTime.Format(time.RFC3339),
		"endTime":         s.EndTime.Format(time.RFC3339),
		"registrationFee": s.RegistrationFee,
		"seats":           s.Seats,
		"platform":        s.Platform,
		"isOpen":          s.IsOpen,
		"slug":            s.Slug,
		"tags":            s.Tags,
	}
}

// slugify lower-cases a name and collapses runs of non-alphanumerics
// into single hyphens.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// normalizeTags trims entries and drops empties from a comma list.
func normalizeTags(tags string) string {
	var out []string
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, ",")
}
