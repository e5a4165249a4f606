// Package guests is the HTTP surface of the invitation service: the guest's
// own RSVP endpoints, the organizer listing and the internal endpoints the
// event-manager calls.
package guests

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/api"
	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
	"github.com/MahdiBaghbani/guestservice-go/internal/components/userdirectory"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/http/auth"
)

// DefaultOrganizerRoles may read organization-wide guest data.
var DefaultOrganizerRoles = []string{"ORG_ADMIN", "ORGANISER"}

// Guests is the invitation service as seen by the handlers.
// *rsvp.Service implements it.
type Guests interface {
	Accept(ctx context.Context, eventID, userID string) (*invitations.Invitation, error)
	Decline(ctx context.Context, eventID, userID string) (*invitations.Invitation, error)
	RespondMaybe(ctx context.Context, eventID, userID string) (*invitations.Invitation, error)
	CheckIn(ctx context.Context, eventID, userID string) (*invitations.Invitation, error)
	MarkViewed(ctx context.Context, eventID, userID string) error

	ListByUser(ctx context.Context, userID string) ([]*invitations.Invitation, error)
	GetByEventAndUser(ctx context.Context, eventID, userID string) (*invitations.Invitation, error)
	ListAcceptedByUser(ctx context.Context, userID string) ([]*invitations.Invitation, error)
	ListByEvent(ctx context.Context, eventID string) ([]*invitations.Invitation, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]*invitations.Invitation, error)
	ListCheckedIn(ctx context.Context, eventID string) ([]*invitations.Invitation, error)
	ListByEventAndStatus(ctx context.Context, eventID string, status invitations.Status) ([]*invitations.Invitation, error)
}

// Handler serves the guest endpoints.
type Handler struct {
	guests         Guests
	roles          userdirectory.RoleChecker
	organizerRoles []string
}

// NewHandler creates a handler. Empty organizerRoles selects
// DefaultOrganizerRoles.
func NewHandler(guests Guests, roles userdirectory.RoleChecker, organizerRoles []string) *Handler {
	if len(organizerRoles) == 0 {
		organizerRoles = DefaultOrganizerRoles
	}
	return &Handler{
		guests:         guests,
		roles:          roles,
		organizerRoles: organizerRoles,
	}
}

// Routes registers the endpoints on r, relative to the service prefix.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/my-invitations", func(r chi.Router) {
		r.Get("/", h.listMine)
		r.Route("/{eventId}", func(r chi.Router) {
			r.Get("/", h.getMine)
			r.Put("/accept", h.respond(Guests.Accept))
			r.Put("/decline", h.respond(Guests.Decline))
			r.Put("/maybe", h.respond(Guests.RespondMaybe))
			r.Put("/check-in", h.respond(Guests.CheckIn))
			r.Post("/view", h.markViewed)
		})
	})
	r.Get("/my-events", h.listMyEvents)
	r.Get("/organizations/{orgId}/invitations", h.listOrganization)

	r.Route("/internal/events/{eventId}", func(r chi.Router) {
		r.Get("/invitations", h.listEvent)
		r.Get("/checked-in", h.listCheckedIn)
	})
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	list, err := h.guests.ListByUser(r.Context(), userID)
	writeList(w, r, list, err)
}

// getMine returns one invitation. The caller must also organize orgId,
// which keeps guests from reading other users' invitations.
func (h *Handler) getMine(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventId")
	if !ok {
		return
	}
	orgID, ok := queryUUID(w, r, "orgId")
	if !ok {
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if !h.authorizeOrganizer(w, r, orgID) {
		return
	}

	inv, err := h.guests.GetByEventAndUser(r.Context(), eventID, userID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inv)
}

func (h *Handler) listMyEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	list, err := h.guests.ListAcceptedByUser(r.Context(), userID)
	writeList(w, r, list, err)
}

type action func(g Guests, ctx context.Context, eventID, userID string) (*invitations.Invitation, error)

func (h *Handler) respond(do action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, ok := pathUUID(w, r, "eventId")
		if !ok {
			return
		}
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}

		inv, err := do(h.guests, r.Context(), eventID, userID)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, inv)
	}
}

func (h *Handler) markViewed(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventId")
	if !ok {
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if err := h.guests.MarkViewed(r.Context(), eventID, userID); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "orgId")
	if !ok {
		return
	}
	if !h.authorizeOrganizer(w, r, orgID) {
		return
	}
	list, err := h.guests.ListByOrganization(r.Context(), orgID)
	writeList(w, r, list, err)
}

// listEvent returns an event's guest list, optionally narrowed by ?status=.
func (h *Handler) listEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventId")
	if !ok {
		return
	}

	raw := r.URL.Query().Get("status")
	if raw == "" {
		list, err := h.guests.ListByEvent(r.Context(), eventID)
		writeList(w, r, list, err)
		return
	}
	status, err := invitations.ParseStatus(raw)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	}
	list, err := h.guests.ListByEventAndStatus(r.Context(), eventID, status)
	writeList(w, r, list, err)
}

func (h *Handler) listCheckedIn(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventId")
	if !ok {
		return
	}
	list, err := h.guests.ListCheckedIn(r.Context(), eventID)
	writeList(w, r, list, err)
}

func (h *Handler) authorizeOrganizer(w http.ResponseWriter, r *http.Request, orgID string) bool {
	var token string
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		token = p.Token
	}
	if h.roles == nil || !h.roles.HasAnyRole(r.Context(), orgID, token, h.organizerRoles) {
		api.WriteForbidden(w, api.ReasonUnauthorized, "caller is not an organizer of this organization")
		return false
	}
	return true
}

// userIDParam reads ?userId=, falling back to the authenticated subject.
func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		if p := auth.PrincipalFromContext(r.Context()); p != nil {
			raw = p.Subject
		}
	}
	if raw == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "userId is required")
		return "", false
	}
	return parseUUID(w, "userId", raw)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	return parseUUID(w, name, chi.URLParam(r, name))
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, name+" is required")
		return "", false
	}
	return parseUUID(w, name, raw)
}

// parseUUID returns the canonical lower-case form, so ids compare equal
// however the client wrote them.
func parseUUID(w http.ResponseWriter, name, raw string) (string, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, name+" must be a UUID")
		return "", false
	}
	return id.String(), true
}

func writeList(w http.ResponseWriter, r *http.Request, list []*invitations.Invitation, err error) {
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if list == nil {
		list = []*invitations.Invitation{}
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if api.WriteDomainError(w, err) {
		return
	}
	appctx.GetLogger(r.Context()).Error("guest request failed", "error", err)
	api.WriteInternalError(w, "internal error")
}
