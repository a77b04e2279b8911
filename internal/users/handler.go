package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meishi-app/meishi/internal/auth"
	"github.com/meishi-app/meishi/internal/shared"
	"github.com/meishi-app/meishi/internal/view"
)

// RepositoryPort defines data access methods for profiles.
type RepositoryPort interface {
	GetProfile(ctx context.Context, id int64) (*Profile, error)
}

// Handler serves the profile page.
type Handler struct {
	logger      *slog.Logger
	repo        RepositoryPort
	templates   *view.Engine
	csrfManager *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, repo RepositoryPort, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo, templates: templates, csrfManager: csrf}
}

// MountRoutes registers user routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.handleShow)
}

type profilePageData struct {
	Profile *Profile
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	current := auth.UserFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	// Profiles are private; another user's page is a 404, same as a
	// missing one.
	if current == nil || current.ID != id {
		http.NotFound(w, r)
		return
	}

	profile, err := h.repo.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("get profile", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       profile.Name,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        current,
		Data:        profilePageData{Profile: profile},
	}
	if err := h.templates.Render(w, "pages/users_show.html", viewData); err != nil {
		h.logger.Error("render profile", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
