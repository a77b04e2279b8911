package cards

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meishi-app/meishi/internal/auth"
	"github.com/meishi-app/meishi/internal/shared"
	"github.com/meishi-app/meishi/internal/view"
)

// Handler wires HTTP endpoints for card management. All routes sit behind
// auth.Middleware.RequireAuthenticated; the owner id always comes from the
// resolved user, never from the request.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	templates   *view.Engine
	csrfManager *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		templates:   templates,
		csrfManager: csrf,
	}
}

// MountRoutes registers card routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/new", h.showNew)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleShow)
	r.Get("/{id}/edit", h.showEdit)
	r.Post("/{id}", h.handleUpdate)
	r.Post("/{id}/delete", h.handleDelete)
}

type indexPageData struct {
	Cards      []Card
	Pagination shared.Pagination
}

type formPageData struct {
	Card   *Card
	Form   CardInput
	Errors map[string]string
	IsEdit bool
}

type showPageData struct {
	Card *Card
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	var currentUser any
	if user := auth.UserFromContext(r.Context()); user != nil {
		currentUser = user
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        currentUser,
		Data:        data,
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, page, viewData); err != nil {
		h.logger.Error("render page", slog.String("page", page), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	list, pagination, err := h.service.List(r.Context(), user.ID, page)
	if err != nil {
		h.logger.Error("list cards", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, "pages/cards_index.html", "Cards", indexPageData{Cards: list, Pagination: pagination})
}

func (h *Handler) showNew(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/cards_form.html", "New card", formPageData{})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	user := auth.UserFromContext(r.Context())
	in := cardInputFromForm(r)

	card, err := h.service.Create(r.Context(), user.ID, in)
	if err != nil {
		var verr ValidationError
		if errors.As(err, &verr) {
			h.render(w, r, http.StatusBadRequest, "pages/cards_form.html", "New card", formPageData{Form: in, Errors: verr})
			return
		}
		h.logger.Error("create card", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.flash(r, "success", "Card created.")
	http.Redirect(w, r, "/cards/"+strconv.FormatInt(card.ID, 10), http.StatusSeeOther)
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	card, ok := h.loadCard(w, r, user.ID)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, "pages/cards_show.html", card.Name, showPageData{Card: card})
}

func (h *Handler) showEdit(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	card, ok := h.loadCard(w, r, user.ID)
	if !ok {
		return
	}
	in := CardInput{
		Name:    card.Name,
		Company: card.Company,
		Title:   card.Title,
		Email:   card.Email,
		Phone:   card.Phone,
		Address: card.Address,
		Memo:    card.Memo,
	}
	h.render(w, r, http.StatusOK, "pages/cards_form.html", "Edit card", formPageData{Card: card, Form: in, IsEdit: true})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	user := auth.UserFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	in := cardInputFromForm(r)

	card, err := h.service.Update(r.Context(), user.ID, id, in)
	if err != nil {
		var verr ValidationError
		switch {
		case errors.As(err, &verr):
			existing := &Card{ID: id, OwnerID: user.ID}
			h.render(w, r, http.StatusBadRequest, "pages/cards_form.html", "Edit card", formPageData{Card: existing, Form: in, Errors: verr, IsEdit: true})
		case errors.Is(err, ErrNotFound):
			http.NotFound(w, r)
		default:
			h.logger.Error("update card", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.flash(r, "success", "Card updated.")
	http.Redirect(w, r, "/cards/"+strconv.FormatInt(card.ID, 10), http.StatusSeeOther)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := h.service.Delete(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("delete card", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.flash(r, "success", "Card deleted.")
	http.Redirect(w, r, "/cards", http.StatusSeeOther)
}

func (h *Handler) loadCard(w http.ResponseWriter, r *http.Request, ownerID int64) (*Card, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return nil, false
	}
	card, err := h.service.Get(r.Context(), ownerID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return nil, false
		}
		h.logger.Error("get card", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	return card, true
}

func (h *Handler) flash(r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
}

func cardInputFromForm(r *http.Request) CardInput {
	return CardInput{
		Name:    r.PostFormValue("name"),
		Company: r.PostFormValue("company"),
		Title:   r.PostFormValue("title"),
		Email:   r.PostFormValue("email"),
		Phone:   r.PostFormValue("phone"),
		Address: r.PostFormValue("address"),
		Memo:    r.PostFormValue("memo"),
	}
}
