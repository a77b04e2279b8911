package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meishi-app/meishi/internal/observability"
	"github.com/meishi-app/meishi/internal/shared"
	"github.com/meishi-app/meishi/internal/view"
)

// Handler wires HTTP endpoints for the credential lifecycle.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	remember       *RememberCookie
	metrics        *observability.Metrics
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, remember *RememberCookie, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		remember:       remember,
		metrics:        metrics,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/signup", h.showSignup)
	r.Post("/signup", h.handleSignup)
	r.Get("/activate", h.handleActivate)
	r.Get("/login", h.showLogin)
	// Login attempts get a tighter per-IP budget than the global limit.
	r.With(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))).
		Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/reset", h.showResetRequest)
	r.Post("/reset", h.handleResetRequest)
	r.Get("/reset/edit", h.showResetEdit)
	r.Post("/reset/edit", h.handleResetComplete)
}

type signupForm struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
}

type signupPageData struct {
	Form   signupForm
	Errors map[string]string
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	Remember bool
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

type resetRequestForm struct {
	Email string `validate:"required,email"`
}

type resetRequestPageData struct {
	Form   resetRequestForm
	Errors map[string]string
}

type resetEditPageData struct {
	UserID int64
	Token  string
	Errors map[string]string
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	var currentUser any
	if user := UserFromContext(r.Context()); user != nil {
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

func (h *Handler) showSignup(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/signup.html", "Sign up", signupPageData{})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := signupForm{
		Name:                 r.PostFormValue("name"),
		Email:                r.PostFormValue("email"),
		Password:             r.PostFormValue("password"),
		PasswordConfirmation: r.PostFormValue("password_confirmation"),
	}

	_, err := h.service.Register(r.Context(), RegisterInput(form))
	if err != nil {
		if verr, ok := AsValidationError(err); ok {
			form.Password = ""
			form.PasswordConfirmation = ""
			h.render(w, r, http.StatusBadRequest, "pages/signup.html", "Sign up", signupPageData{Form: form, Errors: verr})
			return
		}
		h.logger.Error("signup", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAuthEvent("signup", "ok")
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Please check your email to activate your account."})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	userID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		h.flashRedirect(w, r, sess, "danger", "Invalid activation link.", "/")
		return
	}

	user, err := h.service.Activate(r.Context(), userID, r.URL.Query().Get("token"))
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyActivated):
			h.flashRedirect(w, r, sess, "info", "Account already activated. Please log in.", "/auth/login")
		case errors.Is(err, ErrActivationFailed):
			h.flashRedirect(w, r, sess, "danger", "Invalid activation link.", "/")
		default:
			h.logger.Error("activate", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RecordAuthEvent("activate", "ok")
	h.establishSession(w, r, sess, user)
	h.flashRedirect(w, r, sess, "success", "Account activated!", fmt.Sprintf("/users/%d", user.ID))
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/login.html", "Log in", loginPageData{})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Remember: r.PostFormValue("remember_me") == "1",
	}
	formErrors := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		formErrors = formFieldErrors(err)
	}

	if len(formErrors) == 0 {
		user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		switch {
		case errors.Is(err, ErrNotActivated):
			h.flashRedirect(w, r, sess, "warning", "Account not activated. Check your email for the activation link.", "/")
			return
		case err != nil:
			h.metrics.RecordAuthEvent("login", "rejected")
			formErrors["general"] = "Invalid email/password combination"
		default:
			h.metrics.RecordAuthEvent("login", "ok")
			h.establishSession(w, r, sess, user)
			if form.Remember {
				if rawToken, err := h.service.Remember(r.Context(), user.ID); err == nil {
					h.remember.Write(w, user.ID, rawToken)
				} else {
					h.logger.Warn("issue remember token", slog.Any("error", err))
				}
			} else {
				if err := h.service.Forget(r.Context(), user.ID); err != nil {
					h.logger.Warn("forget remember token", slog.Any("error", err))
				}
				h.remember.Clear(w)
			}
			if sess != nil {
				sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back!"})
			}
			http.Redirect(w, r, ConsumeForwardingURL(sess, "/"), http.StatusSeeOther)
			return
		}
	}

	form.Password = ""
	h.render(w, r, http.StatusBadRequest, "pages/login.html", "Log in", loginPageData{Form: form, Errors: formErrors})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if user := UserFromContext(r.Context()); user != nil {
		if err := h.service.Forget(r.Context(), user.ID); err != nil {
			h.logger.Warn("forget remember token", slog.Any("error", err))
		}
	}
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	h.remember.Clear(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) showResetRequest(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/reset_request.html", "Forgot password", resetRequestPageData{})
}

func (h *Handler) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	form := resetRequestForm{Email: r.PostFormValue("email")}
	formErrors := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		formErrors = formFieldErrors(err)
	}

	if len(formErrors) == 0 {
		err := h.service.RequestReset(r.Context(), form.Email)
		switch {
		case errors.Is(err, ErrEmailNotFound):
			formErrors["email"] = "Email address not found"
		case err != nil:
			h.logger.Error("request reset", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		default:
			h.flashRedirect(w, r, sess, "info", "Email sent with password reset instructions.", "/")
			return
		}
	}

	h.render(w, r, http.StatusBadRequest, "pages/reset_request.html", "Forgot password", resetRequestPageData{Form: form, Errors: formErrors})
}

func (h *Handler) showResetEdit(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	userID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		h.flashRedirect(w, r, sess, "danger", "Invalid password reset link.", "/")
		return
	}
	rawToken := r.URL.Query().Get("token")

	if _, err := h.service.ValidateResetAccess(r.Context(), userID, rawToken); err != nil {
		h.redirectResetFailure(w, r, sess, err)
		return
	}

	h.render(w, r, http.StatusOK, "pages/reset_edit.html", "Reset password", resetEditPageData{UserID: userID, Token: rawToken})
}

func (h *Handler) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	userID, err := strconv.ParseInt(r.PostFormValue("id"), 10, 64)
	if err != nil {
		h.flashRedirect(w, r, sess, "danger", "Invalid password reset link.", "/")
		return
	}
	rawToken := r.PostFormValue("token")

	user, err := h.service.CompleteReset(r.Context(), userID, rawToken,
		r.PostFormValue("password"), r.PostFormValue("password_confirmation"))
	if err != nil {
		if verr, ok := AsValidationError(err); ok {
			// The reset token survives a validation failure; the same link
			// can be retried with a better password.
			h.render(w, r, http.StatusBadRequest, "pages/reset_edit.html", "Reset password",
				resetEditPageData{UserID: userID, Token: rawToken, Errors: verr})
			return
		}
		h.redirectResetFailure(w, r, sess, err)
		return
	}

	h.metrics.RecordAuthEvent("reset", "ok")
	h.establishSession(w, r, sess, user)
	h.flashRedirect(w, r, sess, "success", "Password has been reset.", fmt.Sprintf("/users/%d", user.ID))
}

func (h *Handler) redirectResetFailure(w http.ResponseWriter, r *http.Request, sess *shared.Session, err error) {
	switch {
	case errors.Is(err, ErrResetExpired):
		h.flashRedirect(w, r, sess, "danger", "Password reset has expired. Please request a new one.", "/auth/reset")
	case errors.Is(err, ErrInvalidToken):
		h.flashRedirect(w, r, sess, "danger", "Invalid password reset link.", "/")
	default:
		h.logger.Error("reset access", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// establishSession rotates the session id and binds it to the user.
func (h *Handler) establishSession(w http.ResponseWriter, r *http.Request, sess *shared.Session, user *User) {
	if sess == nil {
		h.logger.Error("session missing during login")
		return
	}
	h.sessionManager.Renew(r.Context(), sess)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
}

// formFieldErrors translates validator failures into the lowercase keys and
// user-facing messages the service layer's ValidationError uses, so both
// paths render identically.
func formFieldErrors(err error) map[string]string {
	formErrors := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return formErrors
	}
	for _, fieldErr := range verrs {
		key := strings.ToLower(fieldErr.Field())
		switch fieldErr.Tag() {
		case "required":
			formErrors[key] = "can't be blank"
		default:
			formErrors[key] = "is invalid"
		}
	}
	return formErrors
}

func (h *Handler) flashRedirect(w http.ResponseWriter, r *http.Request, sess *shared.Session, kind, message, target string) {
	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// HandleSignupForTest exposes the POST handler for tests.
func (h *Handler) HandleSignupForTest(w http.ResponseWriter, r *http.Request) {
	h.handleSignup(w, r)
}

// HandleLogoutForTest exposes the POST handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogout(w, r)
}

// HandleActivateForTest exposes the GET handler for tests.
func (h *Handler) HandleActivateForTest(w http.ResponseWriter, r *http.Request) {
	h.handleActivate(w, r)
}

// HandleResetRequestForTest exposes the POST handler for tests.
func (h *Handler) HandleResetRequestForTest(w http.ResponseWriter, r *http.Request) {
	h.handleResetRequest(w, r)
}
