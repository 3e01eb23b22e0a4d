package httpapi

import (
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"parceltrack.org/internal/audit"
	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/avatar"
	"parceltrack.org/internal/obs"
)

// loginRequest covers both credential login and mock login.
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`

	Provider *string `json:"provider"`
	Code     *string `json:"code"`
	Name     string  `json:"name"`
}

type signupRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type adminTokenRequest struct {
	AdminSecret string `json:"adminSecret"`
}

type deleteUserResponse struct {
	OK bool `json:"ok"`
	auth.Removal
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	login := strings.TrimSpace(req.Username)
	if login == "" {
		login = strings.TrimSpace(req.Email)
	}

	var (
		sess auth.Session
		err  error
	)
	if login != "" && req.Password != "" {
		sess, err = a.auth.Login(r.Context(), login, req.Password)
	} else {
		provider, code := "mock", "mock"
		if req.Provider != nil {
			provider = strings.TrimSpace(*req.Provider)
		}
		if req.Code != nil {
			code = strings.TrimSpace(*req.Code)
		}
		if provider == "" || code == "" {
			writeError(w, r, http.StatusBadRequest, "missing credentials")
			return
		}
		sess, err = a.auth.LoginMock(r.Context(), req.Name)
	}
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		obs.Logger().Error("login failed", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	a.audit(r, "auth.login", map[string]string{"user_id": sess.User.ID})
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	in, file, err := a.readSignup(w, r)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, avatar.ErrTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		writeError(w, r, code, err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	if file != nil {
		defer file.Close()
	}
	if in.Username == "" || in.Email == "" || in.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username, email, password required")
		return
	}

	if file != nil && a.avatars != nil {
		ref, err := a.avatars.Save(r.Context(), file.name, file.contentType, file, file.size)
		if err != nil {
			if errors.Is(err, avatar.ErrTooLarge) {
				writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
				return
			}
			obs.Logger().Error("avatar save failed", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "signup failed")
			return
		}
		in.AvatarRef = &ref
	}

	sess, err := a.auth.Signup(r.Context(), in)
	if err != nil {
		if in.AvatarRef != nil {
			a.discardAvatar(r, *in.AvatarRef)
		}
		handleSignupError(w, r, err)
		return
	}

	a.audit(r, "auth.signup", map[string]string{"user_id": sess.User.ID, "username": sess.User.Username})
	writeJSON(w, http.StatusCreated, sess)
}

// discardAvatar removes an avatar saved for a signup that did not complete.
func (a *API) discardAvatar(r *http.Request, ref string) {
	if err := a.avatars.Delete(context.WithoutCancel(r.Context()), ref); err != nil {
		obs.Logger().Warn("orphaned avatar not removed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("avatar", ref),
			zap.Error(err))
	}
}

type uploadedFile struct {
	multipart.File
	name        string
	contentType string
	size        int64
}

// readSignup accepts multipart/form-data (with an optional "avatar" file part)
// or a JSON body.
func (a *API) readSignup(w http.ResponseWriter, r *http.Request) (auth.SignupInput, *uploadedFile, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req signupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return auth.SignupInput{}, nil, err
		}
		return signupInput(req), nil, nil
	}

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return auth.SignupInput{}, nil, errors.New("invalid multipart body")
	}
	req := signupRequest{
		FirstName: r.FormValue("firstName"),
		LastName:  r.FormValue("lastName"),
		Username:  r.FormValue("username"),
		Email:     r.FormValue("email"),
		Password:  r.FormValue("password"),
	}
	f, hdr, err := r.FormFile("avatar")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return signupInput(req), nil, nil
	case err != nil:
		return auth.SignupInput{}, nil, errors.New("invalid avatar upload")
	}
	if hdr.Size > avatar.MaxSize {
		_ = f.Close()
		return auth.SignupInput{}, nil, avatar.ErrTooLarge
	}
	return signupInput(req), &uploadedFile{
		File:        f,
		name:        hdr.Filename,
		contentType: hdr.Header.Get("Content-Type"),
		size:        hdr.Size,
	}, nil
}

func signupInput(req signupRequest) auth.SignupInput {
	return auth.SignupInput{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
	}
}

func (a *API) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	var req adminTokenRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	secret := req.AdminSecret
	if secret == "" {
		secret = r.Header.Get(adminSecretHeader)
	}

	sess, err := a.auth.IssueAdminToken(secret)
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			a.audit(r, "auth.admin_token.denied", nil)
			writeError(w, r, http.StatusForbidden, "invalid admin secret")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.audit(r, "auth.admin_token.issued", nil)
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": id.User})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("id")
	removal, err := a.auth.DeleteUser(r.Context(), caller, userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r, "auth.user.deleted", map[string]string{
		"deleted_user_id":   userID,
		"released_packages": strconv.FormatInt(removal.ReleasedPackages, 10),
	})
	writeJSON(w, http.StatusOK, deleteUserResponse{OK: true, Removal: removal})
}

func handleSignupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "username or email already exists")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "username, email, password required")
	default:
		obs.Logger().Error("signup failed", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "signup failed")
	}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "admin access required")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
	default:
		obs.Logger().Error("auth request failed", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) audit(r *http.Request, event string, fields map[string]string) {
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		obs.Logger().Debug("audit log failed", zap.String("event", event), zap.Error(err))
	}
}
