package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/obs"
	"parceltrack.org/internal/tracking"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errInvalidJSON  = errors.New("invalid JSON body")
	errBodyTooLarge = errors.New("request body too large")
)

type createPackageRequest struct {
	TrackingNumber  string   `json:"trackingNumber"`
	Carrier         *string  `json:"carrier"`
	Status          *string  `json:"status"`
	LastLocationLat *float64 `json:"lastLocationLat"`
	LastLocationLng *float64 `json:"lastLocationLng"`
	OwnerUserID     *string  `json:"ownerUserId"`
}

type updatePackageRequest struct {
	Carrier         *string  `json:"carrier"`
	Status          *string  `json:"status"`
	LastLocationLat *float64 `json:"lastLocationLat"`
	LastLocationLng *float64 `json:"lastLocationLng"`
}

type setOwnerRequest struct {
	OwnerUserID *string `json:"ownerUserId"`
}

type demoPackagesResponse struct {
	OK      bool     `json:"ok"`
	Created []string `json:"created"`
}

func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	p, err := a.tracking.Get(r.Context(), r.PathValue("trackingNumber"))
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) createPackage(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var req createPackageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.tracking.Create(r.Context(), caller, tracking.CreateInput{
		TrackingNumber:  req.TrackingNumber,
		Carrier:         req.Carrier,
		Status:          req.Status,
		LastLocationLat: req.LastLocationLat,
		LastLocationLng: req.LastLocationLng,
		OwnerUserID:     req.OwnerUserID,
	})
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}

	a.audit(r, "package.created", map[string]string{"tracking_number": p.TrackingNumber, "owner_user_id": deref(p.OwnerUserID)})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) updatePackage(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var req updatePackageRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.tracking.Update(r.Context(), caller, r.PathValue("trackingNumber"), tracking.Patch{
		Carrier:         req.Carrier,
		Status:          req.Status,
		LastLocationLat: req.LastLocationLat,
		LastLocationLng: req.LastLocationLng,
	})
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) setPackageOwner(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req setOwnerRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.tracking.SetOwner(r.Context(), caller, r.PathValue("trackingNumber"), req.OwnerUserID)
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}

	a.audit(r, "package.owner_changed", map[string]string{"tracking_number": p.TrackingNumber, "owner_user_id": deref(p.OwnerUserID)})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deletePackage(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAuth(w, r)
	if !ok {
		return
	}
	tn := r.PathValue("trackingNumber")
	if err := a.tracking.Delete(r.Context(), caller, tn); err != nil {
		handleTrackingError(w, r, err)
		return
	}

	a.audit(r, "package.deleted", map[string]string{"tracking_number": tn})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) listMyPackages(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAuth(w, r)
	if !ok {
		return
	}
	pkgs, err := a.tracking.ListOwnedBy(r.Context(), caller.ID())
	if err != nil {
		handleTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pkgs)
}

func (a *API) createDemoPackages(w http.ResponseWriter, r *http.Request) {
	created, err := a.tracking.CreateDemoPackages(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		var fe tracking.FieldErrors
		if errors.As(err, &fe) {
			writeError(w, r, http.StatusBadRequest, "username required")
			return
		}
		handleTrackingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, demoPackagesResponse{OK: true, Created: created})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decodeJSON reads one JSON object into dst. Keys dst does not declare are
// ignored, so clients may send back a record they fetched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errInvalidJSON
		}
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case errors.As(err, &tooLarge):
		return errBodyTooLarge
	default:
		return errInvalidJSON
	}
}

func handleTrackingError(w http.ResponseWriter, r *http.Request, err error) {
	var fe tracking.FieldErrors
	switch {
	case errors.As(err, &fe):
		writeFieldErrors(w, r, fe)
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrForbidden):
		handleAuthError(w, r, err)
	case errors.Is(err, tracking.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, tracking.ErrOwnerRequired),
		errors.Is(err, tracking.ErrAlreadyExists),
		errors.Is(err, tracking.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracking.ErrNotFound),
		errors.Is(err, tracking.ErrOwnerNotFound),
		errors.Is(err, tracking.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Logger().Error("tracking request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeFieldErrors(w http.ResponseWriter, r *http.Request, fe tracking.FieldErrors) {
	payload := map[string]any{
		"errors": fe,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
