package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appanalysis "github.com/bryanwahyu/stageready/internal/application/analysis"
	appprops "github.com/bryanwahyu/stageready/internal/application/properties"
	domai "github.com/bryanwahyu/stageready/internal/domain/ai"
	domain "github.com/bryanwahyu/stageready/internal/domain/properties"
	"github.com/bryanwahyu/stageready/internal/domain/runlog"
)

const maxPhotoBytes = 15 << 20

type Router struct {
	propsSvc    *appprops.Service
	analysisSvc *appanalysis.Service
	runErrors   runlog.Repository // optional, nil when the driver has no audit table
	hmacKey     []byte
}

func NewRouter(propsSvc *appprops.Service, analysisSvc *appanalysis.Service, runErrors runlog.Repository, hmacKey []byte) http.Handler {
	r := &Router{propsSvc: propsSvc, analysisSvc: analysisSvc, runErrors: runErrors, hmacKey: hmacKey}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Signature"},
	}))

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.Route("/api", func(rt chi.Router) {
		rt.Post("/properties", r.wrap(r.handleCreateProperty))
		rt.Get("/properties/{id}/upload-link", r.wrap(r.handleUploadLink))
		rt.Get("/properties/by-token/{token}", r.wrap(r.handleGetByToken))
		rt.Post("/uploads/{token}/photos", r.wrap(r.handleUploadPhoto))
		rt.Post("/webhooks/payment", r.wrap(r.handlePaymentWebhook))
		rt.Post("/analysis/analyze", r.handleAnalyze)
		rt.Get("/analysis/errors/{id}", r.wrap(r.handleRunErrors))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound), errors.Is(err, sql.ErrNoRows):
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "Invalid or expired upload link"})
			case errors.Is(err, domain.ErrNotPaid),
				errors.Is(err, domain.ErrTokenNotIssued),
				errors.Is(err, domain.ErrNoPhotos):
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			default:
				writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error"})
			}
		}
	}
}

// POST /api/properties
// Body: {"name": "...", "email": "...", "phone": "...", "address": "..."}
func (r *Router) handleCreateProperty(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Phone   string `json:"phone"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return nil
	}
	if body.Name == "" || body.Email == "" || body.Address == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Missing required fields"})
		return nil
	}

	id, err := r.propsSvc.CreateProperty(req.Context(), appprops.CreatePropertyCommand{
		Name:    body.Name,
		Email:   body.Email,
		Phone:   body.Phone,
		Address: body.Address,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]string{"propertyId": string(id)})
}

// GET /api/properties/{id}/upload-link
func (r *Router) handleUploadLink(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	token, err := r.propsSvc.UploadLink(req.Context(), domain.PropertyID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"uploadToken": token})
}

// GET /api/properties/by-token/{token}
func (r *Router) handleGetByToken(w http.ResponseWriter, req *http.Request) error {
	token := chi.URLParam(req, "token")
	p, err := r.propsSvc.GetByToken(req.Context(), token)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"address": p.Address,
		"status":  p.Status,
		"user": map[string]string{
			"name":  p.Owner.Name,
			"email": p.Owner.Email,
			"phone": p.Owner.Phone,
		},
		"photos":          p.Photos,
		"analysisStatus":  p.AnalysisStatus,
		"analysisResults": p.AnalysisResults,
		"analysisCount":   p.AnalysisCount,
		"analysisMode":    p.AnalysisMode,
	})
}

// POST /api/uploads/{token}/photos
// multipart form: photo (file), roomType (field)
func (r *Router) handleUploadPhoto(w http.ResponseWriter, req *http.Request) error {
	token := chi.URLParam(req, "token")

	if err := req.ParseMultipartForm(maxPhotoBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid multipart form"})
		return nil
	}
	roomType := domain.RoomType(req.FormValue("roomType"))
	if !domain.ValidRoomType(roomType) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": fmt.Sprintf("invalid roomType: %s", roomType)})
		return nil
	}

	file, header, err := req.FormFile("photo")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "photo file is required"})
		return nil
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes))
	if err != nil {
		return err
	}
	contentType := header.Header.Get("Content-Type")

	photo, err := r.propsSvc.UploadPhoto(req.Context(), token, roomType, data, contentType)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]any{"photo": photo})
}

// POST /api/webhooks/payment
// The payment provider confirms a checkout; the body is HMAC-signed.
func (r *Router) handlePaymentWebhook(w http.ResponseWriter, req *http.Request) error {
	payload, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return err
	}

	if len(r.hmacKey) > 0 {
		if !verifySignature(r.hmacKey, payload, req.Header.Get("X-Signature")) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid webhook signature"})
			return nil
		}
	}

	var body struct {
		PropertyID string `json:"propertyId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.PropertyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "propertyId is required"})
		return nil
	}

	if err := r.propsSvc.ConfirmPayment(req.Context(), domain.PropertyID(body.PropertyID)); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// GET /api/analysis/errors/{id}
// Recent run errors for a property, newest first. Support tooling only.
func (r *Router) handleRunErrors(w http.ResponseWriter, req *http.Request) error {
	if r.runErrors == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "run error log not available"})
		return nil
	}
	id := chi.URLParam(req, "id")
	entries, err := r.runErrors.ListByProperty(req.Context(), id, 20)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*runlog.RunError{}
	}
	return writeJSON(w, http.StatusOK, map[string]any{"errors": entries})
}

// POST /api/analysis/analyze
// Body: {"token": "<upload token>"}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "token is required"})
		return
	}

	snap, err := r.analysisSvc.RequestAnalysis(req.Context(), body.Token)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, domain.ErrRunBudgetExceeded):
		// Budget responses carry the last persisted results unchanged.
		writeJSON(w, http.StatusTooManyRequests, snap)
	case errors.Is(err, domai.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"message": "AI analysis limit has been reached for now. Please wait a while and try again later.",
			"code":    "AI_RATE_LIMIT",
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Invalid or expired upload link"})
	case errors.Is(err, domain.ErrNoPhotos):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "No photos to analyze"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Analysis failed"})
	}
}

func verifySignature(key, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
