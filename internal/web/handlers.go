package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/facegate/facegate/internal/extractor"
	"github.com/facegate/facegate/internal/index"
	"github.com/facegate/facegate/internal/pam"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/verify"
)

// maxUploadBytes bounds verify/identify image uploads.
const maxUploadBytes = 16 << 20

type handlers struct {
	templates *store.Store
	engine    *verify.Engine
	extract   pam.Extractor
	idx       *index.Index
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	infos, err := h.templates.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "listing templates failed")
		return
	}

	if filter := r.URL.Query().Get("filter"); filter != "" {
		filtered := infos[:0]
		for _, info := range infos {
			if store.MatchesName(info.Username, filter) {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}

	respondJSON(w, http.StatusOK, map[string]any{"users": infos, "count": len(infos)})
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	tpl, err := h.templates.Load(username)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotEnrolled):
			respondError(w, http.StatusNotFound, "user not enrolled")
		case errors.Is(err, store.ErrInvalidUsername):
			respondError(w, http.StatusBadRequest, "invalid username")
		default:
			respondError(w, http.StatusInternalServerError, "loading template failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, tpl.Info())
}

func (h *handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.templates.Delete(username); err != nil {
		if errors.Is(err, store.ErrInvalidUsername) {
			respondError(w, http.StatusBadRequest, "invalid username")
			return
		}
		respondError(w, http.StatusInternalServerError, "deleting template failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": username})
}

// readUploadedImage pulls the image part out of a multipart request.
func readUploadedImage(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, maxUploadBytes))
}

// verifyImage runs the decision engine against an uploaded image instead
// of a live capture. Distances are exposed here deliberately: this is the
// operator's threshold-tuning tool, not the login path.
func (h *handlers) verifyImage(w http.ResponseWriter, r *http.Request) {
	imageData, err := readUploadedImage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	username := r.FormValue("username")
	if username == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	emb, err := h.extract.Extract(r.Context(), imageData)
	if err != nil {
		switch {
		case errors.Is(err, extractor.ErrNoFaceDetected):
			respondError(w, http.StatusUnprocessableEntity, "no face detected")
		case errors.Is(err, extractor.ErrMultipleFaces):
			respondError(w, http.StatusUnprocessableEntity, "multiple faces detected")
		case errors.Is(err, extractor.ErrImageUnreadable):
			respondError(w, http.StatusBadRequest, "image unreadable")
		default:
			respondError(w, http.StatusBadGateway, "extraction failed")
		}
		return
	}

	decision, err := h.engine.Decide(username, emb)
	if err != nil {
		if errors.Is(err, verify.ErrModelMismatch) {
			respondError(w, http.StatusConflict, "template model version mismatch")
			return
		}
		respondError(w, http.StatusInternalServerError, "decision failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"username":  username,
		"allow":     decision.Allow,
		"reason":    decision.Reason,
		"distance":  decision.Distance,
		"threshold": h.engine.Threshold(),
	})
}

// identifyImage returns the enrolled users nearest to an uploaded image.
// The index is rebuilt per request; enrollment counts are small and the
// store on disk is the source of truth.
func (h *handlers) identifyImage(w http.ResponseWriter, r *http.Request) {
	imageData, err := readUploadedImage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	k := 3
	if v := r.FormValue("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}

	emb, err := h.extract.Extract(r.Context(), imageData)
	if err != nil {
		switch {
		case errors.Is(err, extractor.ErrNoFaceDetected):
			respondError(w, http.StatusUnprocessableEntity, "no face detected")
		case errors.Is(err, extractor.ErrMultipleFaces):
			respondError(w, http.StatusUnprocessableEntity, "multiple faces detected")
		default:
			respondError(w, http.StatusBadGateway, "extraction failed")
		}
		return
	}

	templates, err := h.templates.LoadAll()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "loading templates failed")
		return
	}
	if err := h.idx.Build(templates); err != nil {
		respondError(w, http.StatusInternalServerError, "building index failed")
		return
	}
	if h.idx.Len() == 0 {
		respondJSON(w, http.StatusOK, map[string]any{"matches": []index.Match{}})
		return
	}

	matches, err := h.idx.Nearest(emb.Vector, k)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
