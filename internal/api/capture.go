package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/camera"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/collector"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type photoResponse struct {
	Status  string `json:"status"`
	Image   string `json:"image,omitempty"`
	Message string `json:"message,omitempty"`
}

// StartCaptureHandler arms the detector.
func (h *Handlers) StartCaptureHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ctrl.StartCapture(r.Context()); err != nil {
		h.log.Error("start capture failed", "err", err)
		h.writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{Status: "Capture started"})
}

// StopCaptureHandler pauses the detector.
func (h *Handlers) StopCaptureHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ctrl.StopCapture(r.Context()); err != nil {
		h.log.Error("stop capture failed", "err", err)
		h.writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Message: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{Status: "Capture stopped"})
}

// ManualCaptureHandler всегда отвечает 200, исход виден по полю status
func (h *Handlers) ManualCaptureHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctrl.ManualCapture(r.Context())
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, statusResponse{Status: string(collector.ManualSuccess), Message: "Image uploaded and motion reported"})
	case errors.Is(err, camera.ErrFrameAcquisition):
		h.writeJSON(w, http.StatusOK, statusResponse{Status: "error", Message: err.Error()})
	case res.Status != "":
		h.writeJSON(w, http.StatusOK, statusResponse{Status: string(res.Status), Message: err.Error()})
	default:
		h.writeJSON(w, http.StatusOK, statusResponse{Status: "error", Message: err.Error()})
	}
}

func (h *Handlers) TakePhotoHandler(w http.ResponseWriter, r *http.Request) {
	img, err := h.ctrl.TakePhoto(r.Context())
	if err != nil {
		h.log.Error("error capturing photo", "err", err)
		h.writeJSON(w, http.StatusOK, photoResponse{Status: "error", Message: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, photoResponse{Status: "success", Image: base64.StdEncoding.EncodeToString(img)})
}
