package api

import (
	"fmt"
	"net/http"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/sysinfo"
)

const ntpTimeLayout = "2006-01-02 15:04:05"

func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health, err := h.host.Health(r.Context())
	if err != nil {
		h.log.Error("error fetching health data", "err", err)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "Error fetching health data"})
		return
	}
	h.writeJSON(w, http.StatusOK, health)
}

func (h *Handlers) NetworkSettingsHandler(w http.ResponseWriter, r *http.Request) {
	network, err := h.host.Network(r.Context())
	if err != nil {
		h.log.Error("error fetching network settings", "err", err)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": fmt.Sprintf("Error fetching network data: %v", err)})
		return
	}
	h.writeJSON(w, http.StatusOK, network)
}

func (h *Handlers) NTPCheckHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":           sysinfo.StatusOnline,
		"current_ntp_time": h.clock.Now().Format(ntpTimeLayout),
	})
}

// CameraCheckHandler grabs one frame to prove the source is reachable.
func (h *Handlers) CameraCheckHandler(w http.ResponseWriter, r *http.Request) {
	bounds, err := h.ctrl.CameraCheck(r.Context())
	if err != nil {
		h.log.Error("error fetching camera data", "err", err)
		h.writeJSON(w, http.StatusOK, map[string]string{"status": fmt.Sprintf("Error fetching camera data: %v", err)})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":        sysinfo.StatusOnline,
		"camera_status": fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
	})
}
