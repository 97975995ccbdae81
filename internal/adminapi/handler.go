package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers holds the gin route handlers; it only renders what Service has
// already accumulated.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) Status(c *gin.Context) {
	snap := h.svc.Status()
	c.JSON(http.StatusOK, gin.H{
		"playing_track_id":   snap.PlayingTrackID,
		"is_playing":         snap.IsPlaying,
		"elapsed_ms":         snap.ElapsedMS,
		"volume":             snap.Volume,
		"output_sample_rate": snap.OutputSampleRate,
		"backend_profiles":   snap.BackendProfiles,
		"cast_state":         snap.CastState.String(),
		"server_time":        snap.ServerTime,
	})
}
