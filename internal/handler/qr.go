package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/stayline/whatsapp-bridge-go/internal/model"
)

const qrImageSize = 320

type QRHandler struct {
	session SessionController
}

func NewQRHandler(sessionCtl SessionController) *QRHandler {
	return &QRHandler{session: sessionCtl}
}

// GET /qr.png
// Renders the current pairing challenge as a scannable PNG. Available only
// while the session is in the pairing phase; the code rotates, so clients
// should poll.
func (h *QRHandler) Image(w http.ResponseWriter, r *http.Request) {
	status := h.session.Status()
	if status.Phase != model.PhasePairing || status.PairingCode == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "No pairing in progress",
		})
		return
	}

	png, err := qrcode.Encode(status.PairingCode, qrcode.Medium, qrImageSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to render pairing code")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Failed to render pairing code",
		})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
