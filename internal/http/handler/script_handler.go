package handler

import (
	"net/http"

	"github.com/navihealth/navi-portal/internal/messaging"
)

// LoaderScript serves the parent-page SDK. Its embed origin is derived from
// the URL it was loaded from.
func LoaderScript(w http.ResponseWriter, _ *http.Request) {
	hdr := w.Header()
	hdr.Set("Content-Type", "application/javascript; charset=utf-8")
	hdr.Set("Cache-Control", "public, max-age=300")
	hdr.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(messaging.LoaderScript())
}
