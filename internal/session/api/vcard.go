package api

import (
	"mime"
	"net/http"

	"teamcards/internal/domain"
	"teamcards/internal/vcard"
)

func writeVCard(w http.ResponseWriter, p domain.Profile, org string) {
	w.Header().Set("Content-Type", vcard.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": vcard.FileName(p),
	}))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(vcard.Generate(p, org)))
}
