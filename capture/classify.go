package capture

import (
	"mime"
	"net/http"
	"strings"

	"github.com/sgic-platform/sgic-audit/model"
)

var searchParams = []string{"q", "search", "query", "recherche", "term"}

var downloadPathHints = []string{"/download", "/telecharger", "/export"}

var downloadTypes = []string{
	"application/octet-stream",
	"application/pdf",
	"application/zip",
	"image/",
	"text/csv",
}

// Classify maps a request to the action kind it performs by default.
func Classify(r *http.Request) model.ActionKind {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		switch {
		case isDownload(r):
			return model.ActionDownload
		case isSearch(r):
			return model.ActionSearch
		}
		return model.ActionView
	case http.MethodPost:
		if isUpload(r) {
			return model.ActionUpload
		}
		return model.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return model.ActionUpdate
	case http.MethodDelete:
		return model.ActionDelete
	}
	return model.ActionView
}

func isSearch(r *http.Request) bool {
	q := r.URL.Query()
	for _, k := range searchParams {
		if strings.TrimSpace(q.Get(k)) != "" {
			return true
		}
	}
	return false
}

func isDownload(r *http.Request) bool {
	path := strings.ToLower(r.URL.Path)
	for _, h := range downloadPathHints {
		if strings.Contains(path, h) {
			return true
		}
	}
	q := r.URL.Query()
	for _, k := range []string{"download", "export"} {
		switch strings.ToLower(q.Get(k)) {
		case "1", "true", "oui":
			return true
		}
	}
	accept := strings.ToLower(r.Header.Get("Accept"))
	if accept == "" || strings.Contains(accept, "html") || strings.Contains(accept, "json") {
		return false
	}
	for _, t := range downloadTypes {
		if strings.HasPrefix(accept, t) {
			return true
		}
	}
	return false
}

func isUpload(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// ErrorAction maps an error status on a non-mutating request to its action
// kind. ok is false for statuses recorded under the request's own kind.
func ErrorAction(status int) (model.ActionKind, bool) {
	switch {
	case status == http.StatusUnauthorized:
		return model.ActionAccessDenied, true
	case status == http.StatusForbidden:
		return model.ActionError403, true
	case status == http.StatusNotFound:
		return model.ActionError404, true
	case status >= http.StatusInternalServerError:
		return model.ActionError500, true
	}
	return "", false
}
