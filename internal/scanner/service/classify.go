package service

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jmerrifield20/hashverdict/internal/scanner/model"
)

// FileField is the multipart form field that carries an uploaded file.
const FileField = "file"

// maxJSONBody caps the size of a JSON hash submission.
const maxJSONBody = 1 << 20

var (
	// ErrClassification is the parent of every classifier error.
	ErrClassification = errors.New("classification failed")

	// ErrMissingHash means a JSON body was sent without a usable "hash" field.
	ErrMissingHash = fmt.Errorf("%w: no hash provided", ErrClassification)

	// ErrUnsupportedMediaType means the request carried neither a file nor JSON.
	ErrUnsupportedMediaType = fmt.Errorf("%w: unsupported media type", ErrClassification)
)

type hashRequest struct {
	Hash any `json:"hash"`
}

// Classify decides what r submits. A multipart file part always wins over the
// declared content type; otherwise a JSON body must carry a non-empty string
// "hash". Anything else is an unsupported media type.
//
// A returned file upload streams from r.Body, so the caller must consume it
// before the request completes.
func Classify(r *http.Request) (*model.Submission, error) {
	if sub, ok := fileUpload(r); ok {
		return sub, nil
	}

	if isJSON(r.Header.Get("Content-Type")) {
		hash, ok := decodeHash(r.Body)
		if !ok {
			return nil, ErrMissingHash
		}
		return model.NewHashReference(hash), nil
	}

	return nil, ErrUnsupportedMediaType
}

// fileUpload walks multipart parts looking for FileField. Parts before it are
// skipped without buffering.
func fileUpload(r *http.Request) (*model.Submission, bool) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, false
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, false
		}
		if part.FormName() == FileField {
			return model.NewFileUpload(part.FileName(), part), true
		}
		_ = part.Close()
	}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, "application/json")
}

func decodeHash(body io.Reader) (string, bool) {
	if body == nil {
		return "", false
	}
	var req hashRequest
	if err := json.NewDecoder(io.LimitReader(body, maxJSONBody)).Decode(&req); err != nil {
		return "", false
	}
	hash, ok := req.Hash.(string)
	if !ok || hash == "" {
		return "", false
	}
	return hash, true
}
