package server

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/git-pkgs/ministry/internal/blobstore"
	"github.com/git-pkgs/ministry/internal/core"
	"github.com/git-pkgs/ministry/internal/formdata"
)

// Accepted values of the :action field. An absent action is treated as a
// registration.
const (
	actionUpload   = "file_upload"
	actionRegister = "submit"
)

// uploadError is a rejected upload with the status to report.
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &uploadError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// handleUpload accepts "setup.py register", "setup.py upload" and twine
// uploads.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Uploads.WithLabelValues("too_large").Inc()
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		Uploads.WithLabelValues("error").Inc()
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	UploadBytes.Add(float64(len(body)))

	form, err := s.decodeBody(r, body)
	if err == nil {
		err = s.accept(r, form)
	}
	if err != nil {
		var rejected *uploadError
		if errors.As(err, &rejected) {
			Uploads.WithLabelValues("rejected").Inc()
			s.logger.Warn("upload rejected", "reason", rejected.msg, "remote", r.RemoteAddr)
			http.Error(w, rejected.msg, rejected.status)
			return
		}
		Uploads.WithLabelValues("error").Inc()
		s.storeError(w, r, err)
		return
	}

	Uploads.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK\n")
}

// decodeBody decodes a multipart or urlencoded upload body.
func (s *Server) decodeBody(r *http.Request, body []byte) (*formdata.Form, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, badRequest("malformed form body: %v", err)
		}
		form := &formdata.Form{Fields: core.NewFields()}
		for name, vals := range values {
			for _, v := range vals {
				if formdata.MultiFields[name] {
					form.Fields.Append(name, v)
				} else {
					form.Fields.Set(name, v)
				}
			}
		}
		if form.Empty() {
			return nil, badRequest("empty form")
		}
		return form, nil
	}

	form, anomalies := formdata.Decode(body, contentType)
	for _, a := range anomalies {
		DecodeAnomalies.Inc()
		s.logger.Warn("upload body anomaly", "anomaly", a.String(), "remote", r.RemoteAddr)
	}
	if form.Empty() {
		return nil, badRequest("no form fields could be decoded")
	}
	return form, nil
}

// accept validates a decoded upload, stores its file and ingests its
// metadata. Nothing is written unless the upload is valid.
func (s *Server) accept(r *http.Request, form *formdata.Form) error {
	fields := form.Fields.Clone()
	action := fields.Get(core.FieldAction)
	switch action {
	case "", actionUpload, actionRegister:
	default:
		return badRequest("unsupported action %q", action)
	}

	name := strings.ToLower(strings.TrimSpace(fields.Get(core.FieldName)))
	version := strings.ToLower(strings.TrimSpace(fields.Get(core.FieldVersion)))
	if name == "" || version == "" {
		return badRequest("name and version are required")
	}

	if action == actionUpload && form.File == nil {
		return badRequest("file upload without file content")
	}

	ctx := r.Context()
	if form.File == nil {
		if raw := fields.Get(core.FieldFiletype); raw != "" {
			if _, err := core.ParseFiletype(raw); err != nil {
				return badRequest("%v", err)
			}
		}
		return s.store.Ingest(ctx, name, version, fields)
	}

	file := form.File
	ft, err := core.ParseFiletype(fields.Get(core.FieldFiletype))
	if err != nil {
		return badRequest("%v", err)
	}
	key := blobstore.Key(name, file.Name)
	if err := blobstore.ValidName(key); err != nil {
		return badRequest("invalid filename %q", file.Name)
	}

	sum := md5.Sum(file.Content)
	md5Digest := hex.EncodeToString(sum[:])
	if sent := strings.TrimSpace(fields.Get(core.FieldMD5Digest)); sent != "" && !strings.EqualFold(sent, md5Digest) {
		return badRequest("md5_digest does not match the uploaded file")
	}
	b3 := blake3.Sum256(file.Content)

	fields.Set(core.FieldMD5Digest, md5Digest)
	fields.Set(core.FieldBlake3Digest, hex.EncodeToString(b3[:]))
	fields.Set(core.FieldUploadTime, time.Now().UTC().Format(time.RFC3339))
	if core.Placeholder(fields.Get(core.FieldDownloadURL)) {
		fields.Set(core.FieldDownloadURL, s.urls.Download(name, file.Name))
	}

	if err := s.blobs.Put(ctx, key, file.Content); err != nil {
		return err
	}
	// The uploaded file is always served from local storage, whatever
	// download_url the client declared for the project.
	return s.store.IngestFile(ctx, name, version, fields, core.File{
		Filetype: ft,
		Filename: file.Name,
		MD5:      md5Digest,
	})
}
