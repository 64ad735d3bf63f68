package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

var (
	ErrTooLarge         = errors.New("file exceeds the upload size limit")
	ErrExtensionBlocked = errors.New("file type not allowed")
)

// RequestIDHeader correlates an upload with server logs.
const RequestIDHeader = "X-Request-ID"

type UploaderConfig struct {
	URL               string
	MaxBytes          int64
	AllowedExtensions []string
	Timeout           time.Duration
	Client            *http.Client
}

// Uploader performs the plain request/response upload exchange that sits
// beside the session protocol.
type Uploader struct {
	url      string
	maxBytes int64
	allowed  map[string]bool
	client   *http.Client
	validate *validator.Validate
}

func NewUploader(cfg UploaderConfig) *Uploader {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	allowed := map[string]bool{}
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Uploader{
		url:      cfg.URL,
		maxBytes: cfg.MaxBytes,
		allowed:  allowed,
		client:   client,
		validate: validator.New(),
	}
}

// Check applies the size and extension limits before anything is sent.
func (u *Uploader) Check(name string, size int64) error {
	if u.maxBytes > 0 && size > u.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, u.maxBytes)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if len(u.allowed) > 0 && !u.allowed[ext] {
		return fmt.Errorf("%w: %q", ErrExtensionBlocked, ext)
	}
	return nil
}

// UploadFile uploads a file from disk.
func (u *Uploader) UploadFile(ctx context.Context, filePath string) (Record, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()
	return u.Upload(ctx, filepath.Base(filePath), f)
}

// Upload posts the content as multipart form field "file" and returns the
// server's record.
func (u *Uploader) Upload(ctx context.Context, name string, r io.Reader) (Record, error) {
	if err := u.Check(name, 0); err != nil {
		return Record{}, err
	}
	if u.maxBytes > 0 {
		r = io.LimitReader(r, u.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := u.Check(name, int64(len(data))); err != nil {
		return Record{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Record{}, err
	}
	if _, err := part.Write(data); err != nil {
		return Record{}, err
	}
	if err := mw.Close(); err != nil {
		return Record{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, &body)
	if err != nil {
		return Record{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(RequestIDHeader, ulid.Make().String())

	resp, err := u.client.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Record{}, fmt.Errorf("upload failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("invalid upload response: %w", err)
	}
	if err := u.validate.Struct(rec); err != nil {
		return Record{}, fmt.Errorf("invalid upload response: %w", err)
	}
	rec.Processed = false
	rec.Context = nil
	return rec, nil
}

// Delete removes an uploaded file on the server.
func (u *Uploader) Delete(ctx context.Context, fileID string) error {
	target, err := url.Parse(u.url)
	if err != nil {
		return err
	}
	target.Path = path.Join(target.Path, url.PathEscape(fileID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set(RequestIDHeader, ulid.Make().String())
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete failed: %s", resp.Status)
	}
	return nil
}
