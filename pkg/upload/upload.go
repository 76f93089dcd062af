// Package upload sends knowledge-base documents to the agent's ingestion
// endpoint.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/chatwidget/pkg/httpclient"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	MaxFileSize = 10 * 1024 * 1024

	TypePDF  = "application/pdf"
	TypeJSON = "application/json"

	FailedUploadMessage = "Failed to upload PDF"
)

var AllowedTypes = []string{TypePDF, TypeJSON}

// ValidationError is a user facing rejection of a file before any upload.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks the size limit first, then the content type.
func Validate(size int64, contentType string) error {
	if size > MaxFileSize {
		return &ValidationError{Message: fmt.Sprintf(
			"File size exceeds 10MB limit. Selected file is %.2fMB", float64(size)/1024/1024)}
	}
	for _, t := range AllowedTypes {
		if contentType == t {
			return nil
		}
	}
	return &ValidationError{Message: "Only PDF or JSON files are allowed"}
}

// DetectType guesses the content type from the extension, falling back to
// sniffing the first bytes.
func DetectType(path string, head []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	t := http.DetectContentType(head)
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

// Result mirrors the response envelope shown to the user.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Client struct {
	url  string
	http *retryablehttp.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: httpclient.New(httpclient.Options{Component: "upload", RetryMax: 2, Timeout: timeout}),
	}
}

// File validates and uploads one file as multipart field "file". Validation
// failures are returned as *ValidationError; a rejected upload is reported
// in the Result, not as an error.
func (c *Client) File(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return Result{}, errors.Wrapf(err, "stat %s", path)
	}
	if st.IsDir() {
		return Result{}, errors.Errorf("%s is a directory", path)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, errors.Wrapf(err, "read %s", path)
	}
	contentType := DetectType(path, head[:n])
	if err := Validate(st.Size(), contentType); err != nil {
		return Result{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Result{}, errors.Wrapf(err, "rewind %s", path)
	}

	body, formType, err := multipartBody(filepath.Base(path), contentType, f)
	if err != nil {
		return Result{}, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return Result{}, errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", formType)

	log.Info().Str("component", "upload").Str("file", path).Str("type", contentType).Int64("size", st.Size()).Msg("uploading")
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Str("component", "upload").Err(err).Msg("upload failed")
		return Result{Success: false, Message: FailedUploadMessage}, nil
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Str("component", "upload").Int("status", resp.StatusCode).Msg("upload rejected")
		return Result{Success: false, Message: FailedUploadMessage}, nil
	}
	if !json.Valid(data) {
		data, _ = json.Marshal(string(data))
	}
	return Result{Success: true, Data: data}, nil
}

func multipartBody(name, contentType string, r io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", errors.Wrap(err, "create form part")
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", errors.Wrap(err, "copy file into form")
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close form")
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
