package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/icholy/digest"
	"github.com/pkg/errors"

	"github.com/arzzra/rcs_core/pkg/envelope"
)

// Content загружаемый файл.
type Content struct {
	Name     string
	MimeType string
	Size     int64
	Data     io.ReaderAt
}

// ProgressFunc вызывается по мере отправки с числом уже отправленных байт.
type ProgressFunc func(sent, total int64)

// ClientConfig параметры контент сервера FT-HTTP.
type ClientConfig struct {
	URL string
	// Username и Password для digest авторизации, пустые выключают ее
	Username string
	Password string
	Timeout  time.Duration
	// Transport для тестов, по умолчанию http.DefaultTransport
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client HTTP клиент контент сервера: загрузка, состояние загрузки и
// докачка.
type Client struct {
	url    *url.URL
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse upload url %q", cfg.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported upload url scheme %q", u.Scheme)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Username != "" {
		transport = &digest.Transport{
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    u,
		http:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// Upload отправляет файл multipart/form-data запросом POST и возвращает
// описание файла от сервера.
func (c *Client) Upload(ctx context.Context, tid string, content Content, progress ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	tidPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="tid"`},
		"Content-Type":        {"text/plain"},
		"Content-Length":      {strconv.Itoa(len(tid))},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create tid part")
	}
	if _, err := io.WriteString(tidPart, tid); err != nil {
		return nil, errors.Wrap(err, "write tid part")
	}
	if _, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="File"; filename="%s"`, content.Name)},
		"Content-Type":        {content.MimeType},
		"Content-Length":      {strconv.FormatInt(content.Size, 10)},
	}); err != nil {
		return nil, errors.Wrap(err, "create file part")
	}
	head := append([]byte(nil), buf.Bytes()...)
	buf.Reset()
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart")
	}
	tail := append([]byte(nil), buf.Bytes()...)

	size := int64(len(head)) + content.Size + int64(len(tail))
	newBody := func() io.Reader {
		return io.MultiReader(
			bytes.NewReader(head),
			io.NewSectionReader(content.Data, 0, content.Size),
			bytes.NewReader(tail),
		)
	}

	// прогресс считается по байтам файла без обрамления multipart
	var fileProgress ProgressFunc
	if progress != nil {
		headLen := int64(len(head))
		fileProgress = func(sent, _ int64) {
			n := min(max(sent-headLen, 0), content.Size)
			progress(n, content.Size)
		}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.url.String(), newBody, size, fileProgress)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	c.logger.Debug("Client.Upload",
		slog.String("tid", tid),
		slog.String("file", content.Name),
		slog.Int64("size", content.Size))
	return c.do(req)
}

// ResumeInfo запрашивает у сервера, какая часть файла уже загружена.
func (c *Client) ResumeInfo(ctx context.Context, tid string) (*envelope.FileTransferHttpResumeInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL(tid, "get_upload_info"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create resume info request")
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	info, ok := envelope.ParseFileTransferHttpResumeInfo(body)
	if !ok {
		return nil, errors.New("invalid file-resume-info document")
	}
	return info, nil
}

// ResumeUpload докачивает файл с позиции после info.End запросом PUT и
// запрашивает описание файла.
func (c *Client) ResumeUpload(ctx context.Context, tid string, info *envelope.FileTransferHttpResumeInfo, content Content, progress ProgressFunc) ([]byte, error) {
	offset := info.End + 1
	if offset < content.Size {
		remaining := content.Size - offset
		newBody := func() io.Reader {
			return io.NewSectionReader(content.Data, offset, remaining)
		}
		var shifted ProgressFunc
		if progress != nil {
			shifted = func(sent, _ int64) { progress(offset+sent, content.Size) }
		}
		req, err := c.newRequest(ctx, http.MethodPut, info.URI, newBody, remaining, shifted)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", content.MimeType)
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, content.Size-1, content.Size))

		c.logger.Debug("Client.ResumeUpload",
			slog.String("tid", tid),
			slog.Int64("offset", offset),
			slog.Int64("size", content.Size))
		if _, err := c.do(req); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL(tid, "get_download_info"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create download info request")
	}
	return c.do(req)
}

func (c *Client) queryURL(tid, action string) string {
	u := *c.url
	q := u.Query()
	q.Set("tid", tid)
	u.RawQuery = q.Encode() + "&" + action
	return u.String()
}

// newRequest тело пересоздается через GetBody, чтобы digest авторизация
// могла повторить запрос.
func (c *Client) newRequest(ctx context.Context, method, target string, newBody func() io.Reader, size int64, progress ProgressFunc) (*http.Request, error) {
	getBody := func() (io.ReadCloser, error) {
		return io.NopCloser(newProgressReader(newBody(), size, progress)), nil
	}
	body, _ := getBody()
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s request", method)
	}
	req.ContentLength = size
	req.GetBody = getBody
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Redacted())
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	if res.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: res.StatusCode, Status: res.Status}
	}
	return body, nil
}

// StatusError неуспешный ответ контент сервера.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "content server responded " + e.Status
}

type progressReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) io.Reader {
	if progress == nil {
		return r
	}
	return &progressReader{r: r, total: total, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.progress(p.sent, p.total)
	}
	return n, err
}
