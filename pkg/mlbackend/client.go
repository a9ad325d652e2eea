// Package mlbackend talks to the external watermark service: embedding a
// watermark into an uploaded video and extracting one from a probe.
package mlbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"watermark-gateway/pkg/apperror"
	"watermark-gateway/pkg/watermark"

	"github.com/go-playground/validator/v10"
)

const (
	serviceEmbedding  = "embedding"
	serviceExtraction = "extraction"

	partVideo       = "video"
	partMessageBits = "message_bits"
)

// Config describes where the watermark service lives.
type Config struct {
	BaseURL     string `validate:"required,url"`
	EmbedPath   string `validate:"required,startswith=/"`
	ExtractPath string `validate:"required,startswith=/"`
	ScratchDir  string `validate:"required"`
	// Timeout bounds each call through its context; zero leaves only the
	// transport defaults.
	Timeout time.Duration `validate:"gte=0"`
	// ExpectedBits rejects vectors of any other length when positive.
	ExpectedBits int `validate:"gte=0"`
}

// Client is the embedding and extraction delegate.
type Client struct {
	cfg        Config
	httpClient *http.Client
	validate   *validator.Validate
}

// EmbedResult is the watermarked video written to scratch storage plus the
// bits the service embedded into it.
type EmbedResult struct {
	VideoPath string
	Bits      watermark.BitVector
}

type extractResponse struct {
	ExtractedBits []float64 `json:"extracted_bits" validate:"required,min=1"`
}

func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid ml backend config: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		validate:   v,
	}, nil
}

// Embed streams the video at videoPath to the embedding endpoint and captures
// the multipart reply.
func (c *Client) Embed(ctx context.Context, videoPath string) (*EmbedResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.postVideo(ctx, serviceEmbedding, c.cfg.EmbedPath, videoPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	boundary, err := multipartBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &apperror.ProtocolError{Service: serviceEmbedding, Reason: "response is not multipart", Err: err}
	}

	out, err := os.CreateTemp(c.cfg.ScratchDir, "watermarked-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	outPath := out.Name()
	ok := false
	defer func() {
		out.Close()
		if !ok {
			os.Remove(outPath)
		}
	}()

	var (
		gotVideo bool
		bits     watermark.BitVector
		gotBits  bool
	)
	reader := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, c.bodyError(ctx, serviceEmbedding, "read multipart body", err)
		}

		switch part.FormName() {
		case partVideo:
			if _, err := io.Copy(out, part); err != nil {
				part.Close()
				return nil, c.bodyError(ctx, serviceEmbedding, "read video part", err)
			}
			gotVideo = true
		case partMessageBits:
			if err := json.NewDecoder(part).Decode(&bits); err != nil {
				part.Close()
				return nil, &apperror.ProtocolError{Service: serviceEmbedding, Reason: "decode message_bits", Err: err}
			}
			gotBits = true
		}
		part.Close()
	}

	if !gotVideo {
		return nil, &apperror.ProtocolError{Service: serviceEmbedding, Reason: "response did not contain watermarked video"}
	}
	if !gotBits {
		return nil, &apperror.ProtocolError{Service: serviceEmbedding, Reason: "response did not contain message bits"}
	}
	if err := bits.Validate(c.cfg.ExpectedBits); err != nil {
		return nil, &apperror.ProtocolError{Service: serviceEmbedding, Reason: "invalid message bits", Err: err}
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close scratch file: %w", err)
	}

	ok = true
	return &EmbedResult{VideoPath: outPath, Bits: bits}, nil
}

// Extract streams a probe video to the extraction endpoint and returns the
// estimated bits.
func (c *Client) Extract(ctx context.Context, videoPath string) (watermark.BitVector, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.postVideo(ctx, serviceExtraction, c.cfg.ExtractPath, videoPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, c.bodyError(ctx, serviceExtraction, "decode response", err)
	}
	if err := c.validate.Struct(body); err != nil {
		return nil, &apperror.ProtocolError{Service: serviceExtraction, Reason: "missing extracted_bits", Err: err}
	}

	bits := watermark.BitVector(body.ExtractedBits)
	if err := bits.Validate(c.cfg.ExpectedBits); err != nil {
		return nil, &apperror.ProtocolError{Service: serviceExtraction, Reason: "invalid extracted bits", Err: err}
	}
	return bits, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// postVideo sends videoPath as multipart field "video" without buffering the
// file in memory. Non-2xx replies become *apperror.BackendError.
func (c *Client) postVideo(ctx context.Context, service, path, videoPath string) (*http.Response, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer f.Close()

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="video"; filename="video.mp4"`)
		header.Set("Content-Type", "video/mp4")

		part, err := mw.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, &apperror.TransportError{Service: service, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		pr.Close()
		return nil, &apperror.BackendError{Service: service, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// bodyError separates a connection dropped mid-body from a malformed body.
func (c *Client) bodyError(ctx context.Context, service, reason string, err error) error {
	if ctx.Err() != nil || errors.Is(err, io.ErrUnexpectedEOF) {
		return &apperror.TransportError{Service: service, Err: err}
	}
	return &apperror.ProtocolError{Service: service, Reason: reason, Err: err}
}

func multipartBoundary(contentType string) (string, error) {
	if contentType == "" {
		return "", errors.New("missing Content-Type")
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("unexpected media type %q", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", errors.New("missing boundary")
	}
	return boundary, nil
}
