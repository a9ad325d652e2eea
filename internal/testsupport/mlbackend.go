package testsupport

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const (
	EmbedPath   = "/process_video"
	ExtractPath = "/analyze_video"
)

// FakeMLBackend imitates the watermark embedding/extraction service. The
// embed endpoint echoes the uploaded video back as the watermarked video.
type FakeMLBackend struct {
	Server *httptest.Server

	mu            sync.Mutex
	embedBits     []float64
	embedStatus   int
	omitVideo     bool
	omitBits      bool
	extractBits   []float64
	extractStatus int
	embeds        int
	extracts      int
	release       chan struct{}
	failMarker    []byte
	failStatus    int
}

func NewFakeMLBackend(t testing.TB) *FakeMLBackend {
	t.Helper()
	f := &FakeMLBackend{
		embedStatus:   http.StatusOK,
		extractStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(EmbedPath, f.handleEmbed)
	mux.HandleFunc(ExtractPath, f.handleExtract)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL of the fake service.
func (f *FakeMLBackend) URL() string {
	return f.Server.URL
}

// SetEmbed configures the embed response.
func (f *FakeMLBackend) SetEmbed(bits []float64, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedBits = bits
	f.embedStatus = status
}

// FailEmbedsContaining makes embed requests whose video holds marker answer
// with status; other requests keep the configured reply.
func (f *FakeMLBackend) FailEmbedsContaining(marker string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMarker = []byte(marker)
	f.failStatus = status
}

// OmitEmbedParts drops the named parts from the embed response.
func (f *FakeMLBackend) OmitEmbedParts(video, bits bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitVideo = video
	f.omitBits = bits
}

// SetExtract configures the extract response.
func (f *FakeMLBackend) SetExtract(bits []float64, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractBits = bits
	f.extractStatus = status
}

// HoldEmbeds makes embed requests block until the returned function is called.
func (f *FakeMLBackend) HoldEmbeds() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.release = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns how many embed and extract requests were served.
func (f *FakeMLBackend) Calls() (embeds, extracts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embeds, f.extracts
}

func readVideoPart(r *http.Request) ([]byte, bool) {
	file, _, err := r.FormFile("video")
	if err != nil {
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *FakeMLBackend) handleEmbed(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.embeds++
	bits, status := f.embedBits, f.embedStatus
	omitVideo, omitBits := f.omitVideo, f.omitBits
	release := f.release
	failMarker, failStatus := f.failMarker, f.failStatus
	f.mu.Unlock()

	if release != nil {
		<-release
	}

	video, ok := readVideoPart(r)
	if !ok {
		http.Error(w, "missing video", http.StatusBadRequest)
		return
	}
	if len(failMarker) > 0 && bytes.Contains(video, failMarker) {
		status = failStatus
	}
	if status != http.StatusOK {
		http.Error(w, "backend unavailable", status)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", mw.FormDataContentType())
	w.WriteHeader(http.StatusOK)

	if !omitVideo {
		part, _ := mw.CreateFormFile("video", "watermarked.mp4")
		part.Write(video)
	}
	if !omitBits {
		part, _ := mw.CreateFormField("message_bits")
		json.NewEncoder(part).Encode(bits)
	}
	mw.Close()
}

func (f *FakeMLBackend) handleExtract(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.extracts++
	bits, status := f.extractBits, f.extractStatus
	f.mu.Unlock()

	if _, ok := readVideoPart(r); !ok {
		http.Error(w, "missing video", http.StatusBadRequest)
		return
	}
	if status != http.StatusOK {
		http.Error(w, "backend unavailable", status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"extracted_bits": bits})
}
