// Command smoke drives a running gateway through upload, status polling,
// download, provenance verification and analysis.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"watermark-gateway/pkg/provenance"

	"github.com/fatih/color"
)

// Pretty print JSON helper
func prettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}

func fail(format string, args ...interface{}) {
	color.Red(format, args...)
	os.Exit(1)
}

// Request helper
func sendRequest(method, url string, body io.Reader, contentType string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{} // No timeout, embedding can take minutes
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp, respBody, err
}

func sendVideo(url, path string) (*http.Response, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", filepath.Base(path))
	if err != nil {
		return nil, nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, nil, err
	}
	return sendRequest(http.MethodPost, url, &buf, mw.FormDataContentType())
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "gateway base URL")
	video := flag.String("video", "", "video file to upload")
	probe := flag.String("probe", "", "video to analyze (defaults to the downloaded asset)")
	pollEvery := flag.Duration("poll", 2*time.Second, "status poll interval")
	flag.Parse()

	if *video == "" {
		fail("usage: smoke -video clip.mp4 [-url http://localhost:8000] [-probe other.mp4]")
	}

	color.Cyan("🚀 Starting watermark gateway smoke test against %s\n", *baseURL)

	// 1. Upload
	color.Yellow("\n1. Upload %s", *video)
	resp, body, err := sendVideo(*baseURL+"/upload", *video)
	if err != nil {
		fail("Failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		fail("Upload rejected (%s): %s", resp.Status, body)
	}
	var sessionID string
	if err := json.Unmarshal(body, &sessionID); err != nil {
		fail("Unexpected upload response: %s", body)
	}
	color.Green("Session: %s", sessionID)

	// 2. Poll status
	color.Yellow("\n2. Poll status")
	var status map[string]interface{}
	for {
		_, body, err := sendRequest(http.MethodGet, *baseURL+"/status/"+sessionID, nil, "")
		if err != nil {
			fail("Failed: %v", err)
		}
		status = map[string]interface{}{}
		json.Unmarshal(body, &status)
		fmt.Printf("  %v\n", status["status"])
		if s := status["status"]; s == "completed" || s == "failed" || s == "not_found" {
			break
		}
		time.Sleep(*pollEvery)
	}
	prettyPrint(status)
	if status["status"] != "completed" {
		fail("Session did not complete")
	}

	// 3. Download
	color.Yellow("\n3. Download processed asset")
	resp, body, err = sendRequest(http.MethodGet, *baseURL+"/download/"+sessionID, nil, "")
	if err != nil || resp.StatusCode != http.StatusOK {
		fail("Download failed: %v %s", err, body)
	}
	outPath := filepath.Join(os.TempDir(), sessionID+".mp4")
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		fail("Failed to save asset: %v", err)
	}
	color.Green("Saved %d bytes to %s", len(body), outPath)

	// 4. Verify credentials
	color.Yellow("\n4. Verify provenance")
	verified, err := provenance.Verify(outPath)
	if err != nil {
		fail("Verification failed: %v", err)
	}
	prettyPrint(verified.Manifest)

	// 5. Analyze
	probePath := *probe
	if probePath == "" {
		probePath = outPath
	}
	color.Yellow("\n5. Analyze %s", probePath)
	resp, body, err = sendVideo(*baseURL+"/analyze", probePath)
	if err != nil {
		fail("Failed: %v", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		color.Green("Match: %s (%d bytes)", resp.Header.Get("Content-Disposition"), len(body))
	case http.StatusNotFound:
		color.Magenta("No match: %s", body)
	default:
		fail("Analyze failed (%s): %s", resp.Status, body)
	}

	color.Cyan("\n✅ Smoke test finished")
}
