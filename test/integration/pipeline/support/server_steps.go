package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/MeKo-Tech/meterread/internal/reading"
	"github.com/MeKo-Tech/meterread/internal/server"
	"github.com/cucumber/godog"
)

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the meter reading server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendGETRequest)
	sc.Step(`^I upload a photo to "([^"]*)"$`, testCtx.iUploadAPhotoTo)
	sc.Step(`^I post a camera frame to "([^"]*)"$`, testCtx.iPostACameraFrameTo)
	sc.Step(`^I post JSON to "([^"]*)":$`, testCtx.iPostJSONTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response content type should be "([^"]*)"$`, testCtx.theResponseContentTypeShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
}

func (testCtx *TestContext) theServerIsRunning() error {
	p, err := testCtx.Pipeline()
	if err != nil {
		return err
	}
	srv, err := server.NewServer(server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 2,
		TimeoutSec:  10,
		Reading:     reading.Options{Type: reading.TypeElectricity, Decimals: 1},
	}, p, testCtx.OCR)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.apiServer = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastContentType = resp.Header.Get("Content-Type")
	return nil
}

func (testCtx *TestContext) iSendGETRequest(path string) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	req, err := http.NewRequest(http.MethodGet, testCtx.HTTPServer.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) postImage(path, field, filename string) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	var img bytes.Buffer
	if err := png.Encode(&img, photo()); err != nil {
		return err
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(img.Bytes()); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iUploadAPhotoTo(path string) error {
	return testCtx.postImage(path, "image", "meter.png")
}

func (testCtx *TestContext) iPostACameraFrameTo(path string) error {
	return testCtx.postImage(path, "frame", "frame.png")
}

func (testCtx *TestContext) iPostJSONTo(path string, doc *godog.DocString) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+path, strings.NewReader(doc.Content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseContentTypeShouldBe(want string) error {
	if !strings.HasPrefix(testCtx.LastContentType, want) {
		return fmt.Errorf("expected content type %s, got %s", want, testCtx.LastContentType)
	}
	return nil
}

// theJSONFieldShouldBe resolves a dotted path such as "reading.digits".
func (testCtx *TestContext) theJSONFieldShouldBe(path, want string) error {
	var doc interface{}
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &doc); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return fmt.Errorf("field %s: %s is not an object", path, key)
		}
		if cur, ok = obj[key]; !ok {
			return fmt.Errorf("field %s not found in %s", path, testCtx.LastHTTPResponse)
		}
	}
	if got := fmt.Sprint(cur); got != want {
		return fmt.Errorf("expected %s to be %q, got %q", path, want, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !bytes.Contains(testCtx.LastHTTPResponse, []byte(text)) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}
