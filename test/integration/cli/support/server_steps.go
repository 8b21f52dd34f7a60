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
	"sync"
	"time"

	"github.com/MeKo-Tech/spotter/internal/detector/fake"
	"github.com/MeKo-Tech/spotter/internal/labels"
	"github.com/MeKo-Tech/spotter/internal/pipeline"
	"github.com/MeKo-Tech/spotter/internal/server"
	"github.com/MeKo-Tech/spotter/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

// TestServer is a detection server running in-process on httptest with
// fake inference engines answering from a fixed scene.
type TestServer struct {
	HTTP   *httptest.Server
	Server *server.Server

	mu      sync.Mutex
	engines []*fake.Engine
}

// StreamResponse is one websocket reply.
type StreamResponse = server.WebSocketDetectResponse

// Close stops the HTTP listener and the pipeline pool.
func (ts *TestServer) Close() error {
	ts.HTTP.Close()
	return ts.Server.Close()
}

func (testCtx *TestContext) startServer(scene testutil.Scene, cfg server.Config, runErr error) error {
	if testCtx.Server != nil {
		return errors.New("server already running")
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 2
	}
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = 5
	}
	if cfg.ConfidencePrecision == 0 {
		cfg.ConfidencePrecision = 2
	}

	ts := &TestServer{}
	factory := server.BuilderFactory(func() *pipeline.Builder {
		eng := fake.New(scene.Outputs())
		eng.RunErr = runErr
		ts.mu.Lock()
		ts.engines = append(ts.engines, eng)
		ts.mu.Unlock()
		return pipeline.NewBuilder().WithEngine(eng).WithLabels(labels.COCO())
	})

	srv, err := server.NewServerWithFactory(cfg, factory)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	ts.Server = srv
	ts.HTTP = httptest.NewServer(mux)
	testCtx.Server = ts
	return nil
}

func (testCtx *TestContext) aDetectionServerSeeingScene(name string) error {
	scene, err := sceneByName(name)
	if err != nil {
		return err
	}
	return testCtx.startServer(scene, server.Config{}, nil)
}

func (testCtx *TestContext) aDetectionServerWithCORSOrigin(origin string) error {
	return testCtx.startServer(testutil.StreetScene(), server.Config{CORSOrigin: origin}, nil)
}

func (testCtx *TestContext) aDetectionServerWithRateLimit(perMinute int) error {
	return testCtx.startServer(testutil.StreetScene(), server.Config{
		RateLimitEnabled:  true,
		RequestsPerMinute: perMinute,
	}, nil)
}

func (testCtx *TestContext) aDetectionServerWhoseInferenceFails() error {
	return testCtx.startServer(testutil.StreetScene(), server.Config{}, errors.New("device lost"))
}

func (testCtx *TestContext) requireServer() (*TestServer, error) {
	if testCtx.Server == nil {
		return nil, errors.New("no server running")
	}
	return testCtx.Server, nil
}

func (testCtx *TestContext) doRequest(req *http.Request) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = resp.Header
	return nil
}

func (testCtx *TestContext) iGET(path string) error {
	ts, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, ts.HTTP.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.doRequest(req)
}

func (testCtx *TestContext) iMakeAnOPTIONSRequestTo(path string) error {
	ts, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodOptions, ts.HTTP.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.doRequest(req)
}

func (testCtx *TestContext) postFile(path, filename string, data []byte) error {
	ts, err := testCtx.requireServer()
	if err != nil {
		return err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, ts.HTTP.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return testCtx.doRequest(req)
}

func encodeScene(name string) ([]byte, error) {
	scene, err := sceneByName(name)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scene.Image()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (testCtx *TestContext) iPOSTTheSceneImageTo(name, path string) error {
	data, err := encodeScene(name)
	if err != nil {
		return err
	}
	return testCtx.postFile(path, name+".png", data)
}

func (testCtx *TestContext) iPOSTTheSceneImageToTimes(name, path string, times int) error {
	for i := 0; i < times; i++ {
		if err := testCtx.iPOSTTheSceneImageTo(name, path); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) iPOSTATextFileTo(path string) error {
	return testCtx.postFile(path, "notes.txt", []byte("not an image"))
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldBeValidJSON() error {
	var js json.RawMessage
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &js); err != nil {
		return fmt.Errorf("response is not valid JSON: %w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders.Get(name); got != value {
		return fmt.Errorf("expected header %s=%q, got %q", name, value, got)
	}
	return nil
}

func (testCtx *TestContext) decodeDetectResponse() (server.DetectResponse, error) {
	var resp server.DetectResponse
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &resp); err != nil {
		return resp, fmt.Errorf("invalid detect response: %w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	if !resp.Success || resp.Result == nil {
		return resp, fmt.Errorf("detection did not succeed: %s", resp.Error)
	}
	return resp, nil
}

func (testCtx *TestContext) theResponseShouldReportDetections(n int) error {
	resp, err := testCtx.decodeDetectResponse()
	if err != nil {
		return err
	}
	if got := len(resp.Result.Detections); got != n {
		return fmt.Errorf("expected %d detections, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) theFirstDetectionShouldBe(name string) error {
	resp, err := testCtx.decodeDetectResponse()
	if err != nil {
		return err
	}
	if len(resp.Result.Detections) == 0 {
		return errors.New("no detections")
	}
	if got := resp.Result.Detections[0].Name; got != name {
		return fmt.Errorf("expected first detection %q, got %q", name, got)
	}
	return nil
}

// iStreamTheSceneFramesOverTheWebsocket sends the scene n times as binary
// frames and collects one reply per frame.
func (testCtx *TestContext) iStreamTheSceneFramesOverTheWebsocket(name string, n int) error {
	ts, err := testCtx.requireServer()
	if err != nil {
		return err
	}
	data, err := encodeScene(name)
	if err != nil {
		return err
	}

	url := "ws" + strings.TrimPrefix(ts.HTTP.URL, "http") + "/ws/detect"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	testCtx.StreamResponses = testCtx.StreamResponses[:0]
	for i := 0; i < n; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return fmt.Errorf("send frame %d: %w", i+1, err)
		}
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return err
		}
		var reply StreamResponse
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("read reply %d: %w", i+1, err)
		}
		testCtx.StreamResponses = append(testCtx.StreamResponses, reply)
	}
	return nil
}

func (testCtx *TestContext) everyStreamReplyShouldBeCompletedInOrder() error {
	if len(testCtx.StreamResponses) == 0 {
		return errors.New("no stream replies")
	}
	for i, r := range testCtx.StreamResponses {
		if r.Status != "completed" {
			return fmt.Errorf("reply %d has status %q: %s", i+1, r.Status, r.Error)
		}
		if r.Sequence != uint64(i+1) { //nolint:gosec // G115: small index
			return fmt.Errorf("reply %d has sequence %d", i+1, r.Sequence)
		}
	}
	return nil
}

func (testCtx *TestContext) everyStreamReplyShouldContainDetections(n int) error {
	for i, r := range testCtx.StreamResponses {
		if r.Result == nil || len(r.Result.Detections) != n {
			return fmt.Errorf("reply %d does not carry %d detections", i+1, n)
		}
	}
	return nil
}

// RegisterServerSteps registers the in-process server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a detection server seeing the "([^"]*)" scene$`, testCtx.aDetectionServerSeeingScene)
	sc.Step(`^a detection server with CORS origin "([^"]*)"$`, testCtx.aDetectionServerWithCORSOrigin)
	sc.Step(`^a detection server limited to (\d+) requests per minute$`, testCtx.aDetectionServerWithRateLimit)
	sc.Step(`^a detection server whose inference fails$`, testCtx.aDetectionServerWhoseInferenceFails)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I make an OPTIONS request to "([^"]*)"$`, testCtx.iMakeAnOPTIONSRequestTo)
	sc.Step(`^I POST the "([^"]*)" scene image to "([^"]*)"$`, testCtx.iPOSTTheSceneImageTo)
	sc.Step(`^I POST the "([^"]*)" scene image to "([^"]*)" (\d+) times$`, testCtx.iPOSTTheSceneImageToTimes)
	sc.Step(`^I POST a text file to "([^"]*)"$`, testCtx.iPOSTATextFileTo)
	sc.Step(`^I stream the "([^"]*)" scene over the websocket (\d+) times$`, testCtx.iStreamTheSceneFramesOverTheWebsocket)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should be valid JSON$`, testCtx.theResponseShouldBeValidJSON)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response should report (\d+) detections?$`, testCtx.theResponseShouldReportDetections)
	sc.Step(`^the first detection should be "([^"]*)"$`, testCtx.theFirstDetectionShouldBe)
	sc.Step(`^every stream reply should be completed in order$`, testCtx.everyStreamReplyShouldBeCompletedInOrder)
	sc.Step(`^every stream reply should contain (\d+) detections$`, testCtx.everyStreamReplyShouldContainDetections)
}
