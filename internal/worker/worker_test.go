// Package worker_test tests the NATS worker for the voice service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/pipeline"
	"github.com/book-expert/voice-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSubject    = "voice.jobs.test"
	requestTimeout = 5 * time.Second
)

var (
	errMockDownload = errors.New("mock download error")
	errMockUpload   = errors.New("mock upload error")
)

// mockObjectStore is a mock implementation of the ObjectStore interface.
type mockObjectStore struct {
	mu                 sync.Mutex
	downloadShouldFail bool
	uploadShouldFail   bool
	objects            map[string][]byte
	downloadedKey      string
	uploadedKey        string
}

func newMockStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte)}
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return m.objects[key], nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploadShouldFail {
		return errMockUpload
	}

	m.uploadedKey = key
	m.objects[key] = data

	return nil
}

func (m *mockObjectStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.objects[key]

	return ok, nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

func (m *mockObjectStore) lastDownload() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.downloadedKey
}

func (m *mockObjectStore) lastUpload() (string, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.uploadedKey, m.objects[m.uploadedKey]
}

// mockRunner echoes the request text as audio.
type mockRunner struct {
	mu       sync.Mutex
	requests []pipeline.Request
	fail     bool
}

func (m *mockRunner) Process(_ context.Context, req pipeline.Request) *pipeline.Result {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.fail {
		return &pipeline.Result{
			Success: false,
			Steps:   []string{},
			Stats:   map[string]any{},
			Error:   "every segment failed to synthesize",
		}
	}

	return &pipeline.Result{
		Success:    true,
		FinalAudio: []byte("audio:" + req.Text),
		Steps:      []string{pipeline.StepSynthesis},
		Stats:      map[string]any{pipeline.StatSegments: 1},
	}
}

func (m *mockRunner) lastRequest() pipeline.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.requests[len(m.requests)-1]
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		server.Shutdown()
		natsConnection.Close()
	})

	return natsConnection
}

type fixture struct {
	textStore  *mockObjectStore
	audioStore *mockObjectStore
	runner     *mockRunner
	conn       *nats.Conn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return &fixture{
		textStore:  newMockStore(),
		audioStore: newMockStore(),
		runner:     &mockRunner{},
		conn:       createTestNatsClient(t),
	}
}

// start runs a worker until the test ends. Mocks must be configured first.
func (fx *fixture) start(t *testing.T, queueGroup string) {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	workerInstance, err := worker.NewNatsWorker(fx.conn, worker.Config{
		Subject:    testSubject,
		QueueGroup: queueGroup,
		Timeout:    requestTimeout,
		Defaults: pipeline.SynthesisParams{
			Voice:         "en-US-AriaNeural",
			Speed:         1.0,
			MultiLanguage: true,
		},
	}, fx.textStore, fx.audioStore, fx.runner, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})
}

func (fx *fixture) request(t *testing.T, payload []byte) worker.Reply {
	t.Helper()

	var (
		replyMsg *nats.Msg
		err      error
	)

	// The subscription is set up asynchronously by Run.
	require.Eventually(t, func() bool {
		replyMsg, err = fx.conn.Request(testSubject, payload, requestTimeout)

		return err == nil
	}, 10*time.Second, 50*time.Millisecond, "Request should succeed and receive a reply")

	var reply worker.Reply

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func newJob() worker.Job {
	return worker.Job{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
	}
}

func marshal(t *testing.T, job worker.Job) []byte {
	t.Helper()

	data, err := json.Marshal(job)
	require.NoError(t, err)

	return data
}

func TestHandleMessage_TextKey(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.textStore.objects["page-1.txt"] = []byte("Hello World")
	fx.start(t, "")

	job := newJob()
	job.TextKey = "page-1.txt"

	reply := fx.request(t, marshal(t, job))

	require.True(t, reply.Success, reply.Error)
	assert.Equal(t, job.Header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, "page-1.txt", fx.textStore.lastDownload())

	key, data := fx.audioStore.lastUpload()
	assert.Equal(t, key, reply.AudioKey)
	assert.True(t, strings.HasSuffix(key, ".wav"))
	assert.Equal(t, []byte("audio:Hello World"), data)
	assert.Equal(t, []string{pipeline.StepSynthesis}, reply.Steps)

	req := fx.runner.lastRequest()
	assert.Equal(t, "en-US-AriaNeural", req.Synthesis.Voice)
	assert.True(t, req.Synthesis.MultiLanguage)
}

func TestHandleMessage_InlineTextAndParams(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t, "voice-workers")

	job := newJob()
	job.Text = "Bonjour"
	job.TextKey = "ignored.txt"
	job.Synthesis = &pipeline.SynthesisParams{Speed: 1.5, Clean: true}
	job.Conversion = &pipeline.ConversionParams{Enabled: true, Model: "alice", PitchShift: 3}

	reply := fx.request(t, marshal(t, job))

	require.True(t, reply.Success, reply.Error)
	assert.Empty(t, fx.textStore.lastDownload())

	req := fx.runner.lastRequest()
	assert.Equal(t, "Bonjour", req.Text)
	assert.Equal(t, "en-US-AriaNeural", req.Synthesis.Voice)
	assert.InDelta(t, 1.5, req.Synthesis.Speed, 1e-9)
	assert.True(t, req.Synthesis.Clean)
	assert.False(t, req.Synthesis.MultiLanguage)
	require.NotNil(t, req.Conversion)
	assert.Equal(t, "alice", req.Conversion.Model)
	assert.Equal(t, 3, req.Conversion.PitchShift)
}

func TestHandleMessage_IndexRatioPresence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		conversion string
		want       *float64
	}{
		{name: "omitted", conversion: `{"enabled":true,"model":"alice"}`, want: nil},
		{name: "zero", conversion: `{"enabled":true,"model":"alice","index_ratio":0}`, want: new(float64)},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fx := newFixture(t)
			fx.start(t, "")

			header, err := json.Marshal(newJob().Header)
			require.NoError(t, err)

			payload := `{"header":` + string(header) + `,"text":"Hello","conversion":` + testCase.conversion + `}`

			reply := fx.request(t, []byte(payload))
			require.True(t, reply.Success, reply.Error)

			req := fx.runner.lastRequest()
			require.NotNil(t, req.Conversion)
			assert.Equal(t, testCase.want, req.Conversion.IndexRatio)
		})
	}
}

func TestHandleMessage_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(fx *fixture, job *worker.Job)
		wantErr string
	}{
		{
			name:    "no text",
			setup:   func(_ *fixture, _ *worker.Job) {},
			wantErr: worker.ErrNoText.Error(),
		},
		{
			name: "download fails",
			setup: func(fx *fixture, job *worker.Job) {
				fx.textStore.downloadShouldFail = true
				job.TextKey = "page.txt"
			},
			wantErr: errMockDownload.Error(),
		},
		{
			name: "pipeline fails",
			setup: func(fx *fixture, job *worker.Job) {
				fx.runner.fail = true
				job.Text = "Hello"
			},
			wantErr: "every segment failed",
		},
		{
			name: "upload fails",
			setup: func(fx *fixture, job *worker.Job) {
				fx.audioStore.uploadShouldFail = true
				job.Text = "Hello"
			},
			wantErr: errMockUpload.Error(),
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fx := newFixture(t)
			job := newJob()
			testCase.setup(fx, &job)
			fx.start(t, "")

			reply := fx.request(t, marshal(t, job))

			assert.False(t, reply.Success)
			assert.Empty(t, reply.AudioKey)
			assert.Contains(t, reply.Error, testCase.wantErr)
			assert.Equal(t, job.Header.WorkflowID, reply.Header.WorkflowID)
		})
	}
}

func TestHandleMessage_MalformedPayload(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t, "")

	reply := fx.request(t, []byte("{not json"))

	assert.False(t, reply.Success)
	assert.Contains(t, reply.Error, "failed to unmarshal job")

	key, _ := fx.audioStore.lastUpload()
	assert.Empty(t, key)
}
