// Package worker provides a NATS worker that runs voice pipeline jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/pipeline"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultJobTimeout = 5 * time.Minute
	audioKeySuffix    = ".wav"
)

var (
	// ErrNoText indicates that a job carried neither inline text nor a text key.
	ErrNoText = errors.New("job must carry text or text_key")
	// ErrPipelineFailed indicates that the pipeline produced no audio.
	ErrPipelineFailed = errors.New("voice pipeline failed")
)

// Job is the request payload on the job subject. Inline Text wins over TextKey.
// A nil Synthesis block takes the service defaults.
type Job struct {
	Header     events.EventHeader         `json:"header"`
	Text       string                     `json:"text,omitempty"`
	TextKey    string                     `json:"text_key,omitempty"`
	Synthesis  *pipeline.SynthesisParams  `json:"synthesis,omitempty"`
	Conversion *pipeline.ConversionParams `json:"conversion,omitempty"`
}

// Reply is sent back to the requester for every job, failed or not.
type Reply struct {
	Header   events.EventHeader `json:"header"`
	AudioKey string             `json:"audio_key,omitempty"`
	Success  bool               `json:"success"`
	Steps    []string           `json:"steps,omitempty"`
	Stats    map[string]any     `json:"stats,omitempty"`
	Error    string             `json:"error,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Config holds the worker settings.
type Config struct {
	Subject    string
	QueueGroup string
	Timeout    time.Duration
	// Defaults fill a job's synthesis settings when it sends none, and its
	// voice when it sends an empty one.
	Defaults pipeline.SynthesisParams
}

// NatsWorker listens for voice jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            Config
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	runner         core.Runner
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	textStore core.ObjectStore,
	audioStore core.ObjectStore,
	runner core.Runner,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		textStore:      textStore,
		audioStore:     audioStore,
		runner:         runner,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.Info("Listening for voice jobs on %s", w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) subscribe() (*nats.Subscription, error) {
	if w.cfg.QueueGroup != "" {
		return w.natsConnection.QueueSubscribe(w.cfg.Subject, w.cfg.QueueGroup, w.handleMessage)
	}

	return w.natsConnection.Subscribe(w.cfg.Subject, w.handleMessage)
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	job, err := parseJob(msg)
	if err != nil {
		w.log.Error("Failed to parse job: %v", err)
		w.respond(msg, &Reply{Success: false, Error: err.Error()})

		return
	}

	reply := w.processJob(ctx, job)
	if !reply.Success {
		w.log.Error("Voice job for workflow %s failed: %s", job.Header.WorkflowID, reply.Error)
	}

	w.respond(msg, reply)
}

// processJob loads the text, runs the pipeline and uploads the final audio.
func (w *NatsWorker) processJob(ctx context.Context, job *Job) *Reply {
	reply := &Reply{Header: job.Header}

	input, err := w.loadText(ctx, job)
	if err != nil {
		reply.Error = err.Error()

		return reply
	}

	result := w.runner.Process(ctx, pipeline.Request{
		Text:       input,
		Synthesis:  w.synthesisParams(job.Synthesis),
		Conversion: job.Conversion,
	})

	reply.Steps = result.Steps
	reply.Stats = result.Stats
	reply.Warnings = result.Warnings
	reply.Error = result.Error

	if !result.Success {
		if reply.Error == "" {
			reply.Error = ErrPipelineFailed.Error()
		}

		return reply
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.audioStore.Upload(ctx, audioKey, result.FinalAudio)
	if err != nil {
		reply.Error = fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err).Error()

		return reply
	}

	reply.AudioKey = audioKey
	reply.Success = true

	w.log.Info("Workflow %s: uploaded %d bytes as %s (steps %v)",
		job.Header.WorkflowID, len(result.FinalAudio), audioKey, result.Steps)

	return reply
}

func (w *NatsWorker) loadText(ctx context.Context, job *Job) (string, error) {
	if job.Text != "" {
		return job.Text, nil
	}

	if job.TextKey == "" {
		return "", ErrNoText
	}

	textData, err := w.textStore.Download(ctx, job.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", job.TextKey, err)
	}

	return string(textData), nil
}

func (w *NatsWorker) synthesisParams(params *pipeline.SynthesisParams) pipeline.SynthesisParams {
	if params == nil {
		return w.cfg.Defaults
	}

	resolved := *params
	if resolved.Voice == "" {
		resolved.Voice = w.cfg.Defaults.Voice
	}

	return resolved
}

// respond marshals and sends the reply.
func (w *NatsWorker) respond(msg *nats.Msg, reply *Reply) {
	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

func parseJob(msg *nats.Msg) (*Job, error) {
	var job Job

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}
