package synthesis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/voice-service/internal/tts/audio"
)

// Wyoming event types.
const (
	eventSynthesize = "synthesize"
	eventAudioStart = "audio-start"
	eventAudioChunk = "audio-chunk"
	eventAudioStop  = "audio-stop"
	eventError      = "error"
	eventDescribe   = "describe"
	eventInfo       = "info"
)

// Piper's defaults when audio-start omits a field.
const (
	wyomingDefaultRate     = 22050
	wyomingDefaultChannels = 1
	wyomingDefaultWidth    = 2
	wyomingDialTimeout     = 10 * time.Second
	wyomingDefaultDeadline = 30 * time.Second
	wyomingMaxHeaderLength = 64
	wyomingMaxFrameLength  = 16 << 20
)

// Error messages.
const (
	errFmtInvalidHeader     = "invalid wyoming header: %q"
	errFmtUnsupportedWidth  = "unsupported sample width %d from wyoming server"
	errFmtWyomingServerText = "wyoming server error: %s"
)

// WyomingEngine talks to a Piper-compatible server over the Wyoming protocol.
// Each event is a "<json_length> <payload_length>\n" header line, the JSON
// body plus newline, then the binary payload. The raw PCM stream is returned
// wrapped in a WAV container. Piper has no rate or pitch controls, so those
// fields of the request are not sent.
type WyomingEngine struct {
	endpoint string
}

type wyomingEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// NewWyomingEngine creates a client for host:port. A tcp:// prefix is accepted.
func NewWyomingEngine(endpoint string) *WyomingEngine {
	return &WyomingEngine{endpoint: strings.TrimPrefix(endpoint, "tcp://")}
}

// Synthesize sends a synthesize event and collects audio-chunk payloads until
// audio-stop.
func (e *WyomingEngine) Synthesize(ctx context.Context, req Request) (io.ReadCloser, error) {
	err := req.Validate()
	if err != nil {
		return nil, err
	}

	conn, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	err = writeEvent(conn, wyomingEvent{
		Type: eventSynthesize,
		Data: map[string]any{
			"text":  req.Text,
			"voice": map[string]any{"name": req.Voice},
		},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to send synthesize event: %w", err)
	}

	var (
		reader     = bufio.NewReader(conn)
		pcm        bytes.Buffer
		sampleRate = wyomingDefaultRate
		channels   = wyomingDefaultChannels
		width      = wyomingDefaultWidth
	)

	for {
		event, payload, readErr := readEvent(reader)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read wyoming event: %w", readErr)
		}

		switch event.Type {
		case eventAudioStart:
			sampleRate = intField(event.Data, "rate", sampleRate)
			channels = intField(event.Data, "channels", channels)
			width = intField(event.Data, "width", width)
		case eventAudioChunk:
			pcm.Write(payload)
		case eventAudioStop:
			if pcm.Len() == 0 {
				return nil, ErrEmptyAudio
			}

			if width != wyomingDefaultWidth {
				return nil, fmt.Errorf(errFmtUnsupportedWidth, width)
			}

			wav := audio.WrapPCM16(pcm.Bytes(), sampleRate, channels)

			return io.NopCloser(bytes.NewReader(wav)), nil
		case eventError:
			message, _ := event.Data["text"].(string)

			return nil, fmt.Errorf(errFmtWyomingServerText, message)
		}
	}
}

// HealthCheck sends describe and waits for info.
func (e *WyomingEngine) HealthCheck(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = writeEvent(conn, wyomingEvent{Type: eventDescribe}, nil)
	if err != nil {
		return fmt.Errorf("failed to send describe event: %w", err)
	}

	event, _, err := readEvent(bufio.NewReader(conn))
	if err != nil {
		return fmt.Errorf("health check failed for wyoming server at %s: %w", e.endpoint, err)
	}

	if event.Type != eventInfo {
		return fmt.Errorf("health check got unexpected event %q", event.Type)
	}

	return nil
}

func (e *WyomingEngine) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: wyomingDialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wyoming server at %s: %w", e.endpoint, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wyomingDefaultDeadline)
	}

	_ = conn.SetDeadline(deadline)

	return conn, nil
}

func writeEvent(w io.Writer, event wyomingEvent, payload []byte) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var frame bytes.Buffer

	fmt.Fprintf(&frame, "%d %d\n", len(body), len(payload))
	frame.Write(body)
	frame.WriteByte('\n')
	frame.Write(payload)

	_, err = w.Write(frame.Bytes())

	return err
}

func readEvent(r *bufio.Reader) (*wyomingEvent, []byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	header = strings.TrimSpace(header)
	if len(header) > wyomingMaxHeaderLength {
		return nil, nil, fmt.Errorf(errFmtInvalidHeader, header)
	}

	jsonField, payloadField, found := strings.Cut(header, " ")
	if !found {
		return nil, nil, fmt.Errorf(errFmtInvalidHeader, header)
	}

	jsonLen, err := strconv.Atoi(jsonField)
	if err != nil || jsonLen < 0 {
		return nil, nil, fmt.Errorf(errFmtInvalidHeader, header)
	}

	payloadLen, err := strconv.Atoi(payloadField)
	if err != nil || payloadLen < 0 {
		return nil, nil, fmt.Errorf(errFmtInvalidHeader, header)
	}

	if jsonLen > wyomingMaxFrameLength || payloadLen > wyomingMaxFrameLength {
		return nil, nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrFrameTooLarge, header, wyomingMaxFrameLength)
	}

	body := make([]byte, jsonLen+1)

	_, err = io.ReadFull(r, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read event body: %w", err)
	}

	var event wyomingEvent

	err = json.Unmarshal(body[:jsonLen], &event)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)

		_, err = io.ReadFull(r, payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read payload: %w", err)
		}
	}

	return &event, payload, nil
}

func intField(data map[string]any, key string, fallback int) int {
	if value, ok := data[key].(float64); ok && value > 0 {
		return int(value)
	}

	return fallback
}
