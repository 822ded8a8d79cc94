package synthesis_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/synthesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	eventType string
	data      map[string]any
	payload   []byte
	// raw, when set, is written verbatim instead of an encoded event.
	raw string
}

func writeFrame(conn net.Conn, f frame) error {
	if f.raw != "" {
		_, err := io.WriteString(conn, f.raw)

		return err
	}

	body, err := json.Marshal(map[string]any{"type": f.eventType, "data": f.data})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(conn, "%d %d\n%s\n", len(body), len(f.payload), body)
	if err != nil {
		return err
	}

	_, err = conn.Write(f.payload)

	return err
}

func readFrame(reader *bufio.Reader) (map[string]any, error) {
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(header)
	if len(fields) != 2 {
		return nil, fmt.Errorf("bad header %q", header)
	}

	jsonLen, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, err
	}

	body := make([]byte, jsonLen+1)

	_, err = io.ReadFull(reader, body)
	if err != nil {
		return nil, err
	}

	var event map[string]any

	err = json.Unmarshal(body[:jsonLen], &event)

	return event, err
}

// startWyomingServer accepts one connection, records the first event and
// replies with frames.
func startWyomingServer(t *testing.T, replies []frame) (string, <-chan map[string]any) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	received := make(chan map[string]any, 1)

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		event, readErr := readFrame(bufio.NewReader(conn))
		assert.NoError(t, readErr)

		received <- event

		for _, reply := range replies {
			assert.NoError(t, writeFrame(conn, reply))
		}
	}()

	return listener.Addr().String(), received
}

func TestWyomingEngine_Synthesize(t *testing.T) {
	t.Parallel()

	address, received := startWyomingServer(t, []frame{
		{eventType: "audio-start", data: map[string]any{"rate": 16000, "width": 2, "channels": 1}},
		{eventType: "audio-chunk", payload: []byte{0x01, 0x00, 0x02, 0x00}},
		{eventType: "audio-chunk", payload: []byte{0xFF, 0xFF}},
		{eventType: "audio-stop"},
	})

	engine := synthesis.NewWyomingEngine("tcp://" + address)

	data, err := synthesis.Collect(context.Background(), engine, synthesis.Request{
		Text: "hello", Voice: "en_US-lessac-medium",
	})
	require.NoError(t, err)

	event := <-received
	assert.Equal(t, "synthesize", event["type"])

	eventData, ok := event["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", eventData["text"])

	pcm, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, pcm.SampleRate)
	assert.Equal(t, []int16{1, 2, -1}, pcm.Samples)
}

func TestWyomingEngine_EmptyStream(t *testing.T) {
	t.Parallel()

	address, _ := startWyomingServer(t, []frame{
		{eventType: "audio-start", data: map[string]any{"rate": 22050}},
		{eventType: "audio-stop"},
	})

	_, err := synthesis.NewWyomingEngine(address).Synthesize(
		context.Background(), synthesis.Request{Text: "hello", Voice: "v"})
	require.ErrorIs(t, err, synthesis.ErrEmptyAudio)
}

func TestWyomingEngine_ServerError(t *testing.T) {
	t.Parallel()

	address, _ := startWyomingServer(t, []frame{
		{eventType: "error", data: map[string]any{"text": "voice not found"}},
	})

	_, err := synthesis.NewWyomingEngine(address).Synthesize(
		context.Background(), synthesis.Request{Text: "hello", Voice: "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice not found")
}

func TestWyomingEngine_OversizedFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "payload", raw: "2 99999999999999999\n{}\n"},
		{name: "body", raw: "99999999999999999 0\n"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			address, _ := startWyomingServer(t, []frame{{raw: testCase.raw}})

			_, err := synthesis.NewWyomingEngine(address).Synthesize(
				context.Background(), synthesis.Request{Text: "hello", Voice: "v"})
			require.ErrorIs(t, err, synthesis.ErrFrameTooLarge)
		})
	}
}

func TestWyomingEngine_HealthCheck(t *testing.T) {
	t.Parallel()

	address, received := startWyomingServer(t, []frame{{eventType: "info", data: map[string]any{}}})

	require.NoError(t, synthesis.NewWyomingEngine(address).HealthCheck(context.Background()))
	assert.Equal(t, "describe", (<-received)["type"])
}
