package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseFlags verifies that command-line flags are parsed correctly.
func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{
		"--text", "Hello, world!", "--tempdir", "s1", "--provider", "skt_ax", "--combine", "--timeout", "3s",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, world!", flags.text)
	assert.Equal(t, "s1", flags.tempDir)
	assert.Equal(t, "skt_ax", flags.provider)
	assert.True(t, flags.combine)
	assert.Equal(t, 3*time.Second, flags.timeout)
	assert.Equal(t, defaultServer, flags.server)

	_, err = parseFlags([]string{"--unknown"})
	require.Error(t, err)
}

// TestArgumentValidation verifies required and conflicting arguments.
func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		expectedError string
		args          []string
	}{
		{name: "success with text flag", args: []string{"--tempdir", "s", "--text", "some text"}, expectedError: ""},
		{name: "success with chunks flag", args: []string{"--tempdir", "s", "--chunks", "file.json"}, expectedError: ""},
		{name: "combine only", args: []string{"--tempdir", "s", "--combine"}, expectedError: ""},
		{name: "error with both flags", args: []string{"--tempdir", "s", "--text", "t", "--chunks", "f"}, expectedError: errCannotSpecifyBoth},
		{name: "error with no flags", args: []string{"--tempdir", "s"}, expectedError: errEitherTextOrChunks},
		{name: "error without tempdir", args: []string{"--text", "t"}, expectedError: errTempDirRequired},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			flags, err := parseFlags(testCase.args)
			require.NoError(t, err)

			err = validateArguments(flags)
			if testCase.expectedError == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), testCase.expectedError)
		})
	}
}

func fakeService(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tts/{provider}", func(w http.ResponseWriter, r *http.Request) {
		var body synthesizeBody
		if json.NewDecoder(r.Body).Decode(&body) != nil || body.Options.APIKey != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"API key is required"}`))

			return
		}

		results := make([]core.SegmentResult, 0, len(body.Segments))
		for index, segment := range body.Segments {
			results = append(results, core.SegmentResult{
				Sequence: segment.ID, Text: segment.Text, DurationMillis: 100,
				Path: filepath.Join("outputs", body.TempDir, "audio", "tts", fmt.Sprintf("%04d.wav", index+1)),
			})
		}

		_ = json.NewEncoder(w).Encode(results)
	})
	mux.HandleFunc("POST /combine_wav", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"combined_path":"outputs/combined_s1.wav","durationMillis":200}`))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestRun_SynthesizeChunksAndCombine(t *testing.T) {
	t.Parallel()

	server := fakeService(t)

	chunks := filepath.Join(t.TempDir(), "chunks.json")
	require.NoError(t, os.WriteFile(chunks, []byte(`[{"id":1,"text":"a"},{"id":2,"text":"b"}]`), 0o600))

	var stdout bytes.Buffer

	err := run([]string{
		"--server", server.URL, "--tempdir", "s1", "--chunks", chunks, "--api-key", "key",
		"--combine", "--log-dir", t.TempDir(),
	}, &stdout)
	require.NoError(t, err)

	var out struct {
		Combined struct {
			CombinedPath   string `json:"combined_path"`
			DurationMillis int64  `json:"durationMillis"`
		} `json:"combined"`
		Segments []core.SegmentResult `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Len(t, out.Segments, 2)
	assert.Equal(t, "outputs/combined_s1.wav", out.Combined.CombinedPath)
	assert.Equal(t, int64(200), out.Combined.DurationMillis)
}

func TestRun_ReportsServiceDetail(t *testing.T) {
	t.Parallel()

	server := fakeService(t)

	var stdout bytes.Buffer

	err := run([]string{
		"--server", server.URL, "--tempdir", "s1", "--text", "x", "--api-key", "wrong", "--log-dir", t.TempDir(),
	}, &stdout)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "API key is required")
	assert.Empty(t, stdout.String())
}

func TestRun_Health(t *testing.T) {
	t.Parallel()

	server := fakeService(t)

	var stdout bytes.Buffer

	require.NoError(t, run([]string{"--server", server.URL, "--health", "--log-dir", t.TempDir()}, &stdout))
	assert.Contains(t, stdout.String(), `"status": "ok"`)
}

func TestErrorDetail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bad", errorDetail([]byte(`{"detail":"bad"}`)))
	assert.Equal(t, "plain text", errorDetail([]byte(" plain text \n")))
}
