package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/core"
)

// Flag descriptions and messages.
const (
	flagServerDesc   = "Base URL of the TTS session service"
	flagProviderDesc = "Provider used for synthesis"
	flagTempDirDesc  = "Session identifier (tempdir)"
	flagChunksDesc   = "JSON file containing an array of {id, text} segments"
	flagTextDesc     = "Text to convert to speech as a single segment"
	flagVoiceDesc    = "Voice name or id"
	flagAPIKeyDesc   = "Provider API key (defaults to TTS_API_KEY)"
	flagCombineDesc  = "Combine the session after synthesis, or on its own"
	flagCleanupDesc  = "Run storage cleanup and exit"
	flagStorageDesc  = "Print storage usage and exit"
	flagHealthDesc   = "Check TTS service health and exit"
	flagTimeoutDesc  = "Request timeout"
	flagLogDirDesc   = "Directory for the client log"
)

// Flag names.
const (
	flagServer   = "server"
	flagProvider = "provider"
	flagTempDir  = "tempdir"
	flagChunks   = "chunks"
	flagText     = "text"
	flagVoice    = "voice"
	flagAPIKey   = "api-key"
	flagCombine  = "combine"
	flagCleanup  = "cleanup"
	flagStorage  = "storage"
	flagHealth   = "health"
	flagTimeout  = "timeout"
	flagLogDir   = "log-dir"
)

// Error and log messages.
const (
	errEitherTextOrChunks  = "Either --text or --chunks must be provided"
	errCannotSpecifyBoth   = "Cannot specify both --text and --chunks"
	errTempDirRequired     = "--tempdir is required"
	errFailedToInitLogger  = "Failed to initialize logger: %w"
	errFailedToReadChunks  = "Failed to read chunks %s: %w"
	errFailedToParseChunks = "Failed to parse chunks %s: %w"
	logRequest             = "Ran %s against %s"
	logRequestFailed       = "%s failed: %v"
)

// Defaults.
const (
	defaultServer   = "http://localhost:8000"
	defaultProvider = "gtts"
	defaultTimeout  = 5 * time.Minute
	logFileName     = "tts-client.log"
	envAPIKey       = "TTS_API_KEY"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server   string
	provider string
	tempDir  string
	chunks   string
	text     string
	voice    string
	apiKey   string
	logDir   string
	timeout  time.Duration
	combine  bool
	cleanup  bool
	storage  bool
	health   bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	log, err := logger.New(flags.logDir, logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	client := newAPIClient(flags.server, flags.timeout)

	result, mode, err := execute(ctx, client, flags)
	log.Info(logRequest, mode, flags.server)

	if err != nil {
		log.Error(logRequestFailed, mode, err)

		return err
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(result)
}

// parseFlags parses args into appFlags on a private flag set.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	set := flag.NewFlagSet("go-client", flag.ContinueOnError)
	set.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	set.StringVar(&flags.provider, flagProvider, defaultProvider, flagProviderDesc)
	set.StringVar(&flags.tempDir, flagTempDir, "", flagTempDirDesc)
	set.StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	set.StringVar(&flags.text, flagText, "", flagTextDesc)
	set.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	set.StringVar(&flags.apiKey, flagAPIKey, os.Getenv(envAPIKey), flagAPIKeyDesc)
	set.StringVar(&flags.logDir, flagLogDir, os.TempDir(), flagLogDirDesc)
	set.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	set.BoolVar(&flags.combine, flagCombine, false, flagCombineDesc)
	set.BoolVar(&flags.cleanup, flagCleanup, false, flagCleanupDesc)
	set.BoolVar(&flags.storage, flagStorage, false, flagStorageDesc)
	set.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := set.Parse(args)
	if err != nil {
		return appFlags{}, err
	}

	return flags, nil
}

// validateArguments checks required and conflicting arguments of a synthesis run.
func validateArguments(flags appFlags) error {
	if strings.TrimSpace(flags.tempDir) == "" {
		return errors.New(errTempDirRequired)
	}

	if flags.text == "" && flags.chunks == "" {
		if flags.combine {
			return nil
		}

		return errors.New(errEitherTextOrChunks)
	}

	if flags.text != "" && flags.chunks != "" {
		return errors.New(errCannotSpecifyBoth)
	}

	return nil
}

// execute dispatches to the operation selected by flags.
func execute(ctx context.Context, client *apiClient, flags appFlags) (any, string, error) {
	switch {
	case flags.health:
		result, err := client.Health(ctx)

		return result, flagHealth, err
	case flags.storage:
		result, err := client.StorageInfo(ctx)

		return result, flagStorage, err
	case flags.cleanup:
		result, err := client.Cleanup(ctx)

		return result, flagCleanup, err
	}

	err := validateArguments(flags)
	if err != nil {
		return nil, "validate", err
	}

	if flags.text == "" && flags.chunks == "" {
		result, combineErr := client.Combine(ctx, flags.tempDir)

		return result, flagCombine, combineErr
	}

	segments, err := loadSegments(flags)
	if err != nil {
		return nil, "load", err
	}

	opts := core.Options{APIKey: flags.apiKey, Voice: flags.voice}

	results, err := client.Synthesize(ctx, flags.provider, flags.tempDir, segments, opts)
	if err != nil {
		return nil, flagProvider, err
	}

	if !flags.combine {
		return results, flagProvider, nil
	}

	combined, err := client.Combine(ctx, flags.tempDir)
	if err != nil {
		return nil, flagCombine, err
	}

	return map[string]any{"segments": results, "combined": combined}, flagCombine, nil
}

// loadSegments returns the single --text segment or the --chunks file contents.
func loadSegments(flags appFlags) ([]core.Segment, error) {
	if flags.text != "" {
		return []core.Segment{{ID: 1, Text: flags.text}}, nil
	}

	data, err := os.ReadFile(flags.chunks)
	if err != nil {
		return nil, fmt.Errorf(errFailedToReadChunks, flags.chunks, err)
	}

	var segments []core.Segment

	err = json.Unmarshal(data, &segments)
	if err != nil {
		return nil, fmt.Errorf(errFailedToParseChunks, flags.chunks, err)
	}

	return segments, nil
}
