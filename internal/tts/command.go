package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/mattn/go-shellwords"
)

// ProviderCommand is the registry name of the local command-line engine.
const ProviderCommand = "command"

// Placeholders substituted into the command arguments.
const (
	placeholderOutput = "{output}"
	placeholderVoice  = "{voice}"
)

// Command provider errors.
var (
	// ErrEmptyCommand is returned when the configured command line has no words.
	ErrEmptyCommand = errors.New("tts command is empty")
)

const (
	errFmtParseCommand = "parse tts command: %w"
	errFmtExecFailed   = "engine execution failed: %v: %s"
	errMsgNoOutput     = "engine produced no audio"
	logFmtRemoveTemp   = "Failed to remove temp file '%s': %v"
	maxStderrRunes     = 200
)

// CommandProvider runs a local TTS engine. The text is written to the
// engine's stdin. Audio is read from stdout, or from a temporary file when an
// argument contains the {output} placeholder.
type CommandProvider struct {
	log       *logger.Logger
	args      []string
	extension string
	timeout   time.Duration
}

// NewCommandProvider parses cfg.Command with shell quoting rules.
func NewCommandProvider(cfg config.CommandConfig, log *logger.Logger) (*CommandProvider, error) {
	parser := shellwords.NewParser()

	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf(errFmtParseCommand, err)
	}

	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}

	return &CommandProvider{
		log:       log,
		args:      args,
		extension: strings.ToLower(cfg.Extension),
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, nil
}

// Name returns the registry name.
func (p *CommandProvider) Name() string {
	return ProviderCommand
}

// Extension returns the configured output extension.
func (p *CommandProvider) Extension(_ core.Options) string {
	return p.extension
}

// Synthesize runs the engine once for input.
func (p *CommandProvider) Synthesize(ctx context.Context, input string, opts core.Options) ([]byte, error) {
	textErr := checkText(ProviderCommand, input, 0)
	if textErr != nil {
		return nil, textErr
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	outputPath, cleanup, err := p.outputFile()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := p.expand(outputPath, opts.Voice)

	// #nosec G204 -- the command line comes from operator configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, core.NewProviderError(ProviderCommand, core.KindServiceUnavailable, ctxErr.Error(), runErr)
		}

		message := fmt.Sprintf(errFmtExecFailed, runErr, truncate(stderr.String(), maxStderrRunes))

		return nil, core.NewProviderError(ProviderCommand, core.KindUnknown, message, nil)
	}

	audio := stdout.Bytes()

	if outputPath != "" {
		fileAudio, readErr := os.ReadFile(outputPath)
		if readErr != nil {
			return nil, core.NewProviderError(ProviderCommand, core.KindUnknown, errMsgNoOutput, readErr)
		}

		audio = fileAudio
	}

	if len(audio) == 0 {
		return nil, core.NewProviderError(ProviderCommand, core.KindUnknown, errMsgNoOutput, nil)
	}

	return audio, nil
}

// outputFile creates the temporary output file when the command asks for one.
func (p *CommandProvider) outputFile() (string, func(), error) {
	if !p.wantsOutputFile() {
		return "", func() {}, nil
	}

	tempFile, err := os.CreateTemp("", "tts-output-*."+p.extension)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	name := tempFile.Name()
	_ = tempFile.Close()

	return name, func() {
		removeErr := os.Remove(name)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			p.log.Warn(logFmtRemoveTemp, name, removeErr)
		}
	}, nil
}

func (p *CommandProvider) wantsOutputFile() bool {
	for _, arg := range p.args {
		if strings.Contains(arg, placeholderOutput) {
			return true
		}
	}

	return false
}

func (p *CommandProvider) expand(outputPath, voice string) []string {
	replacer := strings.NewReplacer(placeholderOutput, outputPath, placeholderVoice, voice)

	args := make([]string, 0, len(p.args))
	for _, arg := range p.args {
		args = append(args, replacer.Replace(arg))
	}

	return args
}

func truncate(value string, maxRunes int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) > maxRunes {
		return string(runes[:maxRunes])
	}

	return string(runes)
}
