// Package session owns the on-disk layout of a synthesis session: identifier
// validation, the per-session audio directory, sequential file naming and the
// per-session write lock.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/book-expert/tts-session-service/internal/core"
)

// Directory layout.
const (
	audioDirName      = "audio"
	ttsDirName        = "tts"
	combinedPrefix    = "combined_"
	combinedExtension = ".wav"
	sequenceFormat    = "%04d.%s"
	dirPermissions    = 0o750

	separatorReplacement = "_"
	parentDirSequence    = ".."
)

// Error formats.
const (
	errFmtEmptySessionID  = "%w: session id cannot be empty"
	errFmtUnsafeSessionID = "%w: %q contains a path separator or parent reference"
	errFmtDotSessionID    = "%w: %q names a directory reference"
	errFmtUnsupportedExt  = "%w: unsupported audio extension %q"
	errFmtCreateDir       = "%w: %s: %w"
	errFmtReadDir         = "failed to read session directory %s: %w"
)

var separatorReplacer = strings.NewReplacer(
	"/", separatorReplacement,
	"\\", separatorReplacement,
)

// Sanitize trims raw and replaces path separators with underscores. It is
// idempotent and fails for empty identifiers and for identifiers made only of
// dots, which would resolve to the outputs directory or its parent.
func Sanitize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf(errFmtEmptySessionID, core.ErrInvalidSessionID)
	}

	if strings.Trim(trimmed, ".") == "" {
		return "", fmt.Errorf(errFmtDotSessionID, core.ErrInvalidSessionID, trimmed)
	}

	return separatorReplacer.Replace(trimmed), nil
}

// Validate enforces the reject-on-violation policy used by every component
// that touches the filesystem: identifiers that are empty, made only of dots
// or contain "..", "/" or "\" are refused outright. The returned identifier
// is the trimmed form used on disk.
func Validate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf(errFmtEmptySessionID, core.ErrInvalidSessionID)
	}

	if strings.Contains(raw, parentDirSequence) || strings.ContainsAny(raw, "/\\") {
		return "", fmt.Errorf(errFmtUnsafeSessionID, core.ErrInvalidSessionID, raw)
	}

	return Sanitize(raw)
}

// Layout resolves session paths below an outputs directory.
type Layout struct {
	root string
}

// NewLayout creates a Layout rooted at outputsDir.
func NewLayout(outputsDir string) Layout {
	return Layout{root: outputsDir}
}

// Root returns the outputs directory.
func (l Layout) Root() string {
	return l.root
}

// SessionDir returns outputs/<session>.
func (l Layout) SessionDir(sessionID string) string {
	return filepath.Join(l.root, sessionID)
}

// AudioDir returns outputs/<session>/audio/tts.
func (l Layout) AudioDir(sessionID string) string {
	return filepath.Join(l.root, sessionID, audioDirName, ttsDirName)
}

// CombinedPath returns outputs/combined_<session>.wav.
func (l Layout) CombinedPath(sessionID string) string {
	return filepath.Join(l.root, combinedPrefix+sessionID+combinedExtension)
}

// IsCombinedArtifact reports whether name follows the combined artifact naming.
func IsCombinedArtifact(name string) bool {
	return strings.HasPrefix(name, combinedPrefix) && strings.HasSuffix(name, combinedExtension)
}

// IsAudioFile reports whether name carries a supported audio extension.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, supported := range core.SupportedExtensions() {
		if ext == supported {
			return true
		}
	}

	return false
}

// SequenceOf parses the numeric stem of a numbered audio file name.
func SequenceOf(name string) (int, bool) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	sequence, err := strconv.Atoi(stem)
	if err != nil || sequence < 1 {
		return 0, false
	}

	return sequence, true
}

// ListAudioFiles returns the names of the supported audio files in dir. A
// missing directory yields os.ErrNotExist.
func ListAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadDir, dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !IsAudioFile(entry.Name()) {
			continue
		}

		names = append(names, entry.Name())
	}

	return names, nil
}

// Namer hands out the next numbered output path of a session.
type Namer struct {
	layout Layout
}

// NewNamer creates a Namer for layout.
func NewNamer(layout Layout) *Namer {
	return &Namer{layout: layout}
}

// NextPath creates the session audio directory if needed and returns the next
// path in the session's single counter, shared by every supported extension.
// An empty extension defaults to mp3; extensions outside
// core.SupportedExtensions fail with core.ErrValidation. Callers that may
// write concurrently to one session must hold that session's lock from Locks.
func (n *Namer) NextPath(sessionID, extension string) (string, error) {
	safeID, err := Validate(sessionID)
	if err != nil {
		return "", err
	}

	ext, err := NormalizeExtension(extension)
	if err != nil {
		return "", err
	}

	dir := n.layout.AudioDir(safeID)

	mkdirErr := os.MkdirAll(dir, dirPermissions)
	if mkdirErr != nil {
		return "", fmt.Errorf(errFmtCreateDir, core.ErrDirectoryCreate, dir, mkdirErr)
	}

	names, listErr := ListAudioFiles(dir)
	if listErr != nil {
		return "", listErr
	}

	next := nextSequence(names)

	return filepath.Join(dir, fmt.Sprintf(sequenceFormat, next, ext)), nil
}

// nextSequence is one past the larger of the file count and the highest stem,
// which equals count+1 whenever the existing range is contiguous.
func nextSequence(names []string) int {
	highest := len(names)

	for _, name := range names {
		sequence, ok := SequenceOf(name)
		if ok && sequence > highest {
			highest = sequence
		}
	}

	return highest + 1
}

// NormalizeExtension lowercases extension and strips a leading dot. An empty
// extension becomes mp3. Only extensions that take part in session numbering
// are accepted.
func NormalizeExtension(extension string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(extension), "."))
	if ext == "" {
		return core.ExtensionMP3, nil
	}

	for _, supported := range core.SupportedExtensions() {
		if ext == supported {
			return ext, nil
		}
	}

	return "", fmt.Errorf(errFmtUnsupportedExt, core.ErrValidation, extension)
}

// Locks serializes writers per session. Entries are dropped once no goroutine
// holds or waits for them.
type Locks struct {
	entries map[string]*lockEntry
	mu      sync.Mutex
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{
		entries: make(map[string]*lockEntry),
		mu:      sync.Mutex{},
	}
}

// Lock blocks until the caller owns sessionID and returns the release func.
func (l *Locks) Lock(sessionID string) func() {
	l.mu.Lock()

	entry, ok := l.entries[sessionID]
	if !ok {
		entry = &lockEntry{mu: sync.Mutex{}, refs: 0}
		l.entries[sessionID] = entry
	}

	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once

	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			l.mu.Lock()
			entry.refs--

			if entry.refs == 0 {
				delete(l.entries, sessionID)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of sessions currently locked or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

// IsNotExist reports whether err stems from a missing file or directory.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
