// Package voices holds the immutable voice catalogs that providers receive at
// construction time.
package voices

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	// ErrEmptyCatalog indicates a catalog document without SKT A.X voices.
	ErrEmptyCatalog = errors.New("voice catalog has no skt_ax voices")
	// ErrUnknownDefaultVoice indicates an ElevenLabs default that is not in the catalog.
	ErrUnknownDefaultVoice = errors.New("elevenlabs default voice is not in the catalog")
)

// SKTVoice describes one SKT A.X voice and the model that serves it.
type SKTVoice struct {
	Name     string `json:"voice_name" yaml:"name"`
	VoiceID  string `json:"voice_id"   yaml:"voice_id"`
	Model    string `json:"model"      yaml:"model"`
	Gender   string `json:"gender"     yaml:"gender"`
	Age      string `json:"age"        yaml:"age"`
	Style    string `json:"style"      yaml:"style"`
	Nickname string `json:"nickname"   yaml:"nickname"`
	Language string `json:"language"   yaml:"-"`
}

type document struct {
	SKT struct {
		Language string     `yaml:"language"`
		Voices   []SKTVoice `yaml:"voices"`
	} `yaml:"skt_ax"`
	ElevenLabs struct {
		DefaultVoice string            `yaml:"default_voice"`
		Voices       map[string]string `yaml:"voices"`
	} `yaml:"elevenlabs"`
}

// Catalog is a read-only view over the configured voices.
type Catalog struct {
	skt             map[string]SKTVoice
	eleven          map[string]string
	sktSorted       []SKTVoice
	elevenDefaultID string
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog override from path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice catalog %s: %w", path, err)
	}

	return Parse(data)
}

// Parse builds a Catalog from a YAML document.
func Parse(data []byte) (*Catalog, error) {
	var doc document

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse voice catalog: %w", err)
	}

	if len(doc.SKT.Voices) == 0 {
		return nil, ErrEmptyCatalog
	}

	catalog := &Catalog{
		skt:             make(map[string]SKTVoice, len(doc.SKT.Voices)),
		eleven:          make(map[string]string, len(doc.ElevenLabs.Voices)),
		sktSorted:       make([]SKTVoice, 0, len(doc.SKT.Voices)),
		elevenDefaultID: "",
	}

	for _, voice := range doc.SKT.Voices {
		if voice.Nickname == "" {
			voice.Nickname = voice.Name
		}

		voice.Language = doc.SKT.Language
		catalog.skt[voice.Name] = voice
		catalog.sktSorted = append(catalog.sktSorted, voice)
	}

	sort.Slice(catalog.sktSorted, func(i, j int) bool {
		left, right := catalog.sktSorted[i], catalog.sktSorted[j]
		if left.Model != right.Model {
			return left.Model < right.Model
		}

		return left.Name < right.Name
	})

	for name, id := range doc.ElevenLabs.Voices {
		catalog.eleven[strings.ToLower(name)] = id
	}

	if doc.ElevenLabs.DefaultVoice != "" {
		id, ok := catalog.eleven[strings.ToLower(doc.ElevenLabs.DefaultVoice)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDefaultVoice, doc.ElevenLabs.DefaultVoice)
		}

		catalog.elevenDefaultID = id
	}

	return catalog, nil
}

// SKTVoice looks up an SKT A.X voice by name.
func (c *Catalog) SKTVoice(name string) (SKTVoice, bool) {
	voice, ok := c.skt[name]

	return voice, ok
}

// SKTVoices lists SKT A.X voices ordered by model, then name.
func (c *Catalog) SKTVoices() []SKTVoice {
	out := make([]SKTVoice, len(c.sktSorted))
	copy(out, c.sktSorted)

	return out
}

// SKTModels lists the distinct SKT A.X models in sorted order.
func (c *Catalog) SKTModels() []string {
	var models []string

	for _, voice := range c.sktSorted {
		if len(models) == 0 || models[len(models)-1] != voice.Model {
			models = append(models, voice.Model)
		}
	}

	return models
}

// ElevenLabsVoiceID resolves a friendly name to a voice id. Unknown values are
// treated as raw voice ids; an empty value yields the default voice.
func (c *Catalog) ElevenLabsVoiceID(nameOrID string) string {
	trimmed := strings.TrimSpace(nameOrID)
	if trimmed == "" {
		return c.elevenDefaultID
	}

	if id, ok := c.eleven[strings.ToLower(trimmed)]; ok {
		return id
	}

	return trimmed
}
