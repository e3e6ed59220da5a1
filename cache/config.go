package cache

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/josh-project/josh-sub000/jerr"
)

// CacheVersion is part of every persisted key namespace. Bumping it
// invalidates all rows written by older versions.
const CacheVersion = 1

// DefaultPersistSampleRate is the default for
// [Config.GetProperPersistSampleRate]: one in that many unforced rows is
// persisted.
const DefaultPersistSampleRate = 256

// DefaultSequenceWindow is the default for
// [Config.GetProperSequenceWindow].
const DefaultSequenceWindow = 1024

// Backend selects a persistent cache backend.
type Backend int32

const (
	BackendUnknown Backend = iota
	BackendMemory
	BackendBolt
	BackendBadger
	BackendNotes
)

var (
	backendName = map[int32]string{
		0: "UNKNOWN",
		1: "MEMORY",
		2: "BOLT",
		3: "BADGER",
		4: "NOTES",
	}
	backendValue = map[string]int32{
		"UNKNOWN": 0,
		"MEMORY":  1,
		"BOLT":    2,
		"BADGER":  3,
		"NOTES":   4,
	}
)

var (
	_ yaml.BytesMarshaler   = BackendUnknown
	_ yaml.BytesUnmarshaler = (*Backend)(nil)
)

func (t Backend) String() string {
	if name, valid := backendName[int32(t)]; valid {
		return name
	}
	return fmt.Sprintf("Backend(%d)", int32(t))
}

func (t Backend) MarshalYAML() ([]byte, error) {
	name, valid := backendName[int32(t)]
	if !valid {
		return yaml.Marshal(int32(t))
	}

	return yaml.Marshal(name)
}

func (t *Backend) UnmarshalYAML(data []byte) error {
	var i int32
	err := yaml.Unmarshal(data, &i)
	// err is nil, the value is successfully parsed.
	if err == nil {
		_, valid := backendName[i]
		if !valid {
			return jerr.Errorf("integer value %d is not a valid Backend", i)
		}

		*t = Backend(i)
		return nil
	}

	var s string
	err = yaml.Unmarshal(data, &s)
	if err != nil {
		return jerr.Wrap(err, "failed to unmarshal as string or int")
	}

	v, valid := backendValue[strings.ToUpper(s)]
	if !valid {
		return jerr.Errorf("string %s is not a valid backend", s)
	}

	*t = Backend(v)
	return nil
}

// Config configures a [TransactionContext].
type Config struct {
	// Backends lists the persistent backends, consulted in order.
	Backends []Backend `yaml:"backends"`
	// BoltPath is the bbolt database file. A temporary file is used when
	// empty.
	BoltPath string `yaml:"bolt_path"`
	// BadgerPath is the badger directory. Badger runs in memory when
	// empty.
	BadgerPath string `yaml:"badger_path"`
	// PersistSampleRate controls how many of the rows inserted without the
	// store flag are persisted, see [Transaction.Insert].
	PersistSampleRate int `yaml:"persist_sample_rate"`
	// SequenceWindow is how many sequence numbers below a lookup are
	// loaded from the backends at once.
	SequenceWindow uint64 `yaml:"sequence_window"`
	// NotesRefPrefix is where the notes backend keeps its rows.
	NotesRefPrefix string `yaml:"notes_ref_prefix"`
	// HookRefPrefix is where [NotesFilterHook] looks for hook notes.
	HookRefPrefix string `yaml:"hook_ref_prefix"`
}

// ParseConfigYAML parses a [Config].
func ParseConfigYAML(file []byte) (*Config, error) {
	result := &Config{}

	if err := yaml.Unmarshal(file, result); err != nil {
		return nil, err
	}

	for _, b := range result.Backends {
		if b == BackendUnknown {
			return nil, jerr.Errorf("backend %s is not allowed", b)
		}
	}

	return result, nil
}

func (c *Config) GetProperPersistSampleRate() int {
	if c == nil || c.PersistSampleRate <= 0 {
		return DefaultPersistSampleRate
	}

	return c.PersistSampleRate
}

func (c *Config) GetProperSequenceWindow() uint64 {
	if c == nil || c.SequenceWindow == 0 {
		return DefaultSequenceWindow
	}

	return c.SequenceWindow
}

func (c *Config) GetProperNotesRefPrefix() string {
	if c == nil || c.NotesRefPrefix == "" {
		return "refs/josh/cache"
	}

	return strings.TrimSuffix(c.NotesRefPrefix, "/")
}

func (c *Config) GetProperHookRefPrefix() string {
	if c == nil || c.HookRefPrefix == "" {
		return "refs/notes/josh-hook"
	}

	return strings.TrimSuffix(c.HookRefPrefix, "/")
}
