package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is an interface that represents a source from which application configuration can be loaded.
type Config interface {
	LoadConfig(c any) error
	Check() error
	Get(key string) (string, error)

	// Watch watches for changes to a key in the storage and sends the events to the provided channel.
	// The events includes the key and the updated value.
	// events is the channel to send events when the key's value changes
	Watch(ctx context.Context, key string, events chan<- Event) error
}

// Event represents a change to a key in the storage.
// Key is the key that was changed
// Value is the new value of the key
type Event struct {
	Key   string
	Value string
}

// Load first ensures that the config system valid and accessible. Then it loads the config into c.
func Load(cs Config, c any) error {
	if err := cs.Check(); err != nil {
		return err
	}
	return cs.LoadConfig(c)
}

// File is a JSON or YAML configuration file. Files ending in .yaml or .yml
// are read as YAML, all others as JSON.
type File struct {
	ConfigFilePath string
	Config         map[string]any
}

func NewFile(configFilePath string) (*File, error) {
	file := &File{ConfigFilePath: configFilePath}

	if err := file.Check(); err != nil {
		return nil, err
	}

	return file, nil
}

func (f *File) Check() error {
	if f.ConfigFilePath == "" {
		return fmt.Errorf("configFilePath cannot be empty")
	}
	if _, err := os.Stat(f.ConfigFilePath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}
	return nil
}

func (f *File) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(f.ConfigFilePath))
	return ext == ".yaml" || ext == ".yml"
}

func (f *File) decode(data []byte, v any) error {
	if f.isYAML() {
		return yaml.Unmarshal(data, v)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	return decoder.Decode(v)
}

// LoadConfig decodes the file into appConfig and keeps its top level keys
// for Get.
func (f *File) LoadConfig(appConfig any) error {
	data, err := os.ReadFile(f.ConfigFilePath)
	if err != nil {
		return err
	}

	raw := map[string]any{}
	if err := f.decode(data, &raw); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.ConfigFilePath, err)
	}
	f.Config = raw

	if err := f.decode(data, appConfig); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.ConfigFilePath, err)
	}
	return nil
}

type ValueNotStringError struct {
	Key   string
	Value any
}

func (e *ValueNotStringError) Error() string {
	return fmt.Sprintf("value for key %s is not a string: %v", e.Key, e.Value)
}

type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key %s not found in config", e.Key)
}

// Get retrieves a top level value of the last loaded configuration.
// If the value is a string, it is returned as is. Other values are returned
// JSON encoded along with a ValueNotStringError.
// If the key is not found in the configuration, an error of type KeyNotFoundError is returned.
func (f *File) Get(key string) (string, error) {
	value, ok := f.Config[key]
	if !ok {
		return "", &KeyNotFoundError{Key: key}
	}

	if s, ok := value.(string); ok {
		return s, nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value), &ValueNotStringError{Key: key, Value: value}
	}
	return string(encoded), &ValueNotStringError{Key: key, Value: value}
}

// Watch reloads the file whenever it is written, created or renamed into
// place and sends an event when the value of key changed. An empty key
// matches every change of the file, the event value is then the file content.
// Watch blocks until ctx is done.
func (f *File) Watch(ctx context.Context, key string, events chan<- Event) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Editors and config management replace files by renaming, so the
	// directory is watched instead of the file.
	if err := watcher.Add(filepath.Dir(f.ConfigFilePath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.ConfigFilePath, err)
	}

	last, _ := f.current(key)
	target := filepath.Clean(f.ConfigFilePath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher failed: %w", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			value, err := f.current(key)
			if err != nil || value == last {
				continue
			}
			last = value
			select {
			case events <- Event{Key: key, Value: value}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// current reads the file and returns the value Watch compares for key.
func (f *File) current(key string) (string, error) {
	data, err := os.ReadFile(f.ConfigFilePath)
	if err != nil {
		return "", err
	}
	if key == "" {
		return string(data), nil
	}

	raw := map[string]any{}
	if err := f.decode(data, &raw); err != nil {
		return "", err
	}
	value, ok := raw[key]
	if !ok {
		return "", &KeyNotFoundError{Key: key}
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
