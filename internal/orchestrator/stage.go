package orchestrator

import (
	"encoding/json"
	"fmt"
)

// StageOptions is implemented by every typed option set a Stage can wrap,
// the way typed osbuild stage options do (NewXStage(options)
// *Stage, with Options typed per stage kind). Here a "stage" is a file
// the orchestrator must materialize inside the per-fingerprint artifact
// directory before invoking the ImageBuilder, rather than an osbuild
// pipeline step — the typed-options-plus-validating-marshal idiom carries
// over even though the domain object it describes does not.
type StageOptions interface {
	isStageOptions()
	Render() ([]byte, error)
}

// Stage pairs a kind with its rendered file content and the path (relative
// to the artifact directory) it must be written to.
type Stage struct {
	Kind    string
	Path    string
	Mode    uint32
	Options StageOptions
}

// Render produces the file content for the stage.
func (s *Stage) Render() ([]byte, error) {
	return s.Options.Render()
}

// UCIDefaultsStageOptions wraps the user-supplied first-boot script
// (the request's "defaults" field, written to files/etc/uci-defaults/99-custom).
type UCIDefaultsStageOptions struct {
	Script string
}

func (UCIDefaultsStageOptions) isStageOptions() {}

// Render validates, the way
// internal/osbuild's systemdJournaldConfigJournalSection.MarshalJSON did
// for its own config section, that there is actually content to write —
// an empty defaults script is a caller error, not a file worth mounting.
func (o UCIDefaultsStageOptions) Render() ([]byte, error) {
	if o.Script == "" {
		return nil, fmt.Errorf("uci-defaults stage: script must not be empty")
	}
	return []byte(o.Script), nil
}

// NewUCIDefaultsStage builds the stage that writes
// files/etc/uci-defaults/99-custom (mode 0755) inside the artifact
// directory, during build preparation.
func NewUCIDefaultsStage(script string) *Stage {
	return &Stage{
		Kind:    "uci-defaults",
		Path:    "files/etc/uci-defaults/99-custom",
		Mode:    0755,
		Options: UCIDefaultsStageOptions{Script: script},
	}
}

// repositoryEntry is one opkg custom-feed line, keyed positionally to its
// signing key the way a request pairs repositories/repository_keys.
type repositoryEntry struct {
	URL string
	Key string
}

// RepositoriesStageOptions wraps the optional extra opkg feeds
// (the request's "repositories"/"repository_keys" fields).
type RepositoriesStageOptions struct {
	Entries []repositoryEntry
}

func (RepositoriesStageOptions) isStageOptions() {}

// Render emits one "src/gz <name> <url>" line per entry, preserving the
// caller's order — precedence among opkg feeds is positional, and URL
// order is semantically meaningful.
func (o RepositoriesStageOptions) Render() ([]byte, error) {
	if len(o.Entries) == 0 {
		return nil, fmt.Errorf("repositories stage: at least one repository must be set")
	}
	var buf []byte
	for i, e := range o.Entries {
		line := fmt.Sprintf("src/gz custom-%d %s\n", i, e.URL)
		buf = append(buf, []byte(line)...)
	}
	return buf, nil
}

// NewRepositoriesStage builds the stages that write a custom opkg feed
// override file from the request's repositories/repository_keys pairs,
// plus one companion key-staging file per entry that names a key.
func NewRepositoriesStage(repositories, keys []string) []*Stage {
	entries := make([]repositoryEntry, len(repositories))
	for i, url := range repositories {
		entries[i] = repositoryEntry{URL: url, Key: keys[i]}
	}
	stages := []*Stage{{
		Kind:    "repositories",
		Path:    "files/etc/opkg/customfeeds.conf",
		Mode:    0644,
		Options: RepositoriesStageOptions{Entries: entries},
	}}
	for i, e := range entries {
		if e.Key == "" {
			continue
		}
		stages = append(stages, NewRepositoryKeyStage(i, e.Key))
	}
	return stages
}

// RepositoryKeyStageOptions wraps a single feed's signing key material.
type RepositoryKeyStageOptions struct {
	Key string
}

func (RepositoryKeyStageOptions) isStageOptions() {}

// Render writes the key verbatim; this driver does not parse or verify
// key material, the same way Render elsewhere never interprets the
// ImageBuilder's own behavior.
func (o RepositoryKeyStageOptions) Render() ([]byte, error) {
	if o.Key == "" {
		return nil, fmt.Errorf("repository key stage: key must not be empty")
	}
	return []byte(o.Key), nil
}

// NewRepositoryKeyStage builds the stage that stages a feed's signing key
// for `opkg-key add`. opkg itself looks keys up by a fingerprint derived
// from the key material under /etc/opkg/keys; computing that fingerprint
// here would mean duplicating opkg's own key-parsing logic, so the file
// is named positionally and left for a first-boot script (or an operator)
// to register with `opkg-key add`.
func NewRepositoryKeyStage(index int, key string) *Stage {
	return &Stage{
		Kind:    "repository-key",
		Path:    fmt.Sprintf("files/etc/opkg/keys/custom-%d.pub", index),
		Mode:    0644,
		Options: RepositoryKeyStageOptions{Key: key},
	}
}

// MarshalManifestLine keeps a JSON-option-rendering idiom
// available for callers (e.g. diagnostics logging) that want the stage's
// configuration as structured data rather than its rendered file bytes.
func MarshalManifestLine(s *Stage) ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		Path string `json:"path"`
	}{Kind: s.Kind, Path: s.Path})
}
