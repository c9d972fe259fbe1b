// Package config loads the settings that drive Git interop behavior.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/tideline/core/refspec"
)

type Settings struct {
	Git GitSettings `yaml:"git"`
}

type GitSettings struct {
	// Executable is the git binary used for fetch, push, and gc.
	Executable string `yaml:"executable"`

	// AutoLocalBookmark creates and tracks a local bookmark for every
	// newly fetched remote bookmark.
	AutoLocalBookmark bool `yaml:"auto_local_bookmark"`

	// AbandonUnreachableCommits abandons commits that remote refs no
	// longer reach after an import.
	AbandonUnreachableCommits bool `yaml:"abandon_unreachable_commits"`

	// WriteChangeIDHeader records the change id as a commit header in
	// addition to the metadata table.
	WriteChangeIDHeader bool `yaml:"write_change_id_header"`

	// SignOnPush signs commits that are about to be pushed.
	SignOnPush bool `yaml:"sign_on_push"`

	// AutoTrackBookmarks lists name patterns ("exact:", "glob:",
	// "substring:", bare text for exact) whose remote bookmarks start
	// tracked on first import.
	AutoTrackBookmarks []string `yaml:"auto_track_bookmarks"`
}

func DefaultSettings() *Settings {
	return &Settings{
		Git: GitSettings{
			Executable:                "git",
			AutoLocalBookmark:         false,
			AbandonUnreachableCommits: true,
			WriteChangeIDHeader:       false,
			SignOnPush:                false,
		},
	}
}

// Load reads settings from a yaml file, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}

	applyEnvironment(settings)
	return settings, nil
}

func applyEnvironment(settings *Settings) {
	if v := os.Getenv("TIDELINE_GIT_EXECUTABLE"); v != "" {
		settings.Git.Executable = v
	}
	if v := os.Getenv("TIDELINE_GIT_AUTO_LOCAL_BOOKMARK"); v != "" {
		settings.Git.AutoLocalBookmark = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("TIDELINE_GIT_ABANDON_UNREACHABLE"); v != "" {
		settings.Git.AbandonUnreachableCommits = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("TIDELINE_GIT_SIGN_ON_PUSH"); v != "" {
		settings.Git.SignOnPush = strings.EqualFold(v, "true")
	}
}

// AutoTrackExpression compiles the auto-track patterns into one matching
// expression. No patterns means nothing is auto-tracked.
func (s *GitSettings) AutoTrackExpression() (refspec.Expression, error) {
	operands := make([]refspec.Expression, 0, len(s.AutoTrackBookmarks))
	for _, text := range s.AutoTrackBookmarks {
		p, err := refspec.ParsePattern(text)
		if err != nil {
			return nil, fmt.Errorf("auto-track pattern %q: %w", text, err)
		}
		operands = append(operands, refspec.Pattern(p))
	}
	return refspec.Union(operands...), nil
}
