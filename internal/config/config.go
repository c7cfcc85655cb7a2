package config

import (
	"fmt"
	"os"
	"regexp"

	"apworldmgr/internal/apworld"

	"gopkg.in/yaml.v3"
)

// RepoSource identifies a release asset published by a GitHub repository.
type RepoSource struct {
	Repo  string // "owner/repo"
	Asset string // release asset file name, e.g. "ootr.apworld"
}

// World is one tracked apworld and how to obtain it. Exactly one of the two
// sourcing modes is set; NewRepoWorld and NewManualWorld are the only
// constructors, so a World that exists is always well-formed.
type World struct {
	Name string

	repo   *RepoSource
	manual string
}

// NewRepoWorld creates a repository-sourced world. The repo may be given as
// "owner/repo" or as a https://github.com/owner/repo URL.
func NewRepoWorld(name, repo, asset string) (World, error) {
	normalized, err := normalizeRepo(repo)
	if err != nil {
		return World{}, &ItemError{World: name, Reason: err.Error()}
	}
	if !apworld.IsAPWorldFile(asset) {
		return World{}, &ItemError{World: name, Reason: fmt.Sprintf("github_asset %q must end in %s", asset, apworld.Extension)}
	}
	return World{Name: name, repo: &RepoSource{Repo: normalized, Asset: asset}}, nil
}

// NewManualWorld creates a manually managed world.
func NewManualWorld(name, fileName string) (World, error) {
	if !apworld.IsAPWorldFile(fileName) {
		return World{}, &ItemError{World: name, Reason: fmt.Sprintf("manual_file %q must end in %s", fileName, apworld.Extension)}
	}
	return World{Name: name, manual: fileName}, nil
}

// RepoSource returns the repository source, or ok=false for manual worlds.
func (w World) RepoSource() (RepoSource, bool) {
	if w.repo == nil {
		return RepoSource{}, false
	}
	return *w.repo, true
}

// ManualFile returns the manual file name, or ok=false for repo-sourced worlds.
func (w World) ManualFile() (string, bool) {
	if w.manual == "" {
		return "", false
	}
	return w.manual, true
}

// LocalFile returns the file name this world occupies in the managed
// directory: the release asset name or the manual file name.
func (w World) LocalFile() string {
	if w.repo != nil {
		return w.repo.Asset
	}
	return w.manual
}

// Config is the declarative list of tracked worlds, in file order.
type Config struct {
	Worlds []World
}

// ItemError reports a contradictory or malformed world definition.
type ItemError struct {
	World  string
	Reason string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("world %q: %s", e.World, e.Reason)
}

// worldEntry is the YAML shape of one world definition.
type worldEntry struct {
	Name        string `yaml:"name"`
	GitHubRepo  string `yaml:"github_repo"`
	GitHubAsset string `yaml:"github_asset"`
	ManualFile  string `yaml:"manual_file"`
}

type fileSchema struct {
	Worlds []worldEntry `yaml:"worlds"`
}

// Load reads and parses the worlds file. A missing file yields an empty
// configuration; anything else malformed is an error.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var schema fileSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{Worlds: make([]World, 0, len(schema.Worlds))}
	seen := make(map[string]bool, len(schema.Worlds))
	for _, entry := range schema.Worlds {
		world, err := entry.build()
		if err != nil {
			return nil, err
		}
		if seen[world.Name] {
			return nil, &ItemError{World: world.Name, Reason: "defined more than once"}
		}
		seen[world.Name] = true
		cfg.Worlds = append(cfg.Worlds, world)
	}

	return cfg, nil
}

// World returns the configured world with the given name.
func (c *Config) World(name string) (World, bool) {
	for _, w := range c.Worlds {
		if w.Name == name {
			return w, true
		}
	}
	return World{}, false
}

// build validates one YAML entry into a World, enforcing that github_repo
// plus github_asset and manual_file are mutually exclusive sourcing modes.
func (e worldEntry) build() (World, error) {
	if e.Name == "" {
		return World{}, &ItemError{World: e.Name, Reason: "name is required"}
	}

	hasRepo := e.GitHubRepo != "" || e.GitHubAsset != ""
	hasManual := e.ManualFile != ""

	switch {
	case hasRepo && hasManual:
		return World{}, &ItemError{World: e.Name, Reason: "cannot be both manual and managed by github repo"}
	case hasRepo:
		if e.GitHubRepo == "" || e.GitHubAsset == "" {
			return World{}, &ItemError{World: e.Name, Reason: "must set github_repo and github_asset together"}
		}
		return NewRepoWorld(e.Name, e.GitHubRepo, e.GitHubAsset)
	case hasManual:
		return NewManualWorld(e.Name, e.ManualFile)
	default:
		return World{}, &ItemError{World: e.Name, Reason: "must set either github_repo/github_asset or manual_file"}
	}
}

var repoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)`),
	regexp.MustCompile(`^([^/]+)/([^/]+)$`),
}

// normalizeRepo reduces a repository reference to "owner/repo".
func normalizeRepo(repo string) (string, error) {
	for _, pattern := range repoPatterns {
		if m := pattern.FindStringSubmatch(repo); m != nil {
			return m[1] + "/" + m[2], nil
		}
	}
	return "", fmt.Errorf("github_repo %q is neither owner/repo nor a github.com URL", repo)
}
