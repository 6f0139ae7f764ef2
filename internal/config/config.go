package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Defaults for environment options that are usually left unset.
const (
	DefaultTriggerPhrase  = "@crafting-code"
	DefaultPoolName       = "claude-dev-pool"
	DefaultCmdDir         = "/home/owner/cmd"
	DefaultSandboxDefPath = "../claude-code-automation/template.yaml"
	DefaultSecretRef      = "shared/anthropic-apikey-eng"
	DefaultWatchlistFile  = "watchlist.txt"
	DefaultStateFile      = "state.json"
)

var defaultToolWhitelist = []string{"Bash", "Read", "Write", "Edit", "LS", "Grep"}

// Config holds all environment-sourced options plus the parsed watchlist.
type Config struct {
	Token               string
	TriggerPhrase       string
	Watchlist           []string
	UseSandboxPool      bool
	SandboxPoolName     string
	CmdDir              string
	ProcessExistingPRs  bool
	RequiredPRLabels    []string
	SandboxTemplateName string
	SandboxDefPath      string
	ToolWhitelistJSON   string
	AnthropicSecretRef  string
	StateFile           string
	WorkerLogDir        string
	WatcherLogFile      string
}

// Load reads configuration from the environment and the watchlist file.
// A missing auth token is a fatal configuration error.
func Load() (*Config, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GH_TOKEN")
	}
	if token == "" {
		return nil, errors.New("missing GITHUB_TOKEN or GH_TOKEN in environment")
	}

	watchlistFile := getEnv("WATCHLIST_FILE", DefaultWatchlistFile)
	watchlist, err := LoadWatchlist(watchlistFile)
	if err != nil {
		return nil, err
	}

	whitelist := getEnv("TOOL_WHITELIST_JSON", "")
	if whitelist == "" {
		encoded, _ := json.Marshal(defaultToolWhitelist)
		whitelist = string(encoded)
	}
	var tools []string
	if err := json.Unmarshal([]byte(whitelist), &tools); err != nil {
		return nil, fmt.Errorf("TOOL_WHITELIST_JSON is not a JSON string array: %w", err)
	}

	cfg := &Config{
		Token:               token,
		TriggerPhrase:       getEnv("TRIGGER_PHRASE", DefaultTriggerPhrase),
		Watchlist:           watchlist,
		UseSandboxPool:      os.Getenv("USE_SANDBOX_POOL") == "1",
		SandboxPoolName:     getEnv("SANDBOX_POOL_NAME", DefaultPoolName),
		CmdDir:              getEnv("CMD_DIR", DefaultCmdDir),
		ProcessExistingPRs:  os.Getenv("PROCESS_EXISTING_PRS") == "true",
		RequiredPRLabels:    splitLabels(os.Getenv("PR_LABELS")),
		SandboxTemplateName: os.Getenv("SANDBOX_TEMPLATE_NAME"),
		SandboxDefPath:      getEnv("SANDBOX_DEF_PATH", DefaultSandboxDefPath),
		ToolWhitelistJSON:   whitelist,
		AnthropicSecretRef:  getEnv("ANTHROPIC_SECRET_REF", DefaultSecretRef),
		StateFile:           getEnv("STATE_FILE", DefaultStateFile),
		WorkerLogDir:        getEnv("WORKER_LOG_DIR", "."),
		WatcherLogFile:      os.Getenv("WATCHER_LOG_FILE"),
	}
	return cfg, nil
}

// LoadWatchlist reads a newline-separated list of "owner/name" entries.
// Blank lines are ignored; malformed entries are rejected.
func LoadWatchlist(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist %s: %w", path, err)
	}

	var repos []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		owner, name, ok := strings.Cut(line, "/")
		if !ok || owner == "" || name == "" {
			return nil, fmt.Errorf("watchlist entry %q is not in owner/name form", line)
		}
		repos = append(repos, line)
	}
	return repos, nil
}

func splitLabels(raw string) []string {
	var labels []string
	for _, label := range strings.Split(raw, ",") {
		label = strings.TrimSpace(label)
		if label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
