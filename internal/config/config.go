// Package config loads and holds the privacy engine's full configuration.
// Settings are layered: compiled-in defaults → privacygate.yaml → environment
// variables (env vars win), mirroring the teacher's defaults() → loadFile()
// → loadEnv() layering, but over the nested checkpoint/detector/rule mapping
// of §6 instead of a flat proxy-settings file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"privacygate/internal/detect"
	"privacygate/internal/perr"
	"privacygate/internal/tier"
)

// Config is the decoded, immutable configuration surface of §6. Nothing
// mutates it after Load returns; runtime-editable lists (protected roots,
// S2/S3 tool paths) live in internal/pathregistry instead.
type Config struct {
	Enabled     bool              `yaml:"enabled"`
	Checkpoints CheckpointsConfig `yaml:"checkpoints"`
	Rules       RulesConfig       `yaml:"rules"`
	LocalModel  LocalModelConfig  `yaml:"localModel"`
	GuardAgent  GuardAgentConfig  `yaml:"guardAgent"`
	Session     SessionConfig     `yaml:"session"`

	ManagementPort  int    `yaml:"managementPort"`
	ManagementToken string `yaml:"managementToken"`
	LogLevel        string `yaml:"logLevel"`
}

// CheckpointsConfig names which detector kinds run at each message/tool
// checkpoint, per §6: each value is a subset of {"ruleDetector",
// "localModelDetector"}.
type CheckpointsConfig struct {
	OnUserMessage      []string `yaml:"onUserMessage"`
	OnToolCallProposed []string `yaml:"onToolCallProposed"`
	OnToolCallExecuted []string `yaml:"onToolCallExecuted"`
}

// RulesConfig is the Rule Detector's configuration surface, per §6 and §4.1.
type RulesConfig struct {
	Keywords TierStrings `yaml:"keywords"`
	Patterns TierStrings `yaml:"patterns"`
	Tools    ToolRules   `yaml:"tools"`
}

// TierStrings pairs an S2 list with an S3 list, the shape §6 uses for both
// keywords and pattern sources.
type TierStrings struct {
	S2 []string `yaml:"S2"`
	S3 []string `yaml:"S3"`
}

// ToolRules pairs an S2 and an S3 ToolRule.
type ToolRules struct {
	S2 ToolRule `yaml:"S2"`
	S3 ToolRule `yaml:"S3"`
}

// ToolRule names the tool names and path prefixes that trigger a tier.
type ToolRule struct {
	Tools []string `yaml:"tools"`
	Paths []string `yaml:"paths"`
}

// LocalModelConfig configures the local inference endpoint, per §6.
type LocalModelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// GuardAgentConfig names the local guard-subsession identity used for S3
// direct responses, per §6.
type GuardAgentConfig struct {
	ID        string `yaml:"id"`
	Workspace string `yaml:"workspace"`
	Model     string `yaml:"model"`
}

// SessionConfig configures Session State storage, per §6.
type SessionConfig struct {
	IsolateGuardHistory bool   `yaml:"isolateGuardHistory"`
	BaseDir             string `yaml:"baseDir"`
}

// defaultConfigFile is tried by Load when no explicit path is given.
const defaultConfigFile = "privacygate.yaml"

// Load returns a Config with defaults overridden by path (or
// privacygate.yaml if path is empty) and then by environment variables. The
// YAML decode rejects unrecognized top-level keys, per §9's design note
// that misconfiguration should fail loudly rather than silently no-op.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = defaultConfigFile
	}
	if err := loadFile(cfg, path); err != nil {
		return nil, err
	}
	loadEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Enabled: true,
		Checkpoints: CheckpointsConfig{
			OnUserMessage:      []string{"ruleDetector", "localModelDetector"},
			OnToolCallProposed: []string{"ruleDetector"},
			OnToolCallExecuted: []string{"ruleDetector"},
		},
		Rules: RulesConfig{
			Keywords: TierStrings{
				S2: []string{"phone", "email", "address", "salary"},
				S3: []string{"ssn", "social security", "private key", "password"},
			},
		},
		LocalModel: LocalModelConfig{
			Enabled:  true,
			Provider: "local",
			Model:    "qwen2.5:3b",
			Endpoint: "http://localhost:11434",
		},
		GuardAgent: GuardAgentConfig{
			ID:        "privacy-guard",
			Workspace: "./guard-workspace",
			Model:     "qwen2.5:3b",
		},
		Session: SessionConfig{
			IsolateGuardHistory: true,
			BaseDir:             "./privacygate-data",
		},
		ManagementPort: 8091,
		LogLevel:       "info",
	}
}

// loadFile decodes path onto cfg, leaving any field not present in the file
// at its current (default) value. A missing file is not an error — the
// file is optional, matching the teacher's loadFile semantics.
func loadFile(cfg *Config, path string) error {
	f, err := os.Open(path) //nolint:gosec // controlled config file path, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return perr.New(perr.ConfigInvalid, "config.loadFile", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return perr.New(perr.ConfigInvalid, "config.loadFile", fmt.Errorf("parse %s: %w", path, err))
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOCAL_MODEL_ENDPOINT"); v != "" {
		cfg.LocalModel.Endpoint = v
	}
	if v := os.Getenv("LOCAL_MODEL_MODEL"); v != "" {
		cfg.LocalModel.Model = v
	}
	if v := os.Getenv("LOCAL_MODEL_ENABLED"); v == "false" {
		cfg.LocalModel.Enabled = false
	}
	if v := os.Getenv("SESSION_BASE_DIR"); v != "" {
		cfg.Session.BaseDir = v
	}
}

// RuleConfig compiles the Rules section into the detect package's runtime
// representation, compiling each pattern source once at load time so
// detection never pays regexp.Compile's cost per call, per §4.1.
func (c *Config) RuleConfig() (detect.RuleConfig, error) {
	s2Patterns, err := compilePatterns(c.Rules.Patterns.S2)
	if err != nil {
		return detect.RuleConfig{}, perr.New(perr.ConfigInvalid, "config.RuleConfig", err)
	}
	s3Patterns, err := compilePatterns(c.Rules.Patterns.S3)
	if err != nil {
		return detect.RuleConfig{}, perr.New(perr.ConfigInvalid, "config.RuleConfig", err)
	}

	return detect.RuleConfig{
		KeywordsS2: c.Rules.Keywords.S2,
		KeywordsS3: c.Rules.Keywords.S3,
		PatternsS2: s2Patterns,
		PatternsS3: s3Patterns,
		ToolsS2:    detect.ToolRule{Tools: c.Rules.Tools.S2.Tools, Paths: c.Rules.Tools.S2.Paths},
		ToolsS3:    detect.ToolRule{Tools: c.Rules.Tools.S3.Tools, Paths: c.Rules.Tools.S3.Paths},
	}, nil
}

func compilePatterns(sources []string) ([]*detect.CompiledPattern, error) {
	out := make([]*detect.CompiledPattern, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", src, err)
		}
		out = append(out, detect.NewCompiledPattern(src, re.MatchString))
	}
	return out, nil
}

// EnabledSet builds a detect.EnabledSet for one checkpoint's configured
// detector names ("ruleDetector", "localModelDetector"), paired with the
// already-compiled rule configuration.
func (c *Config) EnabledSet(checkpointDetectors []string, ruleCfg detect.RuleConfig) detect.EnabledSet {
	var kinds []tier.DetectorKind
	for _, name := range checkpointDetectors {
		switch name {
		case "ruleDetector":
			kinds = append(kinds, tier.Rule)
		case "localModelDetector":
			if c.LocalModel.Enabled {
				kinds = append(kinds, tier.Semantic)
			}
		}
	}
	return detect.EnabledSet{Kinds: kinds, RuleConfig: ruleCfg}
}
