package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vk/rascheck/internal/model"
)

// Config holds everything an App instance needs to run one compliance
// check.
type Config struct {
	// ProjectPath is the .prj manifest of the model under review.
	ProjectPath string
	// RulePaths are rule documents, HCL or YAML by extension, loaded in
	// order. Later YAML documents overlay earlier ones.
	RulePaths []string

	// MarkdownPath, when set, receives the full report document.
	MarkdownPath string

	LogFormat string
	LogLevel  string

	// WorkerCount bounds both the parse fan-out and the rule evaluation
	// pool.
	WorkerCount int
	// FileTimeout bounds each individual file read; zero means a minute.
	FileTimeout time.Duration
	// Strict makes unknown keywords in text inputs fatal.
	Strict bool
	// Precedence is "result" (default) or "design"; see model.MergePolicy.
	Precedence string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ProjectPath == "" {
		return nil, errors.New("ProjectPath is a required configuration field and cannot be empty")
	}
	if !strings.HasSuffix(strings.ToLower(cfg.ProjectPath), ".prj") {
		return nil, fmt.Errorf("ProjectPath %q is not a .prj manifest", cfg.ProjectPath)
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = time.Minute
	}
	if _, err := cfg.mergePolicy(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) mergePolicy() (model.MergePolicy, error) {
	switch c.Precedence {
	case "", "result":
		return model.MergePolicy{Precedence: model.PreferResult}, nil
	case "design":
		return model.MergePolicy{Precedence: model.PreferDesign}, nil
	}
	return model.MergePolicy{}, fmt.Errorf("unknown precedence %q (want result or design)", c.Precedence)
}
