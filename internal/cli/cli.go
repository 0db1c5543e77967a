package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/vk/rascheck/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// options collects the persistent flag values shared by the subcommands.
type options struct {
	rulePaths  []string
	logFormat  string
	logLevel   string
	workers    int
	strict     bool
	precedence string
	timeout    time.Duration
}

func (o *options) validate() error {
	switch strings.ToLower(o.logFormat) {
	case "text", "json":
	default:
		return &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	switch strings.ToLower(o.logLevel) {
	case "debug", "info", "warn", "error":
	default:
		return &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	return nil
}

func (o *options) config(projectPath, markdownPath string) (*app.Config, error) {
	cfg, err := app.NewConfig(app.Config{
		ProjectPath:  projectPath,
		RulePaths:    o.rulePaths,
		MarkdownPath: markdownPath,
		LogFormat:    strings.ToLower(o.logFormat),
		LogLevel:     strings.ToLower(o.logLevel),
		WorkerCount:  o.workers,
		FileTimeout:  o.timeout,
		Strict:       o.strict,
		Precedence:   o.precedence,
	})
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return cfg, nil
}

// NewRootCommand builds the command tree. outW receives command output and
// logs; the caller maps returned ExitErrors onto the process exit code.
func NewRootCommand(outW io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "rascheck",
		Short:         "Check HEC-RAS hydraulic models against compliance rules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
	}
	root.SetOut(outW)

	pf := root.PersistentFlags()
	pf.StringSliceVarP(&opts.rulePaths, "rules", "r", nil, "Rule documents (.hcl or .yaml) or directories of them, loaded in order.")
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.IntVar(&opts.workers, "workers", 4, "Number of concurrent workers for parsing and evaluation.")
	pf.BoolVar(&opts.strict, "strict", false, "Treat unknown keywords in model files as fatal.")
	pf.StringVar(&opts.precedence, "precedence", "result", "Dual-source precedence: 'result' or 'design'.")
	pf.DurationVar(&opts.timeout, "file-timeout", time.Minute, "Per-file read timeout.")

	root.AddCommand(newCheckCommand(outW, opts))
	root.AddCommand(newRulesCommand(outW, opts))
	root.AddCommand(newSummaryCommand(outW, opts))
	root.AddCommand(newAddStateCommand(outW))
	return root
}

func newCheckCommand(outW io.Writer, opts *options) *cobra.Command {
	var markdownPath string
	cmd := &cobra.Command{
		Use:   "check <project.prj>",
		Short: "Run the full compliance check against a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.rulePaths) == 0 {
				return &ExitError{Code: 2, Message: "check requires at least one --rules document"}
			}
			cfg, err := opts.config(args[0], markdownPath)
			if err != nil {
				return err
			}
			a := app.NewApp(outW, cfg)
			rep, err := a.Run(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			if err := rep.RenderTerminal(outW); err != nil {
				return err
			}
			if rep.HasBlocking() {
				return &ExitError{Code: 1, Message: "compliance violations found"}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&markdownPath, "output", "o", "", "Write the full markdown report to this path.")
	return cmd
}

func newRulesCommand(outW io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the rules the given documents load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.rulePaths) == 0 {
				return &ExitError{Code: 2, Message: "rules requires at least one --rules document"}
			}
			set := app.LoadRuleDocuments(cmd.Context(), opts.rulePaths)
			for _, r := range set.Rules {
				fmt.Fprintf(outW, "%-30s %-9s %-28s %s\n", r.ID, r.Severity, r.Citation, r.Origin)
			}
			for _, e := range set.Errors {
				fmt.Fprintf(outW, "rejected: %s\n", e)
			}
			if len(set.Rules) == 0 {
				return &ExitError{Code: 1, Message: "no rules loaded"}
			}
			return nil
		},
	}
}

// stateRuleDoc is the skeleton add-state writes. The extra state fields are
// metadata; the rule loader ignores keys it does not know.
type stateRuleDoc struct {
	State        string      `yaml:"state"`
	Abbreviation string      `yaml:"state_abbreviation"`
	Supersedes   []string    `yaml:"supersedes"`
	Rules        []stateRule `yaml:"rules"`
}

type stateRule struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Citation   string         `yaml:"citation"`
	Severity   string         `yaml:"severity"`
	CheckType  string         `yaml:"check_type"`
	AppliesTo  string         `yaml:"applies_to"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

func newAddStateCommand(outW io.Writer) *cobra.Command {
	var (
		abbrev     string
		supersedes []string
		floodway   bool
		outputDir  string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "add-state <name>",
		Short: "Write a state-overlay rule document skeleton",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if abbrev == "" {
				return &ExitError{Code: 2, Message: "add-state requires --abbrev"}
			}
			abbrev = strings.ToUpper(abbrev)

			doc := stateRuleDoc{
				State:        name,
				Abbreviation: abbrev,
				Supersedes:   supersedes,
			}
			if floodway {
				// The common overlay: a zero-rise floodway standard replacing
				// the federal one-foot surcharge allowance.
				doc.Rules = append(doc.Rules, stateRule{
					ID:        abbrev + "-FW-001",
					Name:      "Zero-rise floodway requirement",
					Citation:  name + " state regulations (update with specific citation)",
					Severity:  "violation",
					CheckType: "range",
					AppliesTo: "plans[].target_surcharge",
					Parameters: map[string]any{
						"min": 0.0,
						"max": 0.0,
					},
				})
			}

			path := filepath.Join(outputDir, strings.ReplaceAll(strings.ToLower(name), " ", "_")+".yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return &ExitError{Code: 2, Message: fmt.Sprintf("%s already exists; pass --force to overwrite", path)}
			}
			out, err := yaml.Marshal(doc)
			if err != nil {
				return fmt.Errorf("encoding state document: %w", err)
			}
			if err := os.WriteFile(path, out, 0o644); err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}
			fmt.Fprintf(outW, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&abbrev, "abbrev", "", "State abbreviation, e.g. TX.")
	cmd.Flags().StringSliceVar(&supersedes, "supersedes", nil, "Federal rule IDs this state overrides.")
	cmd.Flags().BoolVar(&floodway, "floodway", false, "Include the zero-rise floodway rule.")
	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "Directory to write the document into.")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing document.")
	return cmd
}

func newSummaryCommand(outW io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <project.prj>",
		Short: "Print a model overview without evaluating rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(args[0], "")
			if err != nil {
				return err
			}
			m, warnings, err := app.NewApp(outW, cfg).Model(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}

			counts := map[string]int{}
			for _, e := range m.All() {
				counts[string(e.Type)]++
			}
			var types []string
			for t := range counts {
				types = append(types, t)
			}
			sort.Strings(types)

			fmt.Fprintf(outW, "%d entities\n", m.Len())
			for _, t := range types {
				fmt.Fprintf(outW, "  %-15s %d\n", t, counts[t])
			}
			if len(warnings) > 0 {
				fmt.Fprintf(outW, "%d warnings\n", len(warnings))
			}
			return nil
		},
	}
}
