package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/observability"
	"github.com/xkilldash9x/surfer-cli/internal/vault"
	"github.com/xkilldash9x/surfer-cli/internal/worker"
)

// taskFile is the YAML layout accepted by the batch command.
type taskFile struct {
	Tasks []taskSpec `yaml:"tasks"`
}

type taskSpec struct {
	Name           string   `yaml:"name"`
	Task           string   `yaml:"task"`
	AllowedDomains []string `yaml:"allowed_domains"`
	MaxSteps       int      `yaml:"max_steps"`
	StartURL       string   `yaml:"start_url"`
}

func loadTaskFile(r io.Reader) ([]taskSpec, error) {
	var tf taskFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("task file contains no tasks")
	}
	seen := make(map[string]bool, len(tf.Tasks))
	for i := range tf.Tasks {
		t := &tf.Tasks[i]
		if strings.TrimSpace(t.Task) == "" {
			return nil, fmt.Errorf("task %d has no task text", i+1)
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("task-%d", i+1)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate task name %q", t.Name)
		}
		seen[t.Name] = true
	}
	return tf.Tasks, nil
}

func buildJobs(specs []taskSpec, defaultDomains []string, bindings vault.Bindings) []worker.Job {
	jobs := make([]worker.Job, 0, len(specs))
	for _, s := range specs {
		domains := s.AllowedDomains
		if len(domains) == 0 {
			domains = defaultDomains
		}
		jobs = append(jobs, worker.Job{
			Name: s.Name,
			Request: agent.RunRequest{
				Task:           s.Task,
				AllowedDomains: domains,
				SecretBindings: bindings,
				MaxSteps:       s.MaxSteps,
				StartURL:       s.StartURL,
			},
		})
	}
	return jobs
}

func newBatchCmd() *cobra.Command {
	var (
		concurrency int
		exportDir   string
		secrets     []string
	)

	cmd := &cobra.Command{
		Use:   "batch [tasks.yaml]",
		Short: "Run independent tasks concurrently, one browser session each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("batch")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open task file: %w", err)
			}
			specs, err := loadTaskFile(f)
			_ = f.Close()
			if err != nil {
				return err
			}

			bindings, err := resolveSecrets(cfg, secrets)
			if err != nil {
				return err
			}
			if exportDir != "" {
				if err := os.MkdirAll(exportDir, 0o755); err != nil {
					return fmt.Errorf("failed to create export directory: %w", err)
				}
			}
			if concurrency <= 0 {
				concurrency = cfg.Worker.Concurrency
			}

			a, err := newApp(ctx, cfg, logger, appOptions{withModel: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			results := a.newPool(concurrency).Run(ctx, buildJobs(specs, cfg.Agent.AllowedDomains, bindings))

			failures := 0
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tRUN\tSTATUS\tSTEPS\tRESULT")
			for _, r := range results {
				if r.Err != nil {
					failures++
					fmt.Fprintf(tw, "%s\t-\terror\t0\t%s\n", r.Job.Name, r.Err)
					continue
				}
				st := r.Result.State
				if st.Status != agent.StatusCompleted {
					failures++
				}
				outcome := st.Summary
				if outcome == "" {
					outcome = st.LastError
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Job.Name, r.Result.RunID, st.Status, st.Step, outcome)

				if exportDir != "" {
					path := filepath.Join(exportDir, filepath.Base(r.Job.Name)+".json")
					if err := writeExport(path, r.Result.Export(history.ExportOptions{})); err != nil {
						logger.Error("Failed to export run", zap.String("job", r.Job.Name), zap.Error(err))
					}
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d tasks did not complete", failures, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Maximum concurrent sessions (default from config)")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "Write each run's redacted history to <dir>/<name>.json")
	cmd.Flags().StringArrayVar(&secrets, "secret", nil, "Secret binding pattern=name:ENV_VAR (repeatable)")
	return cmd
}
