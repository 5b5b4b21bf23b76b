package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/config"
	"github.com/variantdev/ship/pkg/deploy"
	"github.com/variantdev/ship/pkg/history"
	"github.com/variantdev/ship/pkg/loginfra"
	"github.com/variantdev/ship/pkg/notify"
	"github.com/variantdev/ship/pkg/sysunit"
	"github.com/variantdev/ship/pkg/telemetry"
	"github.com/variantdev/ship/pkg/yamlpatch"
)

func Execute() {
	log := klogr.New()

	cmd := cobra.Command{
		Use:   "ship",
		Short: "Deploy one application service to one remote host over ssh",
	}

	cmd.SilenceErrors = true

	var manifest string
	cmd.PersistentFlags().StringVarP(&manifest, "file", "f", "ship.yaml", "path to the deployment manifest")

	cmd.AddCommand(newDeployCmd(log, &manifest))
	cmd.AddCommand(newHealthCmd(log, &manifest))
	cmd.AddCommand(newRenderCmd(log, &manifest))
	cmd.AddCommand(newHistoryCmd(log, &manifest))
	cmd.AddCommand(newManifestCmd(log, &manifest))

	fs := loginfra.Init()

	// Hand parsing of remaining flags to pflags and cobra
	pflag.CommandLine.AddGoFlagSet(fs)

	if err := cmd.Execute(); err != nil {
		log.Error(err, err.Error())
		os.Exit(1)
	}
}

func loadManifest(log logr.Logger, path string) (*config.Config, error) {
	loader, err := config.New(config.Logger(log))
	if err != nil {
		return nil, err
	}

	return loader.Load(path)
}

func historyPath(manifest string) string {
	return filepath.Join(filepath.Dir(manifest), "ship.lock")
}

// resultView is the JSON shape of a deployment result for CI consumers.
type resultView struct {
	App             string    `json:"app"`
	Environment     string    `json:"environment"`
	Succeeded       bool      `json:"succeeded"`
	FailedStep      string    `json:"failed_step,omitempty"`
	Error           string    `json:"error,omitempty"`
	ServiceStatus   string    `json:"service_status,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

func newResultView(res *deploy.Result) resultView {
	v := resultView{
		App:             res.App,
		Environment:     res.Environment,
		Succeeded:       res.Succeeded,
		FailedStep:      res.FailedStep,
		ServiceStatus:   res.ServiceStatus,
		Warnings:        res.Warnings,
		StartedAt:       res.StartedAt,
		DurationSeconds: res.Duration.Seconds(),
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}

func newDeployCmd(log logr.Logger, manifest *string) *cobra.Command {
	var (
		app         string
		environment string
		host        string
		user        string
		dir         string
		branch      string
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the deployment sequence from the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadManifest(log, *manifest)
			if err != nil {
				return err
			}

			if app != "" {
				cfg.App = app
			}
			if environment != "" {
				cfg.Environment = environment
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if user != "" {
				cfg.Server.User = user
			}
			if dir != "" {
				cfg.Dir = dir
			}
			if branch != "" {
				cfg.Source.Branch = branch
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()

			opts := []deploy.Option{
				deploy.Logger(log),
				deploy.Environ(os.Environ()),
				deploy.HistoryPath(historyPath(*manifest)),
			}

			if cfg.Notify.Repo != "" {
				notifyOpts := []notify.Option{notify.Logger(log)}
				if cfg.Source.Branch != "" {
					notifyOpts = append(notifyOpts, notify.Ref(cfg.Source.Branch))
				}

				client, err := notify.NewClient(ctx, cfg.Notify.Repo, os.Getenv("GITHUB_TOKEN"), notifyOpts...)
				if err != nil {
					return err
				}

				opts = append(opts, deploy.Notify(client))
			}

			if cfg.Telemetry.Gateway != "" {
				metrics, err := telemetry.New(cfg.Telemetry.Gateway, cfg.Telemetry.Job, telemetry.Logger(log))
				if err != nil {
					return err
				}

				opts = append(opts, deploy.Observe(metrics))
			}

			seq, err := deploy.New(cfg, opts...)
			if err != nil {
				return err
			}

			res, err := seq.Deploy(ctx)

			if jsonOut {
				if encErr := json.NewEncoder(os.Stdout).Encode(newResultView(res)); encErr != nil {
					return encErr
				}
			} else if res.Succeeded {
				fmt.Fprintf(os.Stdout, "deployed %s to %s (%s, took %s)\n", res.App, res.Environment, res.ServiceStatus, res.Duration)
				for _, w := range res.Warnings {
					fmt.Fprintf(os.Stdout, "warning: %s\n", w)
				}
			}

			return err
		},
	}

	cmd.Flags().StringVar(&app, "app", "", "override the manifest app name")
	cmd.Flags().StringVar(&environment, "environment", "", "override the manifest environment")
	cmd.Flags().StringVar(&host, "host", "", "override the target host")
	cmd.Flags().StringVar(&user, "user", "", "override the ssh user")
	cmd.Flags().StringVar(&dir, "dir", "", "override the remote application directory")
	cmd.Flags().StringVar(&branch, "branch", "", "override the git branch")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")

	return cmd
}

func newHealthCmd(log logr.Logger, manifest *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Poll the deployed service until it is active",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadManifest(log, *manifest)
			if err != nil {
				return err
			}

			seq, err := deploy.New(cfg, deploy.Logger(log), deploy.Environ(os.Environ()))
			if err != nil {
				return err
			}

			report, err := seq.Verify(context.Background())
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "%s: %s\n", cfg.ServiceName(), report.Status)
			for _, w := range report.Warnings {
				fmt.Fprintf(os.Stdout, "warning: %s\n", w)
			}
			for _, r := range report.Resources {
				fmt.Fprintln(os.Stdout, r)
			}

			return nil
		},
	}
}

func newRenderCmd(log logr.Logger, manifest *string) *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Print the systemd unit a deploy would install",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadManifest(log, *manifest)
			if err != nil {
				return err
			}

			d := sysunit.NewDescriptor(cfg.App, cfg.Environment, cfg.Dir)
			d.Entrypoint = cfg.Entrypoint

			text, err := d.Render()
			if err != nil {
				return err
			}

			fmt.Fprint(os.Stdout, text)

			return nil
		},
	}
}

func newHistoryCmd(log logr.Logger, manifest *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print deployments recorded in ship.lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.New(historyPath(*manifest), history.Logger(log))
			if err != nil {
				return err
			}

			state, err := store.Load()
			if err != nil {
				return err
			}

			out, err := state.Marshal()
			if err != nil {
				return err
			}

			fmt.Fprint(os.Stdout, out)

			return nil
		},
	}
}

func newManifestCmd(log logr.Logger, manifest *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Manifest maintenance helpers",
	}

	var patch string
	patchCmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply an RFC 6902 JSON patch to the manifest in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ioutil.ReadFile(*manifest)
			if err != nil {
				return err
			}

			doc, err := yamlpatch.Load(b)
			if err != nil {
				return err
			}

			if err := doc.Patch([]byte(patch)); err != nil {
				return err
			}

			out, err := doc.Marshal()
			if err != nil {
				return err
			}

			if err := ioutil.WriteFile(*manifest, out, 0644); err != nil {
				return err
			}

			log.Info("patched manifest", "path", *manifest)

			return nil
		},
	}
	patchCmd.Flags().StringVarP(&patch, "patch", "p", "", "JSON patch document")
	patchCmd.MarkFlagRequired("patch")

	cmd.AddCommand(patchCmd)

	return cmd
}
