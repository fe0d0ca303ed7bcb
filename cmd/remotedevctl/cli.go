package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"remotedev/internal/adapter/discovery"
	"remotedev/internal/adapter/rpc"
	"remotedev/internal/adapter/rpc/jobpb"
	"remotedev/internal/domain"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const pollInterval = 500 * time.Millisecond

type config struct {
	addr   string
	apiKey string
}

type cli struct {
	client   *rpc.Client
	dialOpts []grpc.DialOption
}

func newCLI(opts ...grpc.DialOption) *cli {
	return &cli{dialOpts: opts}
}

func (c *cli) rootCmd() *cobra.Command {
	cfg := &config{}

	command := &cobra.Command{
		Use:          "remotedevctl",
		Short:        "CLI for submitting jobs to a remotedev server",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			client, err := rpc.Dial(cfg.addr, cfg.apiKey, c.dialOpts...)
			if err != nil {
				return err
			}
			c.client = client
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.client == nil {
				return nil
			}
			return c.client.Close()
		},
	}

	command.AddCommand(
		c.promptCmd(),
		c.execCmd(),
		c.getCmd(),
		c.listCmd(),
		c.cancelCmd(),
		c.discoverCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&cfg.addr,
		"addr",
		envOr("REMOTEDEV_GRPC_ADDR", "127.0.0.1:7443"),
		"Server gRPC address",
	)

	command.PersistentFlags().StringVar(
		&cfg.apiKey,
		"api-key",
		os.Getenv("REMOTEDEV_API_KEY"),
		"API key (default $REMOTEDEV_API_KEY)",
	)

	return command
}

func (c *cli) promptCmd() *cobra.Command {
	var (
		project string
		extra   string
		files   []string
		wait    bool
	)

	command := &cobra.Command{
		Use:     "prompt [flags] PROMPT...",
		Short:   "Send a prompt to the editor CLI",
		Example: "  remotedevctl prompt --project ~/Workspace/app add a README",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(cmd, wait, &jobpb.SubmitRequest{
				Kind:        jobpb.KindPrompt,
				ProjectPath: project,
				Prompt:      strings.Join(args, " "),
				Context:     extra,
				Files:       files,
			})
		},
	}

	command.Flags().StringVarP(&project, "project", "p", "", "Absolute project path")
	command.Flags().StringVar(&extra, "context", "", "Extra context for the prompt")
	command.Flags().StringSliceVarP(&files, "file", "f", nil, "File to include (repeatable)")
	command.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish and print its result")
	_ = command.MarkFlagRequired("project")

	return command
}

func (c *cli) execCmd() *cobra.Command {
	var (
		project string
		dir     string
		wait    bool
	)

	command := &cobra.Command{
		Use:     "exec [flags] COMMAND [ARGS]",
		Short:   "Run an editor CLI command",
		Example: "  remotedevctl exec --project ~/Workspace/app --wait -- --version",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(cmd, wait, &jobpb.SubmitRequest{
				Kind:             jobpb.KindCommand,
				ProjectPath:      project,
				Command:          args[0],
				Args:             args[1:],
				WorkingDirectory: dir,
			})
		},
	}

	command.Flags().StringVarP(&project, "project", "p", "", "Absolute project path")
	command.Flags().StringVar(&dir, "dir", "", "Working directory (default: project path)")
	command.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish and print its result")
	_ = command.MarkFlagRequired("project")

	// Flags after COMMAND belong to the command, not to remotedevctl.
	command.Flags().SetInterspersed(false)

	return command
}

func (c *cli) submit(cmd *cobra.Command, wait bool, req *jobpb.SubmitRequest) error {
	resp, err := c.client.Submit(cmd.Context(), req)
	if err != nil {
		return mapError(err)
	}
	if !wait {
		fmt.Fprintln(cmd.OutOrStdout(), resp.JobId)
		return nil
	}

	j, err := c.await(cmd, resp.JobId)
	if err != nil {
		return err
	}
	if j.Status == string(domain.JobError) {
		return fmt.Errorf("job %s failed: %s", j.Id, j.Error)
	}
	fmt.Fprintln(cmd.OutOrStdout(), j.Result)
	return nil
}

// await polls until the job reaches a terminal state.
func (c *cli) await(cmd *cobra.Command, id string) (*jobpb.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		j, err := c.client.Get(cmd.Context(), id)
		if err != nil {
			return nil, mapError(err)
		}
		if domain.JobStatus(j.Status).IsTerminal() {
			return j, nil
		}
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func (c *cli) getCmd() *cobra.Command {
	var wait bool

	command := &cobra.Command{
		Use:     "get [flags] JOB_ID",
		Short:   "Show a job",
		Example: "  remotedevctl get 01J9Z7Q5M2T8R4K6D1F3H5N7P9",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				j   *jobpb.Job
				err error
			)
			if wait {
				j, err = c.await(cmd, args[0])
			} else {
				j, err = c.client.Get(cmd.Context(), args[0])
				err = mapError(err)
			}
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), j)
			return nil
		},
	}

	command.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the job finishes")

	return command
}

func (c *cli) listCmd() *cobra.Command {
	req := &jobpb.ListRequest{}

	command := &cobra.Command{
		Use:     "list [flags]",
		Short:   "List jobs",
		Example: "  remotedevctl list --status running",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := c.client.List(cmd.Context(), req)
			if err != nil {
				return mapError(err)
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}

	command.Flags().StringVarP(&req.ProjectPath, "project", "p", "", "Only jobs for this project")
	command.Flags().StringVarP(&req.Status, "status", "s", "", "Only jobs in this status (pending, running, completed, error)")

	return command
}

func (c *cli) cancelCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "cancel [flags] JOB_ID",
		Short:   "Cancel a job",
		Example: "  remotedevctl cancel 01J9Z7Q5M2T8R4K6D1F3H5N7P9",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return mapError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.JobId, resp.Status)
			return nil
		},
	}

	return command
}

func (c *cli) discoverCmd() *cobra.Command {
	var timeout time.Duration

	command := &cobra.Command{
		Use:   "discover [flags]",
		Short: "Find remotedev servers on the local network",
		Args:  cobra.NoArgs,
		// Browsing needs no server connection.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			mdns := discovery.New(discovery.Config{}, discardLogger())
			found, err := mdns.Browse(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			printInstances(cmd.OutOrStdout(), found)
			return nil
		},
	}

	command.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "How long to listen for answers")

	return command
}

func printJob(out io.Writer, j *jobpb.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", j.Id)
	fmt.Fprintf(w, "KIND\t%s\n", j.Kind)
	fmt.Fprintf(w, "STATUS\t%s\n", j.Status)
	if j.ProjectPath != "" {
		fmt.Fprintf(w, "PROJECT\t%s\n", j.ProjectPath)
	}
	if j.Command != "" {
		fmt.Fprintf(w, "COMMAND\t%s\n", strings.TrimSpace(j.Command+" "+strings.Join(j.Args, " ")))
	}
	fmt.Fprintf(w, "SUBMITTED\t%s\n", j.SubmittedAt.Format(time.RFC3339))
	if j.DurationMs > 0 {
		fmt.Fprintf(w, "DURATION\t%s\n", time.Duration(j.DurationMs)*time.Millisecond)
	}
	if j.Error != "" {
		fmt.Fprintf(w, "ERROR\t%s\n", j.Error)
	}
	w.Flush()
	if j.Result != "" {
		fmt.Fprintf(out, "\n%s\n", strings.TrimRight(j.Result, "\n"))
	}
}

func printJobs(out io.Writer, jobs []*jobpb.Job) {
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].SubmittedAt.Before(jobs[k].SubmittedAt) })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tKIND\tSTATUS\tPROJECT\tSUBMITTED\t\n")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n",
			j.Id, j.Kind, j.Status, j.ProjectPath, j.SubmittedAt.Format(time.RFC3339))
	}
	w.Flush()
}

func printInstances(out io.Writer, found []discovery.Instance) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tADDRESS\tPORT\tGRPC\t\n")
	for _, in := range found {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t\n", in.Name, in.Address, in.Port, in.Metadata["grpc"])
	}
	w.Flush()
}

// mapError translates gRPC errors to human-readable messages.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("not found: %s", st.Message())
	case codes.PermissionDenied, codes.Unauthenticated:
		return errors.New("permission denied: check --api-key")
	case codes.InvalidArgument:
		return fmt.Errorf("%s", st.Message())
	case codes.Unavailable:
		return fmt.Errorf("unavailable: %s", st.Message())
	default:
		return fmt.Errorf("%s", st.Message())
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
