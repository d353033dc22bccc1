package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"aidesk/internal/config"
	"aidesk/internal/erp"
	apperrors "aidesk/internal/errors"
	"aidesk/internal/gateway"
	"aidesk/internal/logging"
	"aidesk/internal/observability"
	"aidesk/internal/orchestration"
	"aidesk/internal/poller"
	"aidesk/internal/protocol"
	"aidesk/internal/report"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

type reportOptions struct {
	projectID      string
	organizationID string
	mode           string
	assumeYes      bool
}

func newReportCommand(a *app) *cobra.Command {
	var opts reportOptions
	cmd := &cobra.Command{
		Use:   "report [prompt...]",
		Short: "Generate an AI report and follow it until it finishes",
		Long: `Starts a report task, polls it and prints the result.

The report kind is inferred from the prompt unless --mode is given.
Press Ctrl+C to cancel a running report once cancellation is available.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), a.cfg, opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.projectID, "project", "p", erp.DemoProjectID, "project id")
	flags.StringVar(&opts.organizationID, "org", "", "organization id for recommendations")
	flags.StringVarP(&opts.mode, "mode", "m", "", "summarize, extract, recommend or recommend_with_chart")
	flags.BoolVarP(&opts.assumeYes, "yes", "y", false, "cancel without asking for confirmation")
	flags.String("base-url", "", "orchestration API base URL")
	flags.Duration("poll-interval", 0, "status poll interval")
	bindFlag(flags, "base-url", "orchestrator.base_url")
	bindFlag(flags, "poll-interval", "orchestrator.poll_interval")
	return cmd
}

// buildRequest resolves the report mode from the explicit flag or the prompt.
func buildRequest(opts reportOptions, prompt string) (protocol.StartRequest, error) {
	req := protocol.StartRequest{
		ProjectID:      strings.TrimSpace(opts.projectID),
		OrganizationID: strings.TrimSpace(opts.organizationID),
	}
	switch {
	case opts.mode != "":
		mode := protocol.Mode(opts.mode)
		if !mode.Valid() {
			return req, fmt.Errorf("unknown mode %q", opts.mode)
		}
		req.Mode = mode
		req.Visualize = mode == protocol.ModeRecommendWithChart
	case strings.TrimSpace(prompt) != "":
		intent := report.InferIntent(prompt)
		req.Mode = intent.Mode
		req.Visualize = intent.Visualize
	default:
		req.Mode = protocol.DefaultMode
		req.Visualize = true
	}
	return req, nil
}

func policyFrom(cfg config.OrchestratorConfig) orchestration.Policy {
	return orchestration.Policy{
		PollInterval:      cfg.PollInterval,
		CancelFallback:    cfg.CancelFallback,
		CleanupGrace:      cfg.CleanupGrace,
		CancelButtonDelay: cfg.CancelButtonDelay,
	}
}

func runReport(ctx context.Context, cfg *config.Config, opts reportOptions, prompt string, out io.Writer) error {
	req, err := buildRequest(opts, prompt)
	if err != nil {
		return err
	}

	logger := logging.NewComponentLogger("Report")
	client, err := gateway.NewClient(cfg.Orchestrator.BaseURL, cfg.Orchestrator.RequestTimeout, logging.NewComponentLogger("Gateway"))
	if err != nil {
		return err
	}
	policy := policyFrom(cfg.Orchestrator)
	presenter := newConsolePresenter(out, client.ResolveURL)
	machine := orchestration.NewMachine(orchestration.Deps{
		Gateway:   client,
		Watcher:   poller.New(client, policy.PollInterval, observability.DefaultMetrics(), logging.NewComponentLogger("Poller")),
		Confirmer: promptConfirmer{assumeYes: opts.assumeYes},
		Presenter: presenter,
		Policy:    policy,
		Logger:    logger,
	})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	fmt.Fprintf(out, "%s %s for %s\n", cyan("▶"), req.Mode, req.ProjectID)
	if err := machine.Start(ctx, req); err != nil {
		var precondition *apperrors.PreconditionError
		if errors.Is(err, orchestration.ErrBusy) || errors.As(err, &precondition) {
			return err
		}
		return reported(err)
	}
	fmt.Fprintln(out, gray("Press Ctrl+C to cancel."))

	for {
		select {
		case <-presenter.Done():
			return reported(presenter.Err())
		case <-ctx.Done():
			machine.Abandon()
			return ctx.Err()
		case <-signals:
			snap := machine.Snapshot()
			switch {
			case snap.Phase == orchestration.PhaseCleanup:
				machine.Abandon()
				fmt.Fprintln(out, gray("Leaving while cleanup finishes on the server."))
				return nil
			case snap.Cancelling:
				fmt.Fprintln(out, gray("Cancellation already requested."))
			case machine.CanCancel():
				go func() {
					if err := machine.Cancel(ctx); err != nil {
						logger.Warn("cancel failed: %v", err)
					}
				}()
			default:
				fmt.Fprintf(out, "%s\n", gray(fmt.Sprintf("Cancel becomes available %s after the report starts.", policy.CancelButtonDelay)))
			}
		}
	}
}

// promptConfirmer asks on the terminal. Without a terminal, nothing is confirmed.
type promptConfirmer struct {
	assumeYes bool
}

func (c promptConfirmer) Confirm(_ context.Context, prompt string) (bool, error) {
	if c.assumeYes {
		return true, nil
	}
	if !isTTY() {
		return false, nil
	}
	p := promptui.Prompt{Label: prompt, IsConfirm: true}
	if _, err := p.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
