package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bahdotsh/dbug/debugger"
)

// NewRootCommand builds the dbug command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}
	root := &cobra.Command{
		Use:   "dbug",
		Short: "Debug controller for programs instrumented with the dbug runtime",
		Long: `dbug launches an instrumented program, receives its debug events over shared
memory and answers its pauses, either continuing, following a script or
prompting interactively.`,
		SilenceUsage: true,
	}
	opts.BindFlags(root.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run <binary> [args...]",
		Short: "Run an instrumented program under the debugger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTarget(cmd, opts, args)
		},
	}
	runCmd.Flags().SetInterspersed(false)
	opts.BindRunFlags(runCmd.Flags())

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render the chart of a session report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderReport(cmd, opts)
		},
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the sessions recorded in the history directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(cmd, opts)
		},
	}

	eventsCmd := &cobra.Command{
		Use:   "events <session>",
		Short: "Print the events recorded for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printEvents(cmd, opts, args[0])
		},
	}

	tasksCmd := &cobra.Command{
		Use:   "tasks <session>",
		Short: "Print the async task tree recorded for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTasks(cmd, opts, args[0])
		},
	}

	root.AddCommand(runCmd, reportCmd, sessionsCmd, eventsCmd, tasksCmd)
	return root
}

func runTarget(cmd *cobra.Command, opts *Options, args []string) error {
	cfg, err := opts.BuildConfig(os.Getenv)
	if err != nil {
		return err
	}
	logger, err := debugger.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	policy, err := opts.policy(cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	var trace io.Writer
	if !opts.Quiet {
		trace = cmd.OutOrStdout()
	}
	var traceFile io.Writer
	if opts.TraceFile != "" {
		f, err := os.Create(opts.TraceFile)
		if err != nil {
			return fmt.Errorf("create trace file failed: %w", err)
		}
		defer func() { _ = f.Close() }()
		traceFile = f
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stderr := &debugger.LockedBuffer{}
	target, err := debugger.LaunchTarget(cfg, opts.ConfigPath, cmd.OutOrStdout(),
		debugger.TeeWriter(cmd.ErrOrStderr(), stderr), args[0], args[1:]...)
	if err != nil {
		return err
	}
	controller, err := debugger.NewController(cfg, target.Process.Pid, debugger.ControllerOptions{
		Policy:    policy,
		Output:    debugger.TeeWriter(trace, traceFile),
		Logger:    logger,
		SessionID: opts.SessionID,
		Stderr:    stderr,
	})
	if err != nil {
		_ = target.Process.Kill()
		_ = target.Wait()
		return err
	}
	defer func() { _ = controller.Close() }()
	logger.Info("debugging target", zap.String("binary", args[0]), zap.Int("pid", target.Process.Pid),
		zap.String("session", controller.SessionID()))

	runErr := controller.Run(ctx, target)
	report, err := controller.Report()
	if err != nil {
		return errors.Join(runErr, err)
	}
	if err := report.WriteToFile(opts.ReportJsonFile); err != nil {
		return errors.Join(runErr, err)
	}
	if opts.ReportChartsFile != "" {
		if err := debugger.WriteReportChart(opts.ReportChartsFile, report); err != nil {
			return errors.Join(runErr, err)
		}
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %d events, %d pauses, %d async tasks\n",
		report.SessionID, report.EventCount, report.PauseCount, report.TaskCount)
	return runErr
}

func (o *Options) policy(in io.Reader, out io.Writer) (debugger.ResponsePolicy, error) {
	if o.Interactive {
		return debugger.NewPromptPolicy(in, out), nil
	} else if o.Script != "" {
		return debugger.ParseScript(o.Script)
	}
	return debugger.ContinuePolicy{}, nil
}

func renderReport(cmd *cobra.Command, opts *Options) error {
	if opts.ReportChartsFile == "" {
		return errors.New("--charts output file required")
	}
	report, err := debugger.ReadReportFile(opts.ReportJsonFile)
	if err != nil {
		return err
	}
	if err := debugger.WriteReportChart(opts.ReportChartsFile, report); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Report file wrote: "+opts.ReportChartsFile)
	return nil
}

func listSessions(cmd *cobra.Command, opts *Options) error {
	if opts.HistoryDir == "" {
		return errors.New("--history-dir required")
	}
	sessions, err := debugger.ListSessions(opts.HistoryDir)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), s)
	}
	return nil
}

func loadRecords(opts *Options, session string) ([]debugger.HistoryRecord, error) {
	if opts.HistoryDir == "" {
		return nil, errors.New("--history-dir required")
	}
	history, err := debugger.OpenEventHistory(opts.HistoryDir, session)
	if err != nil {
		return nil, err
	}
	defer func() { _ = history.Close() }()
	return history.Records()
}

func printEvents(cmd *cobra.Command, opts *Options, session string) error {
	records, err := loadRecords(opts, session)
	if err != nil {
		return err
	}
	for _, rec := range records {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%6d %s %s\n", rec.Seq, rec.At.Format("15:04:05.000"), rec.Message)
	}
	return nil
}

func printTasks(cmd *cobra.Command, opts *Options, session string) error {
	records, err := loadRecords(opts, session)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), debugger.ReplayTasks(records).VisualizeTree())
	return nil
}
