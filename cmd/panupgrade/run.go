package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/HerbHall/panupgrade/internal/upgrade"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/spf13/cobra"
)

var runOpts struct {
	authorID string
	deviceID string
	jobID    string
	profile  string
	target   string
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Upgrade one device in the foreground and print the outcome",
	Long: `Runs one upgrade workflow on the calling process. The outcome is printed
as completed, skipped or errored; errored exits non-zero.`,
	Args: cobra.NoArgs,
	RunE: runUpgrade,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.authorID, "author", "", "who requested the upgrade")
	f.StringVar(&runOpts.deviceID, "device", "", "inventory id of the device to upgrade")
	f.StringVar(&runOpts.jobID, "job-id", "", "existing job record to log to (default creates one)")
	f.StringVar(&runOpts.profile, "profile", "", "upgrade profile id")
	f.StringVar(&runOpts.target, "target", "", "target PAN-OS version, e.g. 10.2.4")
	f.BoolVar(&runOpts.dryRun, "dry-run", false, "walk every phase without changing the device")
	_ = runCmd.MarkFlagRequired("device")
	_ = runCmd.MarkFlagRequired("profile")
	_ = runCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(runCmd)
}

func runUpgrade(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// The workflow stops at its next phase boundary; a second signal kills
	// the process.
	go func() {
		<-ctx.Done()
		stop()
	}()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	jobID, status, err := a.upgrade.RunNow(ctx, runOpts.jobID, upgrade.JobRequest{
		AuthorID:      runOpts.authorID,
		DeviceID:      runOpts.deviceID,
		ProfileID:     runOpts.profile,
		TargetVersion: runOpts.target,
		DryRun:        runOpts.dryRun,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", jobID, status)
	if status == models.JobStatusErrored {
		return fmt.Errorf("upgrade of %s to %s errored; see the task log of job %s",
			runOpts.deviceID, runOpts.target, jobID)
	}
	return nil
}
