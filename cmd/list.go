package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/shardrun/internal/build"
	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/config"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/filter"
	"github.com/signalnine/shardrun/internal/logging"
	"github.com/signalnine/shardrun/internal/testcase"
)

func newListCmd() *cobra.Command {
	var listFilter string
	cmd := &cobra.Command{
		Use:   "list [TEST_DIR]",
		Short: "Show devices, device groups and the configs each group would run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFlag(cmd)
			if err != nil {
				return err
			}
			testDir := defaultTestDir
			if len(args) > 0 {
				testDir = args[0]
			}
			logger, err := logging.New(os.Stderr, verbosity, "")
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			req, err := cfg.DeviceRequest()
			if err != nil {
				return err
			}
			sources := []device.Source{&device.ADBSource{Path: cfg.ADB.Path, Logger: logger.Logger}}
			if specs := cfg.ContainerSpecs(); len(specs) > 0 {
				sources = append(sources, &device.ContainerSource{Specs: specs})
			}
			fleet, err := device.FindDevices(ctx, logger.Logger, req, sources...)
			if err != nil {
				return err
			}

			f, err := filter.Parse(listFilter)
			if err != nil {
				return err
			}
			tests, err := testcase.Enumerate(&testcase.EnumerateOpts{
				DistDir: build.DistDir(testDir),
				Filter:  f,
				ABIs:    cfg.ABIs,
				Logger:  logger.Logger,
			})
			if errors.Is(err, fs.ErrNotExist) {
				tests = nil
			} else if err != nil {
				return err
			}
			return printList(cmd.OutOrStdout(), fleet, tests, cfg)
		},
	}
	cmd.Flags().StringVar(&listFilter, "filter", "", "comma-separated test name globs")
	return cmd
}

func printList(w io.Writer, fleet *device.Fleet, tests map[buildcfg.Config][]testcase.Case, cfg *config.Config) error {
	fmt.Fprintln(w, "Devices:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, d := range fleet.Devices() {
		fmt.Fprintf(tw, "  %s\t%s\tandroid-%d\t%s\n", d.Serial, d.Name, d.Version, strings.Join(d.ABIs, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nDevice groups:")
	for _, g := range fleet.Groups() {
		fmt.Fprintf(w, "  %s\n", g)
	}
	if missing := fleet.Missing(); len(missing) > 0 {
		fmt.Fprintf(w, "\nMissing device configurations: %s\n", strings.Join(missing, ", "))
	}

	if len(tests) == 0 {
		fmt.Fprintln(w, "\nNo tests found.")
		return nil
	}
	fmt.Fprintln(w, "\nConfigs:")
	matched := device.MatchConfigs(fleet.Groups(), testcase.SortedConfigs(tests))
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  CONFIG\tTESTS\tGROUPS")
	for _, c := range testcase.SortedConfigs(tests) {
		var groups []string
		for _, g := range matched[c] {
			groups = append(groups, g.String())
		}
		where := strings.Join(groups, "; ")
		if where == "" {
			where = "no device"
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", c, len(tests[c]), where)
	}
	fmt.Fprintf(tw, "\n  workers per device: %d\n", cfg.WorkersPerDevice)
	return tw.Flush()
}

