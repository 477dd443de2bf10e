// reconctl is the operator CLI for the recon engine: one-shot scans,
// report queries, target management, and tool diagnostics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/engine"
	"github.com/osiriscare/recon/internal/report"
	"github.com/osiriscare/recon/internal/storage"
)

var (
	flagConfigPath string
	flagFormat     string
	flagBehavior   string
	flagNoStore    bool
	flagHost       string
	flagLimit      int
	flagAll        bool
	flagSchedule   string
)

func main() {
	log.SetFlags(0)

	root := &cobra.Command{
		Use:           "reconctl",
		Short:         "Reconnaissance engine control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "/etc/recon/config.yaml", "config file path")

	root.AddCommand(scanCmd(), reportCmd(), targetsCmd(), toolsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist. An explicit missing path is still an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
			def := config.Default()
			return &def, nil
		}
		return nil, err
	}
	return cfg, nil
}

func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			log.Printf("cleanup: %v", cerr)
		}
	}()

	return fn(ctx, eng)
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <target> [target...]",
		Short: "Run the full pipeline against one or more targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				opts := engine.ScanOptions{
					Behavior:    flagBehavior,
					SkipStorage: flagNoStore,
				}

				if len(args) == 1 {
					rep, err := eng.Scan(ctx, args[0], opts)
					if err != nil {
						return err
					}
					return renderReport(eng, rep)
				}

				results := eng.BatchScan(ctx, args, opts)
				return printJSON(results)
			})
		},
	}
	cmd.Flags().StringVar(&flagBehavior, "behavior", "", "preset: passive, stealth, or aggressive")
	cmd.Flags().StringVar(&flagFormat, "format", "json", "output format: json, markdown, or html")
	cmd.Flags().BoolVar(&flagNoStore, "no-store", false, "skip report persistence")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Query persisted reports",
	}

	show := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Print one report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				rep, err := eng.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return renderReport(eng, rep)
			})
		},
	}
	show.Flags().StringVar(&flagFormat, "format", "json", "output format: json, markdown, or html")

	list := &cobra.Command{
		Use:   "list",
		Short: "List report history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				rows, err := listReports(ctx, eng)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "REPORT ID\tHOST\tTIMESTAMP\tSTATUS\tDURATION")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\n", r.ReportID, r.Host, r.Timestamp, r.Status, r.DurationMs)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&flagHost, "host", "", "limit to one host")
	list.Flags().IntVar(&flagLimit, "limit", 20, "max rows")

	compare := &cobra.Command{
		Use:   "compare <report-id> <report-id>",
		Short: "Diff two reports' fingerprints",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				diff, err := eng.CompareReports(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(diff)
			})
		},
	}

	cmd.AddCommand(show, list, compare)
	return cmd
}

func targetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage the scheduled target list",
	}

	add := &cobra.Command{
		Use:   "add <target>",
		Short: "Register a target for scheduled scans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				tgt, err := eng.AddTarget(args[0], flagSchedule)
				if err != nil {
					return err
				}
				fmt.Printf("Added %s\n", tgt.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&flagSchedule, "schedule", "", "per-target cron override")

	remove := &cobra.Command{
		Use:   "remove <host>",
		Short: "Drop a target from the schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				if !eng.RemoveTarget(args[0]) {
					return fmt.Errorf("target %s not found", args[0])
				}
				fmt.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List monitored targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "HOST\tENABLED\tSCHEDULE\tLAST SCAN\tLAST STATUS")
				for _, t := range eng.ListTargets(flagAll) {
					sched := t.Schedule
					if sched == "" {
						sched = "(default)"
					}
					last := t.LastScanAt
					if last == "" {
						last = "-"
					}
					status := t.LastStatus
					if status == "" {
						status = "-"
					}
					fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", t.ID, t.Enabled, sched, last, status)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().BoolVar(&flagAll, "all", false, "include disabled targets")

	cmd.AddCommand(add, remove, list)
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Show external tool availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				status := eng.ToolStatus()
				names := make([]string, 0, len(status))
				for name := range status {
					names = append(names, name)
				}
				sort.Strings(names)

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TOOL\tAVAILABLE\tDESCRIPTION")
				for _, name := range names {
					info := status[name]
					avail := "no"
					if info.Available {
						avail = "yes"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", name, avail, info.Description)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				for _, name := range names {
					if info := status[name]; !info.Available {
						fmt.Printf("\nInstall %s: %s\n", name, info.Install)
					}
				}
				return nil
			})
		},
	}
}

func listReports(ctx context.Context, eng *engine.Engine) ([]*storage.ReportRow, error) {
	if flagHost != "" {
		return eng.GetReportsByHost(ctx, flagHost, flagLimit)
	}
	return eng.ListReports(ctx, flagLimit)
}

func renderReport(eng *engine.Engine, rep *report.Report) error {
	switch flagFormat {
	case "json":
		data, err := eng.GenerateJSONReport(rep)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	case "markdown", "md":
		fmt.Print(eng.GenerateMarkdownReport(rep))
		return nil
	case "html":
		page, err := eng.GenerateHTMLReport(rep)
		if err != nil {
			return err
		}
		fmt.Print(page)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want json, markdown, or html)", flagFormat)
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
