package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/instantmed/triage/internal/config"
	"github.com/instantmed/triage/internal/platform/audit"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print evaluation records from the JSONL audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			intakeID, _ := cmd.Flags().GetString("intake")

			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				path = cfg.AuditJSONLPath
			}
			if path == "" {
				return fmt.Errorf("no audit log configured: set AUDIT_JSONL_PATH or --file")
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}

			sink, err := audit.NewJSONLSink(path)
			if err != nil {
				return err
			}
			defer sink.Close()

			var records []*audit.Record
			if intakeID != "" {
				records, err = sink.QueryByIntakeID(cmd.Context(), intakeID)
			} else {
				records, err = sink.ReadAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			printAuditRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Audit log (default: AUDIT_JSONL_PATH)")
	cmd.Flags().String("intake", "", "Only records of this intake id")
	return cmd
}

func printAuditRecords(w io.Writer, records []*audit.Record) {
	fmt.Fprintf(w, "%-20s %-36s %-4s %-16s %-21s %s\n", "RECORDED AT", "INTAKE", "PASS", "OUTCOME", "STATE", "RULES")
	for _, r := range records {
		fmt.Fprintf(w, "%-20s %-36s %-4d %-16s %-21s %s\n",
			r.RecordedAt.Format("2006-01-02 15:04:05"), r.IntakeID, r.Pass, r.Outcome,
			r.ResultingState, strings.Join(r.TriggeredRuleIDs, ","))
	}
	fmt.Fprintf(w, "%d record(s)\n", len(records))
}
