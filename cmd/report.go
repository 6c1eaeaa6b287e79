package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/audit/narrative"
	"github.com/sgic-platform/sgic-audit/repository"
	"github.com/spf13/cobra"
)

var (
	reportIDs         string
	reportSession     string
	reportFormat      string
	reportWorkstation string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the narrative report of entries or of a synthetic session",
	Example: `  sgic-audit report --ids 12,13,14
  sgic-audit report --session session_7_1770000000 --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (reportIDs == "") == (reportSession == "") {
			return errors.New("exactly one of --ids or --session is required")
		}
		e, err := open()
		if err != nil {
			return err
		}
		defer e.close()

		svc := audit.New(e.db, nil, e.cfg.Audit, e.logger)
		repository.New(e.db, nil, e.logger).RegisterLabels(svc.Resources())
		ws := narrative.Workstation{Name: reportWorkstation}
		ctx := cmd.Context()

		var (
			report string
			count  int
		)
		if reportSession != "" {
			merged, r, err := svc.SessionReport(ctx, reportSession, audit.Filter{}, ws)
			if err != nil {
				return fmt.Errorf("session %s: %w", reportSession, err)
			}
			report, count = r, len(merged)
		} else {
			ids, err := splitIDs(reportIDs)
			if err != nil {
				return err
			}
			if len(ids) == 1 {
				_, r, err := svc.EntryReport(ctx, ids[0], ws)
				if err != nil {
					return fmt.Errorf("entry %d: %w", ids[0], err)
				}
				report, count = r, 1
			} else {
				merged, r, err := svc.EntriesReport(ctx, ids, ws)
				if err != nil {
					return err
				}
				report, count = r, len(merged)
			}
		}

		out := cmd.OutOrStdout()
		if reportFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{"entries": count, "report": report})
		}
		_, err = fmt.Fprint(out, report)
		return err
	},
}

func splitIDs(v string) ([]int64, error) {
	var ids []int64
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no ids given")
	}
	return ids, nil
}

func init() {
	reportCmd.Flags().StringVar(&reportIDs, "ids", "", "comma-separated entry ids")
	reportCmd.Flags().StringVar(&reportSession, "session", "", "synthetic session id (session_<actor>_<unix>)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "text", "text or json")
	reportCmd.Flags().StringVar(&reportWorkstation, "workstation", "", "workstation name printed in the report")
	rootCmd.AddCommand(reportCmd)
}
