package main

import (
	"github.com/spf13/cobra"
	"github.com/warp/leave-engine/leave"
)

type previewOutput struct {
	Command   string              `json:"command"`
	GrantDate string              `json:"grant_date"`
	Totals    leave.PreviewTotals `json:"totals"`
	Rows      []leave.PreviewRow  `json:"rows,omitempty"`
}

func newPreviewCmd(a *app) *cobra.Command {
	var (
		leaveTypeID string
		grantDate   string
		totalsOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what a grant run would grant, without writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDateFlag("date", grantDate, a.svc.Today())
			if err != nil {
				return err
			}
			rows, err := a.svc.PreviewGrant(cmd.Context(), a.companyID, leaveTypeID, date)
			if err != nil {
				return err
			}

			out := previewOutput{Command: "preview", GrantDate: date.String(), Totals: leave.Totals(rows)}
			if !totalsOnly {
				out.Rows = rows
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&leaveTypeID, "type", "", "Leave type ID (required)")
	cmd.Flags().StringVar(&grantDate, "date", "", "Grant date, YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&totalsOnly, "totals", false, "Print totals only")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var (
		leaveTypeID string
		grantDate   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute and commit grants; safe to repeat",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDateFlag("date", grantDate, a.svc.Today())
			if err != nil {
				return err
			}
			result, err := a.svc.RunGrant(cmd.Context(), a.companyID, leaveTypeID, date)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"command":    "run",
				"grant_date": date.String(),
				"result":     result,
			})
		},
	}

	cmd.Flags().StringVar(&leaveTypeID, "type", "", "Leave type ID (required)")
	cmd.Flags().StringVar(&grantDate, "date", "", "Grant date, YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
