package main

import (
	"github.com/spf13/cobra"
	"github.com/warp/leave-engine/generic"
)

func newBalancesCmd(a *app) *cobra.Command {
	var (
		userID      string
		leaveTypeID string
		asOf        string
	)

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Per-grant balances with FIFO allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDateFlag("as-of", asOf, generic.Date{})
			if err != nil {
				return err
			}
			report, err := a.svc.GetBalances(cmd.Context(), a.companyID, userID, leaveTypeID, date)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Employee ID (default all)")
	cmd.Flags().StringVar(&leaveTypeID, "type", "", "Leave type ID (default all)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Report date, YYYY-MM-DD (default today)")
	return cmd
}
