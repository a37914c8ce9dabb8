package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newImportCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import grants from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			result, err := a.svc.ImportCSV(cmd.Context(), a.companyID, f)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.ErrorRows > 0 {
				return fmt.Errorf("%d rows rejected", result.ErrorRows)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		leaveTypeID string
		out         string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export grants as CSV (importable into another company)",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openOutput(out, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := a.svc.ExportGrants(cmd.Context(), a.companyID, leaveTypeID, w); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}

	cmd.Flags().StringVar(&leaveTypeID, "type", "", "Leave type ID (default all)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file, - for stdout")
	return cmd
}
