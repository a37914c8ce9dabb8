package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
)

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show and change leave policies",
	}
	cmd.AddCommand(newPolicyShowCmd(a))
	cmd.AddCommand(newPolicySetCmd(a))
	cmd.AddCommand(newPolicyPatchCmd(a))
	return cmd
}

func newPolicyShowCmd(a *app) *cobra.Command {
	var leaveTypeID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active policy (all policies without --type)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pf := factory.NewPolicyFactory()
			if leaveTypeID == "" {
				policies, err := a.svc.Policies(cmd.Context(), a.companyID)
				if err != nil {
					return err
				}
				out := make([]factory.PolicyJSON, len(policies))
				for i, p := range policies {
					out[i] = pf.ToJSON(p)
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}

			p, err := a.svc.Policy(cmd.Context(), a.companyID, leaveTypeID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), pf.ToJSON(p))
		},
	}

	cmd.Flags().StringVar(&leaveTypeID, "type", "", "Leave type ID")
	return cmd
}

// newPolicySetCmd replaces the policy with a complete JSON document, e.g. one
// printed by "policy show" and edited.
func newPolicySetCmd(a *app) *cobra.Command {
	var (
		leaveTypeID string
		file        string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a complete policy JSON as the new active version",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			pf := factory.NewPolicyFactory()
			p, err := pf.ParsePolicy(string(raw))
			if err != nil {
				return err
			}
			p.UpdatedAt = time.Now().UTC()

			stored, err := a.backend.UpsertPolicy(cmd.Context(), a.companyID, leaveTypeID, p)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), pf.ToJSON(stored))
		},
	}

	cmd.Flags().StringVar(&leaveTypeID, "type", "", "Leave type ID (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Policy JSON file (required)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newPolicyPatchCmd(a *app) *cobra.Command {
	var (
		leaveTypeID string
		file        string
	)

	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Apply a partial update (same body as PUT /policies/{type})",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			var patch leave.PolicyPatch
			dec := json.NewDecoder(f)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&patch); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			if patch.Empty() {
				return fmt.Errorf("%s: patch changes nothing", file)
			}

			p, err := a.svc.UpdatePolicy(cmd.Context(), a.companyID, leaveTypeID, patch)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), factory.NewPolicyFactory().ToJSON(p))
		},
	}

	cmd.Flags().StringVar(&leaveTypeID, "type", "", "Leave type ID (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Patch JSON file (required)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
