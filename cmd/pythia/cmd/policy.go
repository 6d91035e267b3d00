package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage the risk policy",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check that a policy file compiles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := themis.LoadPolicyFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Policy is valid: GREEN < %g <= YELLOW < %g <= RED, %d rules\n",
			p.Thresholds.GreenYellow, p.Thresholds.YellowRed, len(p.Rules))
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored policy as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		b, err := openBackends(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		p, err := b.policies.GetPolicy(cmd.Context())
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(p)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var policyApplyCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Replace the stored policy with a policy file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := themis.LoadPolicyFile(args[0])
		if err != nil {
			return err
		}
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		b, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		current, err := b.policies.GetPolicy(ctx)
		if err != nil {
			return err
		}
		p.Version = current.Version
		if err := b.policies.UpsertPolicy(ctx, p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Policy applied, version %d\n", p.Version)
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyApplyCmd)
	rootCmd.AddCommand(policyCmd)
}
