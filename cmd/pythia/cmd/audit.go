package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tartarus-sandbox/pythia/pkg/hermes/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the HMAC chain of audit.file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Audit.File == "" {
			return errors.New("audit.file is not set")
		}

		f, err := os.Open(cfg.Audit.File)
		if err != nil {
			return err
		}
		defer f.Close()

		events, err := audit.ReadEvents(f)
		if err != nil {
			return err
		}
		if err := audit.NewChainManager([]byte(cfg.Audit.Secret)).VerifyChain(events); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Audit chain intact: %d events\n", len(events))
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
