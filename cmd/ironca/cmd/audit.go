package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/audit"
	"github.com/jmcleod/ironca/manager"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail export and verification tools",
	Long:  `Commands for exporting and verifying the hash-chained audit trail of a CA.`,
}

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export [ca]",
	Short: "Export the audit chain of a CA as JSON",
	Long: `Reads the audit records of one CA from the configured store and writes
them as a JSON document that "ironca audit verify" can check offline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo, closer, err := manager.OpenRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		export, err := audit.NewStoreSink(repo).Export(strings.ToLower(args[0]))
		if err != nil {
			return fmt.Errorf("exporting audit chain: %w", err)
		}

		out := cmd.OutOrStdout()
		if exportOutput != "" && exportOutput != "-" {
			f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return writeExport(out, export)
	},
}

func writeExport(w io.Writer, export *audit.Export) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
}
