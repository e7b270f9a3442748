package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/audit"
)

// Exit statuses of "audit verify".
const (
	exitInvalid = 1
	exitError   = 2
)

var errChainInvalid = errors.New("audit chain is invalid")

func printHumanResult(w io.Writer, result audit.VerifyResult) {
	fmt.Fprintf(w, "Audit chain verification: %s\n", result.File)
	fmt.Fprintf(w, "CA:       %s\n", result.CA)
	fmt.Fprintf(w, "Entries:  %d\n\n", result.EntryCount)

	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case audit.CheckFail:
			tag = "[FAIL]"
		case audit.CheckWarn:
			tag = "[WARN]"
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
		return
	}
	failures, warnings := 0, 0
	for _, c := range result.Checks {
		switch c.Status {
		case audit.CheckFail:
			failures++
		case audit.CheckWarn:
			warnings++
		}
	}
	fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
}

func printJSONResult(w io.Writer, result audit.VerifyResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// verifyFile checks the export at path and prints the result. It returns
// errChainInvalid when a check failed.
func verifyFile(w io.Writer, path string, asJSON bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read file: %w", err)
	}
	var export audit.Export
	if err := json.Unmarshal(data, &export); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	result := audit.VerifyChain(export)
	result.File = path

	if asJSON {
		if err := printJSONResult(w, result); err != nil {
			return err
		}
	} else {
		printHumanResult(w, result)
	}
	if !result.Valid {
		return errChainInvalid
	}
	return nil
}

var verifyJSONOutput bool

var verifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify the integrity of an exported audit chain",
	Long: `Reads an audit chain exported with "ironca audit export" and verifies the
genesis anchor, hash chain continuity, sequence numbers and timestamp order.

Exits with status 1 when the chain is invalid and 2 when the file cannot be read.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	auditCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	err := verifyFile(cmd.OutOrStdout(), args[0], verifyJSONOutput)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errChainInvalid):
		os.Exit(exitInvalid)
	default:
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		os.Exit(exitError)
	}
	return nil
}
