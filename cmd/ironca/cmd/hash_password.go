package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/internal/util"
)

var kdfProfile string

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password for the users section of the configuration",
	Long: `Reads a password from standard input and prints its argon2id encoding,
suitable for the password_hash field of a configured user.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := util.Argon2idProfile(kdfProfile)
		if err != nil {
			return err
		}
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return errors.New("password must not be empty")
		}
		hash, err := util.HashPassword(password, params)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
	hashPasswordCmd.Flags().StringVar(&kdfProfile, "profile", util.KDFProfileModerate, "Argon2id cost profile (interactive, moderate, sensitive)")
}
