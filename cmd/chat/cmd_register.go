package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fullName string

var registerCmd = &cobra.Command{
	Use:   "register <username> <password>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&fullName, "name", "", "display name")
}

func runRegister(cmd *cobra.Command, args []string) error {
	_, client, _, err := setup()
	if err != nil {
		return err
	}
	u, err := client.Register(cmd.Context(), args[0], args[1], fullName)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ registered %s (%s)\n", u.Username, u.ID)
	return nil
}
