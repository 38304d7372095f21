package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Full-text search over local contacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("search"); err != nil {
			return err
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			cfg.Search.Limit = limit
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		contacts, err := initSearch(st).Search(ctx, strings.Join(args, " "))
		if err != nil {
			return eris.Wrap(err, "search")
		}

		if done, err := writeStructured(os.Stdout, outputFormat, contacts); done {
			return err
		}
		if len(contacts) == 0 {
			fmt.Fprintln(os.Stderr, "No contacts found.")
			return nil
		}
		formatContacts(os.Stdout, contacts)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 0, "max results (default from config)")
	rootCmd.AddCommand(searchCmd)
}
