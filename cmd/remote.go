package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/pkg/nimble"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Query the CRM directly",
}

// -- remote list --

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every contact in Nimble",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Directory.Provider != "nimble" {
			return eris.Errorf("remote list supports the nimble provider only, configured: %s", cfg.Directory.Provider)
		}
		if err := cfg.Validate("remote"); err != nil {
			return err
		}

		c, err := initNimble()
		if err != nil {
			return err
		}

		perPage, _ := cmd.Flags().GetInt("per-page")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		contacts, err := nimble.ListAllContacts(ctx, c, nimble.ListOptions{PerPage: perPage}, concurrency)
		if err != nil {
			return eris.Wrap(err, "remote list")
		}

		if done, err := writeStructured(os.Stdout, outputFormat, contacts); done {
			return err
		}
		if len(contacts) == 0 {
			fmt.Fprintln(os.Stderr, "No remote contacts found.")
			return nil
		}
		formatRemoteContacts(os.Stdout, contacts)
		return nil
	},
}

// -- remote get --

var remoteGetCmd = &cobra.Command{
	Use:   "get <remote-id>",
	Short: "Fetch a CRM contact by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("remote"); err != nil {
			return err
		}
		dir, err := initDirectory()
		if err != nil {
			return err
		}

		rc, err := dir.GetContact(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "remote get")
		}
		if rc == nil {
			return eris.Errorf("remote contact %s not found", args[0])
		}

		if done, err := writeStructured(os.Stdout, outputFormat, rc); done {
			return err
		}
		formatRemoteContacts(os.Stdout, []model.RemoteContact{*rc})
		return nil
	},
}

// -- remote find --

var remoteFindCmd = &cobra.Command{
	Use:   "find <email>",
	Short: "Find CRM contacts by email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("remote"); err != nil {
			return err
		}
		dir, err := initDirectory()
		if err != nil {
			return err
		}

		candidates, err := dir.FindByEmail(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "remote find")
		}

		if done, err := writeStructured(os.Stdout, outputFormat, candidates); done {
			return err
		}
		if len(candidates) == 0 {
			fmt.Fprintln(os.Stderr, "No remote contacts found.")
			return nil
		}
		formatRemoteContacts(os.Stdout, candidates)
		return nil
	},
}

func init() {
	remoteListCmd.Flags().Int("per-page", 100, "records per page")
	remoteListCmd.Flags().Int("concurrency", 4, "pages fetched in parallel")

	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteGetCmd)
	remoteCmd.AddCommand(remoteFindCmd)
	rootCmd.AddCommand(remoteCmd)
}
