package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/internal/store"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage local contacts",
}

// -- contacts add --

var contactsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a single contact",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("contacts"); err != nil {
			return err
		}

		var c model.Contact
		c.FirstName, _ = cmd.Flags().GetString("first-name")
		c.LastName, _ = cmd.Flags().GetString("last-name")
		c.Email, _ = cmd.Flags().GetString("email")
		c.Description, _ = cmd.Flags().GetString("description")
		c.RemoteID, _ = cmd.Flags().GetString("remote-id")
		if c.IndexText() == "" && c.RemoteID == "" {
			return eris.New("at least one contact field is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		allowDup, _ := cmd.Flags().GetBool("allow-duplicate")
		created, err := addContact(ctx, st, c, allowDup)
		if err != nil {
			return eris.Wrap(err, "contacts add")
		}

		if done, err := writeStructured(os.Stdout, outputFormat, created); done {
			return err
		}
		formatContacts(os.Stdout, []model.Contact{*created})
		return nil
	},
}

// -- contacts list --

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts ordered by id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("contacts"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		contacts, err := st.ListContacts(ctx, store.ContactFilter{Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "contacts list")
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

// -- contacts import --

var contactsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk import contacts from CSV",
	Long:  "Reads a CSV with first_name, last_name, email and description columns (remote_id optional) and bulk inserts every row. With --reconcile the imported contacts are then enriched from the CRM in one run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("contacts"); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("csv")
		ifEmpty, _ := cmd.Flags().GetBool("if-empty")
		enrich, _ := cmd.Flags().GetBool("reconcile")
		if enrich {
			if err := cfg.Validate("reconcile"); err != nil {
				return err
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if ifEmpty {
			existing, err := st.ListContacts(ctx, store.ContactFilter{Limit: 1})
			if err != nil {
				return eris.Wrap(err, "contacts import: check existing")
			}
			if len(existing) > 0 {
				zap.L().Info("contacts table already has records; skipping import", zap.String("csv", path))
				return nil
			}
		}

		f, err := os.Open(path)
		if err != nil {
			return eris.Wrap(err, fmt.Sprintf("open csv %s", path))
		}
		defer f.Close() //nolint:errcheck

		contacts, err := readContactsCSV(f)
		if err != nil {
			return err
		}

		n, err := st.ImportContacts(ctx, contacts)
		if err != nil {
			return eris.Wrap(err, "contacts import")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", n),
			zap.Int("rows", len(contacts)),
			zap.String("csv", path),
		)
		if !enrich {
			return nil
		}

		dir, err := initDirectory()
		if err != nil {
			return err
		}
		report, err := reconcileImported(ctx, n, initEngine(st, dir))
		if err != nil || report == nil {
			return err
		}
		if done, err := writeStructured(os.Stdout, outputFormat, report); done {
			return err
		}
		formatReport(os.Stdout, report)
		return nil
	},
}

// errDuplicateContact is returned by addContact when a contact with the same
// email (and remote id, when given) already exists.
var errDuplicateContact = eris.New("contact already exists")

type contactWriter interface {
	FindContact(ctx context.Context, email, remoteID string) (*model.Contact, error)
	CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error)
}

// addContact creates c unless a contact with its email is already stored.
func addContact(ctx context.Context, st contactWriter, c model.Contact, allowDuplicate bool) (*model.Contact, error) {
	if !allowDuplicate && c.Email != "" {
		existing, err := st.FindContact(ctx, c.Email, c.RemoteID)
		if err != nil {
			return nil, eris.Wrap(err, "check duplicate")
		}
		if existing != nil {
			return nil, eris.Wrapf(errDuplicateContact, "id %d", existing.ID)
		}
	}
	return st.CreateContact(ctx, c)
}

type reconcileRunner interface {
	Run(ctx context.Context) (*model.ReconcileReport, error)
}

// reconcileImported enriches freshly imported contacts through the CRM. A
// run is skipped when nothing was imported.
func reconcileImported(ctx context.Context, imported int64, r reconcileRunner) (*model.ReconcileReport, error) {
	if imported == 0 {
		zap.L().Info("nothing imported; skipping reconcile")
		return nil, nil
	}
	report, err := r.Run(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "contacts import: reconcile")
	}
	return report, nil
}

// csvColumns maps accepted CSV headers to contact fields.
var csvColumns = map[string]func(*model.Contact, string){
	"first_name":  func(c *model.Contact, v string) { c.FirstName = v },
	"last_name":   func(c *model.Contact, v string) { c.LastName = v },
	"email":       func(c *model.Contact, v string) { c.Email = v },
	"description": func(c *model.Contact, v string) { c.Description = v },
	"remote_id":   func(c *model.Contact, v string) { c.RemoteID = v },
}

// readContactsCSV parses contacts from a CSV with a header row. Headers are
// matched case-insensitively; unknown columns are ignored and rows with no
// values are skipped.
func readContactsCSV(r io.Reader) ([]model.Contact, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}

	setters := make([]func(*model.Contact, string), len(headers))
	known := 0
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if set, ok := csvColumns[key]; ok {
			setters[i] = set
			known++
		}
	}
	if known == 0 {
		return nil, eris.Errorf("csv has none of the expected columns (first_name, last_name, email, description, remote_id): %v", headers)
	}

	var out []model.Contact
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read csv line %d", line)
		}
		var c model.Contact
		for i, v := range row {
			if i < len(setters) && setters[i] != nil {
				setters[i](&c, strings.TrimSpace(v))
			}
		}
		if c.IndexText() == "" && c.RemoteID == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func init() {
	contactsAddCmd.Flags().String("first-name", "", "first name")
	contactsAddCmd.Flags().String("last-name", "", "last name")
	contactsAddCmd.Flags().String("email", "", "email address")
	contactsAddCmd.Flags().String("description", "", "free-text description")
	contactsAddCmd.Flags().String("remote-id", "", "CRM record id")
	contactsAddCmd.Flags().Bool("allow-duplicate", false, "add even when a contact with this email exists")

	contactsListCmd.Flags().Int("limit", 50, "max contacts to display (0 for all)")
	contactsListCmd.Flags().Int("offset", 0, "contacts to skip")

	contactsImportCmd.Flags().String("csv", "", "path to CSV file (required)")
	contactsImportCmd.Flags().Bool("if-empty", false, "only import when the contacts table has no records")
	contactsImportCmd.Flags().Bool("reconcile", false, "enrich the imported contacts from the CRM after importing")
	_ = contactsImportCmd.MarkFlagRequired("csv")

	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsImportCmd)
	rootCmd.AddCommand(contactsCmd)
}
