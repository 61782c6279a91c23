package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/finbase/docingest/internal/api"
	"github.com/finbase/docingest/internal/models"
)

func newDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List and delete dashboard documents",
	}

	cmd.AddCommand(newDocumentsListCmd())
	cmd.AddCommand(newDocumentsDeleteCmd())
	cmd.AddCommand(newDocumentsDeleteTypeCmd())

	return cmd
}

func newDocumentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all documents in the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}

			docs, err := client.ListDocuments(GetContext())
			if err != nil {
				return fmt.Errorf("failed to list documents: %w", err)
			}
			if len(docs) == 0 {
				fmt.Println("No documents.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tNAME\tSIZE\tUPLOADED")
			for _, doc := range docs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					doc.ID, doc.DocumentType, doc.OriginalName, doc.FileSize, doc.UploadedAt)
			}
			return w.Flush()
		},
	}
}

func newDocumentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id]",
		Short: "Delete one document by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect()
			if err != nil {
				return err
			}

			if err := client.DeleteDocument(GetContext(), args[0]); err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}
			fmt.Printf("Deleted document %s\n", args[0])
			return nil
		},
	}
}

func newDocumentsDeleteTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-type [document-type]",
		Short: "Delete every document of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := models.CategoryByKey(args[0]); !ok {
				return fmt.Errorf("unknown document type %q", args[0])
			}

			client, err := connect()
			if err != nil {
				return err
			}

			count, err := client.DeleteDocumentsByCategory(GetContext(), args[0])
			if err != nil {
				return fmt.Errorf("failed to delete documents: %w", err)
			}
			fmt.Printf("Deleted %d document(s) of type %s\n", count, args[0])
			return nil
		},
	}
}

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List supported document types",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tLABEL\tEXTENSIONS")
			for _, c := range models.Categories {
				exts := ""
				for i, e := range c.Extensions {
					if i > 0 {
						exts += ", "
					}
					exts += e
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Key, c.Label, exts)
			}
			return w.Flush()
		},
	}
}

// connect builds an API client from config and flags, requiring valid
// connection settings.
func connect() (*api.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForConnection(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w (run 'docingest config set')", err)
	}
	return api.NewClient(cfg), nil
}
