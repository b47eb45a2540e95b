package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/export"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/store"
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Inspect and archive field notes",
}

// -- notes list --

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List field notes, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openVerifiedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		projectID, _ := cmd.Flags().GetString("project")
		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")

		notes, err := st.ListNotes(ctx, store.NoteFilter{ProjectID: projectID, IncludeArchived: all})
		if err != nil {
			return eris.Wrap(err, "notes list")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(notes)
		}
		if len(notes) == 0 {
			fmt.Fprintln(os.Stderr, "No notes found.")
			return nil
		}
		formatNotesList(os.Stdout, notes)
		return nil
	},
}

// -- notes archive --

var notesArchiveCmd = &cobra.Command{
	Use:   "archive <note-id>",
	Short: "Archive a field note",
	Long:  "Marks a note archived. Archived notes are kept but no longer shown or matched as duplicates.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openVerifiedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := store.ArchiveNote(ctx, st, args[0]); err != nil {
			return eris.Wrap(err, "notes archive")
		}
		zap.L().Info("note archived", zap.String("note_id", args[0]))
		return nil
	},
}

// -- notes export --

var notesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export field notes as GeoJSON, XLSX or a shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		ctx := cmd.Context()

		formatName, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		projectID, _ := cmd.Flags().GetString("project")
		all, _ := cmd.Flags().GetBool("all")

		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}
		if out == "" && !format.Streams() {
			return eris.New("notes export: --out is required for shapefiles")
		}

		st, err := openVerifiedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		notes, err := st.ListNotes(ctx, store.NoteFilter{ProjectID: projectID, IncludeArchived: all})
		if err != nil {
			return eris.Wrap(err, "notes export")
		}

		if err := exportNotes(ctx, format, out, notes); err != nil {
			return err
		}
		zap.L().Info("notes exported",
			zap.String("format", string(format)),
			zap.String("out", out),
			zap.Int("notes", len(notes)),
		)
		return nil
	},
}

// exportNotes writes notes to out, or to stdout when out is empty.
func exportNotes(ctx context.Context, format export.Format, out string, notes []model.FieldNote) error {
	if format == export.FormatShapefile {
		return export.WriteShapefile(out, notes)
	}
	if out == "" {
		return export.Write(ctx, os.Stdout, format, notes)
	}

	f, err := os.Create(out)
	if err != nil {
		return eris.Wrapf(err, "notes export: create %s", out)
	}
	if err := export.Write(ctx, f, format, notes); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrap(f.Close(), "notes export: close")
}

func formatNotesList(w io.Writer, notes []model.FieldNote) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROJECT\tLOCATION\tASSET\tSTATE\tBY\tCREATED\tNOTES")
	for _, n := range notes {
		asset := "-"
		if n.AssetType != nil {
			asset = string(*n.AssetType)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(n.ID),
			n.ProjectName,
			n.Coordinate(),
			asset,
			n.State,
			n.CreatedByName,
			n.CreatedAt.Format("2006-01-02 15:04"),
			truncate(strings.ReplaceAll(n.Notes, "\n", " "), 40),
		)
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	notesListCmd.Flags().String("project", "", "filter by project id")
	notesListCmd.Flags().Bool("all", false, "include archived notes")
	notesListCmd.Flags().Bool("json", false, "print JSON instead of a table")
	notesCmd.AddCommand(notesListCmd)
	notesExportCmd.Flags().String("format", "geojson", "geojson, xlsx or shp")
	notesExportCmd.Flags().String("out", "", "output path (stdout when empty; required for shp)")
	notesExportCmd.Flags().String("project", "", "filter by project id")
	notesExportCmd.Flags().Bool("all", false, "include archived notes")
	notesCmd.AddCommand(notesArchiveCmd)
	notesCmd.AddCommand(notesExportCmd)
	rootCmd.AddCommand(notesCmd)
}
