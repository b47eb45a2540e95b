package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fieldnotes/internal/model"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Inspect projects",
}

// -- projects list --

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, newest first",
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

		projects, err := st.ListProjects(ctx)
		if err != nil {
			return eris.Wrap(err, "projects list")
		}
		if len(projects) == 0 {
			fmt.Fprintln(os.Stderr, "No projects found.")
			return nil
		}

		formatProjectsList(os.Stdout, projects)
		return nil
	},
}

// -- projects add --

type projectCreator interface {
	CreateProject(ctx context.Context, p model.Project) (*model.Project, error)
}

var projectsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a project to a local SQLite database",
	Long:  "Projects are managed elsewhere; this seeds a local SQLite database for development.",
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

		creator, ok := st.(projectCreator)
		if !ok {
			return eris.Errorf("projects add: not supported by the %s store", cfg.Store.Driver)
		}
		p, err := creator.CreateProject(ctx, model.Project{Name: args[0]})
		if err != nil {
			return eris.Wrap(err, "projects add")
		}
		fmt.Fprintln(os.Stdout, p.ID)
		return nil
	},
}

func formatProjectsList(w io.Writer, projects []model.Project) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCREATED")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsAddCmd)
	rootCmd.AddCommand(projectsCmd)
}
