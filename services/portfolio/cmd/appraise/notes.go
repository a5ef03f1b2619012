package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"appraise/pkg/domain"
	"appraise/services/portfolio/internal/app"
)

var (
	notesQuery   string
	notesMode    string
	notesFolders bool
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "List saved entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if notesFolders {
			folders, err := a.FolderView(ctx, localUserID, notesQuery)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(out, folders)
			}
			for _, f := range folders {
				fmt.Fprintf(out, "%s (%d)\n", f.Label, len(f.Notes))
				for _, n := range f.Notes {
					fmt.Fprintf(out, "  %s  %s\n", n.ID, n.Title)
				}
			}
			return nil
		}
		view, err := a.ListNotes(ctx, localUserID, notesQuery, notesMode)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(out, view.Notes)
		}
		for _, n := range view.Notes {
			fmt.Fprintf(out, "%s  %s\n", n.ID, n.Title)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		note, err := a.GetNote(ctx, localUserID, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), note)
		}
		printNote(cmd.OutOrStdout(), note)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		return a.DeleteNote(ctx, localUserID, args[0])
	},
}

var tagRemove bool

var tagCmd = &cobra.Command{
	Use:   "tag <id> <tag>",
	Short: "Add (or with --remove, drop) a tag on an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		var note domain.Note
		if tagRemove {
			note, err = a.RemoveTag(ctx, localUserID, args[0], args[1])
		} else {
			note, err = a.AddTag(ctx, localUserID, args[0], args[1])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tags: %s\n", strings.Join(note.Tags, ", "))
		return nil
	},
}

var capsMode string

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show evidence coverage per curriculum capability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		view, err := a.Capabilities(ctx, localUserID, capsMode)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			return printJSON(out, view)
		}
		for _, row := range view.Rows {
			fmt.Fprintf(out, "%3d%%  %-55s %d\n", row.Progress, row.Capability, row.Count)
			for _, title := range row.Evidence {
				fmt.Fprintf(out, "        %s\n", title)
			}
			if row.More > 0 {
				fmt.Fprintf(out, "        +%d more\n", row.More)
			}
		}
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's generation count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		u, err := a.Usage(ctx, localUserID)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), u)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d used, %d left\n", u.Plan, u.Count, u.Limit, u.Remaining)
		return nil
	},
}

var (
	settingsMode string
	settingsKey  string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Set your default mode or personal API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		var s app.Settings
		if cmd.Flags().Changed("mode") {
			s.DefaultMode = &settingsMode
		}
		if cmd.Flags().Changed("api-key") {
			s.CustomAPIKey = &settingsKey
		}
		user, err := a.UpdateSettings(ctx, localUserID, s)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default mode: %s\nPersonal API key: %t\n", user.EffectiveMode(), user.HasCustomAPIKey())
		return nil
	},
}

func printNote(w io.Writer, n domain.Note) {
	fmt.Fprintf(w, "%s\n%s\n\n%s\n\nTags: %s\n", n.Title, n.DateCreated.Local().Format("02 Jan 2006 15:04"), n.Content, strings.Join(n.Tags, ", "))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(notesCmd, showCmd, deleteCmd, tagCmd, capabilitiesCmd, usageCmd, settingsCmd)

	notesCmd.Flags().StringVarP(&notesQuery, "query", "q", "", "Search title and raw input")
	notesCmd.Flags().StringVarP(&notesMode, "mode", "m", "", "Only GP or HOSPITAL entries")
	notesCmd.Flags().BoolVar(&notesFolders, "folders", false, "Group entries into folders by type")

	tagCmd.Flags().BoolVar(&tagRemove, "remove", false, "Remove the tag instead of adding it")

	capabilitiesCmd.Flags().StringVarP(&capsMode, "mode", "m", "", "GP or HOSPITAL (default: your saved mode)")

	settingsCmd.Flags().StringVar(&settingsMode, "mode", "", "Default mode: GP or HOSPITAL")
	settingsCmd.Flags().StringVar(&settingsKey, "api-key", "", "Personal provider key; empty clears it")
}
