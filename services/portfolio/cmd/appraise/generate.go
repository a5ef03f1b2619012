package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"appraise/services/portfolio/internal/app"
)

var (
	genMode         string
	genType         string
	genCaps         []string
	genSafeguarding bool
	genFile         string
)

var generateCmd = &cobra.Command{
	Use:   "generate [text...]",
	Short: "Draft a portfolio entry from a clinical note",
	Long: `Draft a portfolio entry from free text given as arguments, on stdin ("-"),
or extracted from a .txt, .md, .html or .pdf file with --file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		text, err := inputText(ctx, a, args, genFile)
		if err != nil {
			return err
		}
		res, err := a.Generate(ctx, localUserID, app.GenerateRequest{
			Text:         text,
			Mode:         genMode,
			Type:         genType,
			Capabilities: genCaps,
			Safeguarding: genSafeguarding,
		})
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n\n%s\n\nTags: %s\n", res.Note.Title, res.Note.Content, strings.Join(res.Note.Tags, ", "))
		fmt.Fprintf(out, "Saved as %s (%d generations left today)\n", res.Note.ID, res.Remaining)
		if res.Failed {
			return errors.New("generation failed; the error text was saved as the note content")
		}
		return nil
	},
}

var (
	refineMode string
	refineType string
)

var refineCmd = &cobra.Command{
	Use:   "refine [text...]",
	Short: "Polish an existing draft without counting towards usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		text, err := inputText(ctx, a, args, "")
		if err != nil {
			return err
		}
		refined, err := a.Refine(ctx, localUserID, app.RefineRequest{Text: text, Mode: refineMode, Type: refineType})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), refined)
		return nil
	},
}

var feedbackNote string

var feedbackCmd = &cobra.Command{
	Use:   "feedback [text...]",
	Short: "Get supervisor-style feedback on a reflection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		var text string
		if feedbackNote != "" {
			note, err := a.GetNote(ctx, localUserID, feedbackNote)
			if err != nil {
				return err
			}
			text = note.Content
		} else if text, err = inputText(ctx, a, args, ""); err != nil {
			return err
		}
		feedback, err := a.SupervisorFeedback(ctx, localUserID, text)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), feedback)
		return nil
	},
}

// inputText reads the note text from a file, the arguments, or stdin.
func inputText(ctx context.Context, a *app.App, args []string, file string) (string, error) {
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return "", err
		}
		defer f.Close()
		src, err := a.ImportSource(ctx, localUserID, file, f)
		if err != nil {
			return "", err
		}
		return src.Text, nil
	}
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func init() {
	rootCmd.AddCommand(generateCmd, refineCmd, feedbackCmd)

	generateCmd.Flags().StringVarP(&genMode, "mode", "m", "", "GP or HOSPITAL (default: your saved mode)")
	generateCmd.Flags().StringVarP(&genType, "type", "t", "", `Entry type, e.g. "CBD (Case Based Discussion)" (default: auto-detect)`)
	generateCmd.Flags().StringSliceVarP(&genCaps, "capability", "c", nil, "Linked capability (repeatable, max 3)")
	generateCmd.Flags().BoolVar(&genSafeguarding, "safeguarding", false, "Tag the entry as safeguarding")
	generateCmd.Flags().StringVarP(&genFile, "file", "f", "", "Read the note from a document")

	refineCmd.Flags().StringVarP(&refineMode, "mode", "m", "", "GP or HOSPITAL")
	refineCmd.Flags().StringVarP(&refineType, "type", "t", "", "Entry type of the draft")

	feedbackCmd.Flags().StringVar(&feedbackNote, "note", "", "Review a saved note by id instead of text")
}
