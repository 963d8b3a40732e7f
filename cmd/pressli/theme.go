package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pressli/pressli"
	"github.com/pressli/pressli/scaffold"
)

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Work with themes",
}

var themeNewCmd = &cobra.Command{
	Use:   "new <Name>",
	Short: "Create a theme skeleton in the themes directory",
	Long: `Create a theme skeleton with a manifest, the standard views and a
stylesheet. The theme root is derived from the name and must be PascalCase:

  pressli theme new "Ocean Breeze"   # creates themes/OceanBreeze`,
	Args: cobra.ExactArgs(1),
	RunE: runThemeNew,
}

var themeAuthor string

func init() {
	themeNewCmd.Flags().StringVar(&themeAuthor, "author", "", "author written to theme.json")
	themeCmd.AddCommand(themeNewCmd)
}

func runThemeNew(cmd *cobra.Command, args []string) error {
	cfg, err := pressli.LoadConfig()
	if err != nil {
		return err
	}
	files, err := scaffold.Theme(cfg.ThemesDir(), scaffold.ThemeData{
		Name:   args[0],
		Author: themeAuthor,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	wd, _ := os.Getwd()
	for _, f := range files {
		if rel, err := filepath.Rel(wd, f); err == nil {
			f = rel
		}
		fmt.Fprintf(out, "  created %s\n", f)
	}
	fmt.Fprintf(out, "\nTheme %q is ready. Activate it under Appearance > Themes.\n", args[0])
	return nil
}
