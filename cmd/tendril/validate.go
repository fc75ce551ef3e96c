package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/tendril/internal/compiler"
	"github.com/aretw0/tendril/internal/validator"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file|dir]",
	Short: "Check flow definitions for consistency",
	Long: `Compiles every flow file and reports dead links, bad expressions,
broken menus and unreachable nodes. Exits non-zero on errors.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		return runValidate(cmd.OutOrStdout(), target)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(w io.Writer, target string) error {
	files, err := flowFiles(target)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no flow files found in %s", target)
	}

	parser := compiler.NewParser()
	failed := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		flow, err := parser.Parse(data)
		if err != nil {
			failed++
			fmt.Fprintf(w, "✗ %s: %v\n", path, err)
			continue
		}

		report := validator.Check(flow)
		for _, issue := range report.Warnings {
			fmt.Fprintf(w, "! %s: %s\n", path, issue)
		}
		if !report.OK() {
			failed++
			for _, issue := range report.Errors {
				fmt.Fprintf(w, "✗ %s: %s\n", path, issue)
			}
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", path)
	}

	if failed > 0 {
		return fmt.Errorf("validation failed: %d of %d flows have errors", failed, len(files))
	}
	fmt.Fprintln(w, "All flows are valid! ✅")
	return nil
}

func flowFiles(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{target}, nil
	}

	var files []string
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != target && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
