package cmd

import (
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"crucible/internal/loader"
)

var listTags []string

// listCmd prints the tests defined by a suite file without running them.
var listCmd = &cobra.Command{
	Use:   "list <suite.yaml>",
	Short: "List the tests defined in a suite file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loader.Load(args[0])
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{
			text.FgHiCyan.Sprint("ID"),
			text.FgHiCyan.Sprint("SEVERITY"),
			text.FgHiCyan.Sprint("TAGS"),
			text.FgHiCyan.Sprint("DEPENDS ON"),
			text.FgHiCyan.Sprint("SKIP"),
		})
		for _, spec := range loaded.Tests {
			if len(listTags) > 0 && !hasAnyTag(spec.Tags, listTags) {
				continue
			}
			skip := ""
			if spec.Skip {
				skip = text.FgYellow.Sprint("yes")
			}
			t.AppendRow(table.Row{
				spec.ID,
				spec.Severity,
				strings.Join(spec.Tags, ", "),
				strings.Join(spec.DependsOn, ", "),
				skip,
			})
		}
		t.Render()
		return nil
	},
}

func init() {
	listCmd.Flags().StringSliceVar(&listTags, "tags", nil, "Only list tests carrying any of these tags")
	rootCmd.AddCommand(listCmd)
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
