package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/cobra"

	"github.com/adalundhe/tideline/core/model"
)

var refsFormat string

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "List Git refs and how tideline classifies them",
	Long: `List the repository's Git refs along with the bookmark or tag symbol each
one maps to. Refs outside the importable namespaces are marked as skipped.`,
	Args: cobra.NoArgs,
	RunE: runRefs,
}

func init() {
	rootCmd.AddCommand(refsCmd)
	refsCmd.Flags().StringVarP(&refsFormat, "format", "f", "table", "Output format (table, json)")
}

type refListing struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
	Symbol string `json:"symbol,omitempty"`
}

func runRefs(cmd *cobra.Command, args []string) error {
	b, _, err := openBackend()
	if err != nil {
		return err
	}

	iter, err := b.Repository().References()
	if err != nil {
		return fmt.Errorf("enumerate refs: %w", err)
	}
	var listings []refListing
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		listing := refListing{Name: string(ref.Name())}
		if ref.Type() == plumbing.SymbolicReference {
			listing.Target = "-> " + string(ref.Target())
		} else {
			listing.Target = ref.Hash().String()
		}
		if kind, sym, ok := model.ParseGitRef(string(ref.Name())); ok {
			listing.Kind = kind.String()
			listing.Symbol = sym.String()
		} else {
			listing.Kind = "skipped"
		}
		listings = append(listings, listing)
		return nil
	})
	if err != nil {
		return err
	}

	switch refsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(listings)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REF\tTARGET\tKIND\tSYMBOL")
		for _, listing := range listings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", listing.Name, listing.Target, listing.Kind, listing.Symbol)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown output format: %q", refsFormat)
	}
}
