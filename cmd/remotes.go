package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adalundhe/tideline/core/model"
	"github.com/adalundhe/tideline/core/remotes"
	"github.com/adalundhe/tideline/core/transport"
)

var remotesCmd = &cobra.Command{
	Use:   "remotes",
	Short: "Manage the repository's Git remotes",
}

var remotesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured remotes",
	Args:  cobra.NoArgs,
	RunE:  runRemotesList,
}

var remotesAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add a remote with the default fetch refspec",
	Args:  cobra.ExactArgs(2),
	RunE:  runRemotesAdd,
}

var remotesRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a remote, its tracking refs, and its config entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemotesRemove,
}

var remotesRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a remote, moving its tracking refs",
	Args:  cobra.ExactArgs(2),
	RunE:  runRemotesRename,
}

var remotesSetURLCmd = &cobra.Command{
	Use:   "set-url <name> <url>",
	Short: "Point a remote at a new URL",
	Args:  cobra.ExactArgs(2),
	RunE:  runRemotesSetURL,
}

var remotesDefaultBranchCmd = &cobra.Command{
	Use:   "default-branch <name>",
	Short: "Show the remote's default branch",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemotesDefaultBranch,
}

func init() {
	rootCmd.AddCommand(remotesCmd)
	remotesCmd.AddCommand(remotesListCmd)
	remotesCmd.AddCommand(remotesAddCmd)
	remotesCmd.AddCommand(remotesRemoveCmd)
	remotesCmd.AddCommand(remotesRenameCmd)
	remotesCmd.AddCommand(remotesSetURLCmd)
	remotesCmd.AddCommand(remotesDefaultBranchCmd)
}

func openRegistry() (*remotes.Registry, error) {
	b, _, err := openBackend()
	if err != nil {
		return nil, err
	}
	return remotes.NewRegistry(b.Repository(), model.NewView()), nil
}

func runRemotesList(cmd *cobra.Command, args []string) error {
	b, _, err := openBackend()
	if err != nil {
		return err
	}
	cfg, err := b.Repository().Storer.Config()
	if err != nil {
		return fmt.Errorf("read git config: %w", err)
	}
	registry := remotes.NewRegistry(b.Repository(), model.NewView())
	names, err := registry.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL")
	for _, name := range names {
		url := ""
		if remote := cfg.Remotes[name]; remote != nil && len(remote.URLs) > 0 {
			url = remote.URLs[0]
		}
		fmt.Fprintf(w, "%s\t%s\n", name, url)
	}
	return w.Flush()
}

func runRemotesAdd(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return registry.Add(args[0], args[1])
}

func runRemotesRemove(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return registry.Remove(args[0])
}

func runRemotesRename(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return registry.Rename(args[0], args[1])
}

func runRemotesSetURL(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	return registry.SetURL(args[0], args[1])
}

func runRemotesDefaultBranch(cmd *cobra.Command, args []string) error {
	b, settings, err := openBackend()
	if err != nil {
		return err
	}
	runner := transport.NewSubprocessRunner(settings.Git.Executable, b.GitDir())
	fetcher := transport.NewFetcher(b.Repository(), runner)
	branch, err := fetcher.GetDefaultBranch(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if branch == "" {
		fmt.Println("(unknown)")
		return nil
	}
	fmt.Println(branch)
	return nil
}
