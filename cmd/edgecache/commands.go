package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/edge-cache/pkg/engine"
)

var precacheCmd = &cobra.Command{
	Use:   "precache",
	Short: "Precache the static manifest and activate",
	Long: `Fetch every manifest resource into the current static store. The batch
is all-or-nothing. On success, stores of older versions are deleted.

With --force the stale stores are deleted even if precaching failed.`,
	RunE: runPrecache,
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Delete stores of superseded versions",
	Long: `List the stores under the configured cache name that match neither the
current static nor the current API store, and delete them.

Use --dry-run to only list them.`,
	RunE: runActivate,
}

var clearAPICmd = &cobra.Command{
	Use:   "clear-api",
	Short: "Delete the API store",
	RunE:  runClearAPI,
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List all stores in the configured storage",
	RunE:  runStores,
}

var (
	forceActivate bool
	dryRun        bool
)

func init() {
	precacheCmd.Flags().BoolVar(&forceActivate, "force", false, "activate even if precaching fails")
	activateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list superseded stores without deleting them")

	rootCmd.AddCommand(precacheCmd, activateCmd, clearAPICmd, storesCmd)
}

// withApp loads the config, builds the app and runs fn against it.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func runPrecache(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		err := a.engine.Install(ctx)
		if err != nil && forceActivate {
			if serr := a.engine.HandleMessage(ctx, engine.Message{Type: engine.MessageSkipWaiting}); serr != nil {
				return fmt.Errorf("%w (forced activation also failed: %v)", err, serr)
			}
			fmt.Fprintf(out, "Precache failed, activated anyway: %v\n", err)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Precached %d resources into %s\n", len(a.cfg.StaticResources), a.cfg.StaticCacheName())
		return nil
	})
}

func runActivate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		stale, err := a.engine.Superseded(ctx)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			fmt.Fprintln(out, "No superseded stores.")
			return nil
		}

		printList(out, "Superseded stores", stale)
		if dryRun {
			return nil
		}
		if err := a.engine.Activate(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d stores\n", len(stale))
		return nil
	})
}

func runClearAPI(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		if err := a.engine.HandleMessage(cmd.Context(), engine.Message{Type: engine.MessageClearAPICache}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", a.cfg.APICacheName())
		return nil
	})
}

func runStores(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		names, err := a.engine.StoreNames(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "No stores.")
			return nil
		}

		for _, name := range names {
			marker := ""
			switch name {
			case a.cfg.StaticCacheName():
				marker = "  (static, current)"
			case a.cfg.APICacheName():
				marker = "  (api, current)"
			default:
				if strings.HasPrefix(name, a.cfg.CacheName) {
					marker = "  (superseded)"
				}
			}
			fmt.Fprintf(out, "%s%s\n", name, marker)
		}
		return nil
	})
}

func printList(out io.Writer, title string, items []string) {
	fmt.Fprintf(out, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "  %s\n", item)
	}
}
