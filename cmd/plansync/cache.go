package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cohenjo/plansync/pkg/identity"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the identity cache",
}

var cacheShowCmd = &cobra.Command{
	Use:       "show [namespace]",
	Short:     "Print cached names and destination ids",
	Long:      `Print the properties and databases namespaces, or only the one named.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(identity.NamespaceProperties), string(identity.NamespaceCollections)},
	RunE: func(cmd *cobra.Command, args []string) error {
		namespaces := identity.Namespaces()
		if len(args) == 1 {
			ns := identity.Namespace(args[0])
			if !ns.Valid() {
				return fmt.Errorf("unknown namespace %q", args[0])
			}
			namespaces = []identity.Namespace{ns}
		}

		cfg, _, logger, closer, err := loadConfig()
		if err != nil {
			return err
		}
		defer closer.Close()

		cfg.Cache.Logger = logger
		backend, err := identity.NewBackend(cmd.Context(), &cfg.Cache)
		if err != nil {
			return err
		}
		cache, err := openCacheReadOnly(cmd.Context(), backend, logger)
		if err != nil {
			_ = backend.Close()
			return err
		}
		defer cache.Close()

		return printCache(os.Stdout, outputFormat, cache, namespaces)
	},
}

func init() {
	cacheCmd.AddCommand(cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openCacheReadOnly opens the cache without the reset policy so inspecting a
// damaged store never quarantines it.
func openCacheReadOnly(ctx context.Context, backend identity.Backend, logger *logrus.Logger) (*identity.Cache, error) {
	cache, err := identity.Open(ctx, backend, identity.Options{
		OnCorrupt: identity.CorruptionFail,
		Logger:    logger,
	})
	if err != nil {
		if errors.Is(err, identity.ErrStoreCorrupted) {
			return nil, fmt.Errorf("identity cache is corrupt and was left untouched: %w", err)
		}
		return nil, err
	}
	return cache, nil
}

func printCache(w io.Writer, format string, cache *identity.Cache, namespaces []identity.Namespace) error {
	if format == "json" {
		out := make(map[identity.Namespace]identity.Entries, len(namespaces))
		for _, ns := range namespaces {
			out[ns] = cache.Snapshot(ns)
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tNAME\tID")
	for _, ns := range namespaces {
		entries := cache.Snapshot(ns)
		for _, name := range cache.Names(ns) {
			id := "(archived)"
			if entries[name] != nil {
				id = *entries[name]
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", ns, name, id)
		}
	}
	return tw.Flush()
}
