package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagetailor/internal/config"
	"github.com/jackzampolin/pagetailor/internal/svcctx"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := svcctx.HomeFrom(cmd.Context())
		if err := h.EnsureExists(); err != nil {
			return err
		}
		path := h.ConfigPath()
		if h.ConfigExists() && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		return printer.Print(map[string]string{"config": path})
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := svcctx.ConfigStoreFrom(cmd.Context()).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printer.Print(entry)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List config values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store := svcctx.ConfigStoreFrom(ctx)
		var (
			entries map[string]config.Entry
			err     error
		)
		if len(args) == 1 {
			entries, err = store.GetByPrefix(ctx, args[0])
		} else {
			entries, err = store.GetAll(ctx)
		}
		if err != nil {
			return err
		}
		list := make([]config.Entry, 0, len(entries))
		for _, k := range config.SortedKeys(entries) {
			list = append(list, entries[k])
		}
		return printer.Print(list)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := svcctx.ConfigStoreFrom(ctx).Set(ctx, args[0], parseValue(args[1])); err != nil {
			return err
		}
		entry, err := svcctx.ConfigStoreFrom(ctx).Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printer.Print(entry)
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Reset a config value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return svcctx.ConfigStoreFrom(ctx).Delete(ctx, args[0])
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := svcctx.ConfigFrom(cmd.Context()).ConfigFile()
		if path == "" {
			path = "(none, using defaults)"
		} else if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		_, err := fmt.Fprintln(os.Stdout, path)
		return err
	},
}

// parseValue interprets command-line values as bool or number when they
// look like one, so validation sees typed values.
func parseValue(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd, configGetCmd, configListCmd, configSetCmd, configResetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
