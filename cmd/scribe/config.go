package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/fileio"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
	Long: `Configuration precedence: command-line flag > SCRIBE_* environment
variable > .scribe/config.yaml > built-in default.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := config.AllSettings()
		if jsonOutput {
			return outputJSON(cmd, map[string]any{"key": key, "value": lookupSetting(value, key)})
		}
		fmt.Fprintln(cmd.OutOrStdout(), config.GetString(key))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value to .scribe/config.yaml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		path := config.ConfigFileUsed()
		if path == "" {
			scribeDir := config.FindScribeDir()
			if scribeDir == "" {
				return fmt.Errorf("no .scribe workspace found; run: scribe init")
			}
			path = filepath.Join(scribeDir, "config.yaml")
		}

		settings := map[string]any{}
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &settings); err != nil {
				return fmt.Errorf("cannot parse %s: %w", path, err)
			}
		}
		setNested(settings, strings.Split(key, "."), parseScalar(raw))

		out, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		if err := fileio.AtomicWrite(path, out); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, map[string]any{"ok": true, "key": key, "value": parseScalar(raw), "file": path})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", key, raw, path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the merged configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.AllSettings()
		if jsonOutput {
			return outputJSON(cmd, settings)
		}
		keys := flattenKeys(settings, "")
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v (%s)\n", key,
				lookupSetting(settings, key), config.GetValueSource(key))
		}
		return nil
	},
}

var configSourceCmd = &cobra.Command{
	Use:   "source <key>",
	Short: "Report where a configuration value comes from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		source := config.GetValueSource(key)
		if jsonOutput {
			return outputJSON(cmd, map[string]any{
				"key": key, "source": string(source), "file": config.ConfigFileUsed(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s", key, source)
		if source == config.SourceConfigFile {
			fmt.Fprintf(cmd.OutOrStdout(), " (%s)", config.ConfigFileUsed())
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

// parseScalar coerces a CLI value the way YAML would.
func parseScalar(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// setNested writes a dotted key into a nested map, creating levels as
// needed.
func setNested(m map[string]any, path []string, value any) {
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[path[0]] = child
	}
	setNested(child, path[1:], value)
}

func lookupSetting(m map[string]any, key string) any {
	parts := strings.Split(key, ".")
	var cur any = m
	for _, p := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[p]
	}
	return cur
}

func flattenKeys(m map[string]any, prefix string) []string {
	var keys []string
	for k, v := range m {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			keys = append(keys, flattenKeys(child, full)...)
			continue
		}
		keys = append(keys, full)
	}
	return keys
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd, configSourceCmd)
	rootCmd.AddCommand(configCmd)
}
