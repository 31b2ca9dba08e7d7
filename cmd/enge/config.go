package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"enge/internal/config"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect the configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(config.Overrides{})
			if err != nil {
				return err
			}
			red := e.cfg.Redacted()
			if viper.GetBool("json") {
				return printJSON(red)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", e.path)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(red)
		},
	})
	return cfg
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
