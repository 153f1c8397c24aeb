package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"klbot/pkg/marker"

	"github.com/spf13/cobra"
)

var compileCacheDir string

var compileCmd = &cobra.Command{
	Use:   "compile <marker text>",
	Short: "Compile marker text into a message chain",
	Long:  "Compiles marker text the way module replies are compiled and prints the resulting chain as JSON.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return compileMarker(cmd.OutOrStdout(), strings.Join(args, " "), compileCacheDir)
	},
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().StringVar(&compileCacheDir, "cache-dir", ".", "directory relative media paths resolve against")
}

func compileMarker(out io.Writer, text string, cacheDir string) error {
	chain, err := marker.Compile(text, cacheDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}

	_, err = fmt.Fprintln(out, string(data))
	return err
}
