package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/movedispatch/core/classify"
	"github.com/kilianp07/movedispatch/core/model"
)

var (
	catalogPath   string
	inventoryPath string
)

// inventory is the file read by the classify command.
type inventory struct {
	Selections  map[string]int        `json:"selections"`
	CustomItems []classify.CustomItem `json:"custom_items"`
	CurrentTier model.Tier            `json:"current_tier"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify an inventory file and print the result",
	RunE:  runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog TOML file (built-in catalog when empty)")
	classifyCmd.Flags().StringVar(&inventoryPath, "inventory", "", "inventory JSON file")
	_ = classifyCmd.MarkFlagRequired("inventory")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	rules, err := classify.Load(catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	data, err := os.ReadFile(inventoryPath)
	if err != nil {
		return err
	}
	var inv inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return fmt.Errorf("decode inventory: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rules.Classify(inv.Selections, inv.CustomItems, inv.CurrentTier))
}
