package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/qafactory/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage prompt templates",
}

var promptsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Copy the built-in prompt templates to the prompt directory for editing",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = prompt.DefaultDir()
		}
		written, err := prompt.Install(dir)
		if err != nil {
			return err
		}
		if len(written) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "All templates already present in %s\n", dir)
			return nil
		}
		for _, name := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s\n", name)
		}
		return nil
	},
}

var promptsShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "List templates, or print the effective text of one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = prompt.DefaultDir()
		}
		if len(args) == 0 {
			for _, name := range prompt.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}
		text, err := prompt.NewLoader(dir).Load(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	promptsCmd.PersistentFlags().String("dir", "", "prompt directory (default ~/.qafactory/prompts)")
	promptsCmd.AddCommand(promptsInstallCmd)
	promptsCmd.AddCommand(promptsShowCmd)
}
