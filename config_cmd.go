package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-desktop/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the listenup config file",
	Long:    paragraph(fmt.Sprintf("\n%s the listenup config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("listenup config\nlistenup config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	// Skip config loading so a broken file can still be fixed.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		if configFile == "" {
			return fmt.Errorf("no config file location found")
		}
		if err := config.EnsureFile(configFile); err != nil {
			return err
		}

		c, err := editor.Cmd("ListenUp", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}
