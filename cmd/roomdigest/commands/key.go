package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/selwynd/roomdigest/pkg/roomdigest/config"
)

// newKeyCmd creates the `roomdigest key` command group for managing the LLM
// API key in the OS keyring.
func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the LLM API key in the OS keyring",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Store the API key in the OS keyring",
			RunE: func(cmd *cobra.Command, _ []string) error {
				fmt.Print("API key: ")
				reader := bufio.NewReader(os.Stdin)
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("reading key: %w", err)
				}
				key := strings.TrimSpace(line)
				if key == "" {
					return fmt.Errorf("empty key")
				}
				if err := config.StoreAPIKey(key); err != nil {
					return fmt.Errorf("storing key: %w", err)
				}
				fmt.Println("API key stored in OS keyring.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the API key from the OS keyring",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := config.DeleteAPIKey(); err != nil {
					return fmt.Errorf("deleting key: %w", err)
				}
				fmt.Println("API key removed from OS keyring.")
				return nil
			},
		},
	)
	return cmd
}
