package cmd

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy <sandbox-id>",
	Short: "Terminate a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkAPIKey(cfg); err != nil {
			return err
		}

		r, _ := newRunner(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := r.Terminate(ctx, args[0]); err != nil {
			return err
		}
		log.Printf("sandbox: terminated %s", args[0])

		return nil
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)
}
