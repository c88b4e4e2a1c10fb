package cmd

import (
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/offloadhq/offload/internal/imagecache"
)

var imagesCmd = &cobra.Command{
	Use:     "images",
	Aliases: []string{"image", "img"},
	Short:   "Inspect and maintain the local image cache",
}

var listImagesCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached base images",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store := imagecache.New(cfg.CacheDir)
		entries := store.Load()
		if len(entries) == 0 {
			fmt.Println("No cached images")
			return nil
		}

		keys := make([]string, 0, len(entries))
		for key := range entries {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tIMAGE\tKIND\tCREATED")
		for _, key := range keys {
			entry := entries[key]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				key, entry.ImageHandle, entry.SandboxKind, entry.CreatedAt.Format("2006-01-02 15:04"))
		}
		w.Flush()

		return nil
	},
}

var clearImagesCmd = &cobra.Command{
	Use:   "clear [key]",
	Short: "Remove cached image entries",
	Long: `Remove one cache entry by key, or every entry with --all. Clearing only
forgets the handle locally; the next prepare with caching rebuilds.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		store := imagecache.New(cfg.CacheDir)

		switch {
		case all:
			if err := store.Save(map[string]imagecache.Entry{}); err != nil {
				return err
			}
			log.Printf("cache: cleared %s", store.Path())
		case len(args) == 1:
			if err := store.Clear(args[0]); err != nil {
				return err
			}
			log.Printf("cache: cleared %s", args[0])
		default:
			return fmt.Errorf("give a cache key or --all")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.AddCommand(listImagesCmd)
	imagesCmd.AddCommand(clearImagesCmd)

	clearImagesCmd.Flags().Bool("all", false, "Remove every cache entry")
}
