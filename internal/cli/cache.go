package cli

import (
	"cmp"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/quotecard/pkg/cache"
	"github.com/matzehuels/quotecard/pkg/config"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the rendered image cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cacheStatsCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached images",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch c.config.Cache.Backend {
			case config.BackendRedis:
				tier, err := c.newTier(cmd.Context(), false)
				if err != nil {
					return err
				}
				defer tier.Close()
				n, err := tier.(*cache.RedisCache).Clear(cmd.Context())
				if err != nil {
					return fmt.Errorf("clear redis: %w", err)
				}
				printSuccess("Cleared %d cached entries", n)
				printDetail("Prefix: %s", c.config.Cache.Prefix)
				return nil

			case config.BackendFile:
				dir, err := c.cacheDir()
				if err != nil {
					return fmt.Errorf("get cache dir: %w", err)
				}
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					printInfo("Cache is empty")
					return nil
				}
				fc, err := cache.NewFileCache(dir)
				if err != nil {
					return err
				}
				n, _, err := fc.Usage()
				if err != nil {
					return err
				}
				if err := fc.Clear(); err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				printSuccess("Cleared %d cached entries", n)
				printDetail("Directory: %s", dir)
				return nil
			}

			printInfo("Caching is disabled")
			return nil
		},
	}
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.cacheDir()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Fprintln(stdout, dir)
			return nil
		},
	}
}

// cacheStatsCommand creates the "cache stats" subcommand.
func (c *CLI) cacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache backend and usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := c.config.Cache
			printKeyValue("Backend", cc.Backend)
			printKeyValue("TTL", cc.TTL.String())
			printKeyValue("Max entries", fmt.Sprint(cc.MaxEntries))
			printKeyValue("Max size", formatBytes(cc.MaxSize))

			switch cc.Backend {
			case config.BackendFile:
				dir, err := c.cacheDir()
				if err != nil {
					return fmt.Errorf("get cache dir: %w", err)
				}
				printKeyValue("Directory", dir)
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					printKeyValue("Entries", "0")
					return nil
				}
				fc, err := cache.NewFileCache(dir)
				if err != nil {
					return err
				}
				n, size, err := fc.Usage()
				if err != nil {
					return err
				}
				printKeyValue("Entries", fmt.Sprint(n))
				printKeyValue("Disk", formatBytes(size))
			case config.BackendRedis:
				printKeyValue("Redis", cmp.Or(cc.RedisURL, cc.RedisAddr))
				printKeyValue("Prefix", cc.Prefix)
			}
			return nil
		},
	}
}
