package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/storage"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archives according to a retention policy",
	Long: `Delete archives according to a retention policy.

Rotation buckets keep the newest archive of each of the most recent hours,
days, weeks, months and years. --max-age and --max-archives then trim what
the buckets kept. With no rotation flags every archive is a candidate for
the age and count limits only.

Examples:
  flasharc prune --max-archives 30
  flasharc prune --keep-daily 7 --keep-weekly 4 --keep-monthly 12
  flasharc prune --max-age 6m --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxArchives, _ := cmd.Flags().GetInt("max-archives")
		maxAge, _ := cmd.Flags().GetString("max-age")
		keepHourly, _ := cmd.Flags().GetInt("keep-hourly")
		keepDaily, _ := cmd.Flags().GetInt("keep-daily")
		keepWeekly, _ := cmd.Flags().GetInt("keep-weekly")
		keepMonthly, _ := cmd.Flags().GetInt("keep-monthly")
		keepYearly, _ := cmd.Flags().GetInt("keep-yearly")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		var maxAgeDuration time.Duration
		if maxAge != "" {
			var err error
			maxAgeDuration, err = parseDuration(maxAge)
			if err != nil {
				return fmt.Errorf("invalid max-age value: %w", err)
			}
		}

		policy := storage.ExpiryPolicy{
			MaxArchives: maxArchives,
			MaxAge:      maxAgeDuration,
			KeepHourly:  keepHourly,
			KeepDaily:   keepDaily,
			KeepWeekly:  keepWeekly,
			KeepMonthly: keepMonthly,
			KeepYearly:  keepYearly,
		}
		printPolicy(policy)

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		now := time.Now()
		if dryRun {
			expired, err := repo.Expired(policy, now)
			if err != nil {
				return err
			}
			for _, name := range expired {
				fmt.Printf("Would delete %s\n", name)
			}
			fmt.Printf("%d archives would be deleted\n", len(expired))
			return nil
		}

		deleted, err := repo.Prune(policy, now)
		if err != nil {
			return fmt.Errorf("failed to apply expiry policy: %w", err)
		}
		for _, name := range deleted {
			fmt.Printf("Deleted %s\n", name)
		}
		fmt.Printf("Applied expiry policy: %d archives deleted\n", len(deleted))
		return nil
	},
}

func printPolicy(policy storage.ExpiryPolicy) {
	fmt.Println("Expiry policy:")
	if policy.MaxArchives > 0 {
		fmt.Printf("  Max archives: %s\n", humanize.Comma(int64(policy.MaxArchives)))
	} else {
		fmt.Println("  Max archives: unlimited")
	}
	if policy.MaxAge > 0 {
		fmt.Printf("  Max age: %s\n", formatDuration(policy.MaxAge))
	} else {
		fmt.Println("  Max age: unlimited")
	}
	fmt.Printf("  Keep hourly: %d\n", policy.KeepHourly)
	fmt.Printf("  Keep daily: %d\n", policy.KeepDaily)
	fmt.Printf("  Keep weekly: %d\n", policy.KeepWeekly)
	fmt.Printf("  Keep monthly: %d\n", policy.KeepMonthly)
	fmt.Printf("  Keep yearly: %d\n", policy.KeepYearly)
}

// parseDuration parses a duration string with support for days, weeks, months, and years
func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}
	value, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}

	day := 24 * time.Hour
	switch unit := s[i:]; unit {
	case "d", "day", "days":
		return time.Duration(value) * day, nil
	case "w", "week", "weeks":
		return time.Duration(value) * 7 * day, nil
	case "m", "month", "months":
		return time.Duration(value) * 30 * day, nil
	case "y", "year", "years":
		return time.Duration(value) * 365 * day, nil
	default:
		return 0, fmt.Errorf("unknown duration unit: %q", unit)
	}
}

// formatDuration formats a duration in a human-readable format
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	switch {
	case days >= 365:
		return fmt.Sprintf("%d years", days/365)
	case days >= 30:
		return fmt.Sprintf("%d months", days/30)
	case days >= 7:
		return fmt.Sprintf("%d weeks", days/7)
	case days > 0:
		return fmt.Sprintf("%d days", days)
	default:
		return d.String()
	}
}

func init() {
	pruneCmd.Flags().Int("max-archives", 0, "Maximum number of archives to keep (0 = unlimited)")
	pruneCmd.Flags().String("max-age", "", "Maximum age of archives to keep (e.g., 30d, 2w, 6m, 1y)")
	pruneCmd.Flags().Int("keep-hourly", 0, "Number of hourly archives to keep")
	pruneCmd.Flags().Int("keep-daily", 0, "Number of daily archives to keep")
	pruneCmd.Flags().Int("keep-weekly", 0, "Number of weekly archives to keep")
	pruneCmd.Flags().Int("keep-monthly", 0, "Number of monthly archives to keep")
	pruneCmd.Flags().Int("keep-yearly", 0, "Number of yearly archives to keep")
	pruneCmd.Flags().Bool("dry-run", false, "Show what would be deleted without deleting")
	RootCmd.AddCommand(pruneCmd)
}
