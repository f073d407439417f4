// Command tscachegc reports timeseries stores that have gone cold: it
// lists every per-identity bbolt file under a data directory whose
// _accessTime metadata is older than a configurable horizon. Modeled
// on perf/go/maintenance's long-running reaper role, but scoped down to
// a one-shot report -- eviction policy is left to the operator, so
// tscachegc never deletes anything itself.
package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tlemo/catapult/go/boltstore"
	"github.com/tlemo/catapult/tscache/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("tscachegc exited with an error")
	}
}

var rootCmd = &cobra.Command{
	Use:   "tscachegc",
	Short: "Reports stale timeseries stores, does not delete them",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("data-dir", "./tscache-data", "directory holding one bbolt file per timeseries identity")
	flags.Duration("horizon", 30*24*time.Hour, "a store not accessed within this long is reported stale")

	for _, name := range []string{"data-dir", "horizon"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("TSCACHEGC")
	viper.AutomaticEnv()
}

// staleEntry is one reported candidate for eviction.
type staleEntry struct {
	name       string
	accessTime time.Time
	age        time.Duration
}

func run(cmd *cobra.Command, args []string) error {
	dataDir := viper.GetString("data-dir")
	horizon := viper.GetDuration("horizon")

	entries, err := scan(dataDir, horizon, time.Now())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no stale stores found")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s\tlast accessed %s\t(%s stale)\n", e.name, e.accessTime.Format(time.RFC3339), e.age.Round(time.Hour))
	}
	return nil
}

// scan walks dataDir for *.db files and returns every store whose
// _accessTime is older than horizon relative to now, sorted by name.
func scan(dataDir string, horizon time.Duration, now time.Time) ([]staleEntry, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to glob %q", dataDir)
	}

	var stale []staleEntry
	for _, path := range files {
		accessTime, err := readAccessTime(path)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("failed to read store access time, skipping")
			continue
		}
		age := now.Sub(accessTime)
		if age >= horizon {
			stale = append(stale, staleEntry{
				name:       displayName(path),
				accessTime: accessTime,
				age:        age,
			})
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].name < stale[j].name })
	return stale, nil
}

func displayName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func readAccessTime(path string) (time.Time, error) {
	db, err := boltstore.Open(path, []string{store.BucketMetadata})
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = db.Close() }()

	var accessTime time.Time
	err = db.View(func(tx boltstore.Tx) error {
		b, err := tx.Bucket(store.BucketMetadata)
		if err != nil {
			return err
		}
		raw := b.Get([]byte(store.AccessTimeKey))
		if raw == nil {
			return errors.Errorf("store has no %s recorded", store.AccessTimeKey)
		}
		var s string
		if err := store.DecodeMetaValue(raw, &s); err != nil {
			return err
		}
		accessTime, err = time.Parse(time.RFC3339, s)
		return err
	})
	return accessTime, err
}
