package cache

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/cmd/util"
	"github.com/ValentinKolb/dCall/lib/cache"
	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the version-checked cache",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix   = "__perf"
	perfValueSizeKB = 1
	perfNumThreads  = 10
	perfKeySpread   = 100
	perfSkip        = make([]string, 0)
)

// perfCase is one benchmark: prepare runs once before the timer starts, op
// once per iteration
type perfCase struct {
	name    string
	prepare func(ctx context.Context, keys []string)
	op      func(ctx context.Context, key string, i int) error
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get-pull)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "value-size"
	perfTestCmd.Flags().Int(key, 1, util.WrapString("Size of the cached values (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfValueSizeKB = viper.GetInt("value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	value := strings.Repeat("x", perfValueSizeKB*1024)

	fmt.Println("Performance testing tool for the version-checked cache")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	if info, err := rpcStore.GetDBInfo(ctx); err == nil {
		printDBInfo(info)
	}

	fill := func(ctx context.Context, keys []string) {
		for _, k := range keys {
			if err := vCache.Put(ctx, k, value); err != nil {
				fmt.Printf("(prepare) - error storing key: %v\n", err)
			}
		}
	}

	cases := []perfCase{
		{
			name: "put",
			op: func(ctx context.Context, key string, _ int) error {
				return vCache.Put(ctx, key, value)
			},
		},
		{
			name:    "get-hit",
			prepare: fill,
			op: func(ctx context.Context, key string, _ int) error {
				_, _, err := vCache.Get(ctx, key)
				return err
			},
		},
		{
			name:    "get-pull",
			prepare: fill,
			op: func(ctx context.Context, key string, _ int) error {
				vCache.Evict(key)
				_, _, err := vCache.Get(ctx, key)
				return err
			},
		},
		{
			name: "get-miss",
			op: func(ctx context.Context, key string, _ int) error {
				_, _, err := vCache.Get(ctx, key+"-missing")
				return err
			},
		},
		{
			name:    "mixed",
			prepare: fill,
			op: func(ctx context.Context, key string, i int) error {
				switch i % 4 {
				case 0:
					return vCache.Put(ctx, key, value)
				case 1:
					vCache.Evict(key)
				}
				_, _, err := vCache.Get(ctx, key)
				return err
			},
		},
	}

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, c := range cases {
		if slices.Contains(perfSkip, c.name) {
			results[c.name] = testing.BenchmarkResult{}
			printResult(c.name, results[c.name])
			continue
		}
		results[c.name] = testing.Benchmark(func(b *testing.B) { runCase(ctx, b, c) })
		printResult(c.name, results[c.name])
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func runCase(ctx context.Context, b *testing.B, c perfCase) {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, c.name, i)
	}

	b.Cleanup(func() {
		for _, k := range keys {
			vCache.Evict(k)
			for _, stored := range []string{k, cache.MarkerKey(k)} {
				if err := rpcStore.Delete(ctx, stored); err != nil {
					fmt.Printf("(%s) - error deleting key: %v\n", c.name, err)
				}
			}
		}
	})

	if c.prepare != nil {
		c.prepare(ctx, keys)
	}

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if err := c.op(ctx, keys[counter%len(keys)], counter); err != nil {
				fmt.Printf("(%s) - %v\n", c.name, err)
			}
			counter++
		}
	})
}

func printDBInfo(info db.DatabaseInfo) {
	fmt.Println("Remote store:")
	fmt.Printf("  %-22s: %v\n", "Type", info.DbType)
	fmt.Printf("  %-22s: %d\n", "Entries", info.Entries)
	fmt.Printf("  %-22s: %d\n", "Size (bytes)", info.SizeBytes)
	fmt.Println()
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	config := util.GetClientConfig()

	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ShardID", "Serializer",
		"Threads", "ValueSizeKB", "Keys Count", "CASAttempts",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		nsPerOp, opsPerSec, skipped := 0.0, 0.0, "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(viper.GetInt("cas-attempts")),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
