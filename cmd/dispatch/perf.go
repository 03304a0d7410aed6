package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCall/cmd/util"
	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/dispatch"
	"github.com/ValentinKolb/dCall/lib/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var perfCmd = &cobra.Command{
	Use:   "perf [system.method]",
	Short: "Runs synthetic calls through the dispatcher",
	Long: `Runs synthetic calls through the dispatcher and prints how many finished with which status.
Each call sleeps for --work (plus up to --jitter) and fails with probability --fail-rate.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPerf,
}

func init() {
	key := "calls"
	perfCmd.Flags().Int(key, 1000, util.WrapString("Number of calls to submit"))
	key = "threads"
	perfCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent callers"))
	key = "work"
	perfCmd.Flags().Duration(key, 10*time.Millisecond, util.WrapString("Time each synthetic call takes"))
	key = "jitter"
	perfCmd.Flags().Duration(key, 0, util.WrapString("Random extra time added to each call"))
	key = "fail-rate"
	perfCmd.Flags().Float64(key, 0, util.WrapString("Probability (0..1) that a call fails with a backend error"))
	key = "async"
	perfCmd.Flags().Bool(key, false, util.WrapString("Submit fire-and-forget calls and wait on their handles"))
	key = "metrics-endpoint"
	perfCmd.Flags().String(key, "", util.WrapString("Serve /metrics on this address while the test runs (e.g. localhost:9090)"))
}

var errSynthetic = errors.New("synthetic failure")

// syntheticCall sleeps like a backend would and honors cancellation
func syntheticCall(work, jitter time.Duration, failRate float64) call.ExecutorFunc {
	return func(ctx context.Context) (*call.Payload, error) {
		d := work
		if jitter > 0 {
			d += rand.N(jitter)
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
		if failRate > 0 && rand.Float64() < failRate {
			return nil, errSynthetic
		}
		return &call.Payload{Body: []byte("ok")}, nil
	}
}

func runPerf(cmd *cobra.Command, args []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	name := call.Name{System: "perf", Method: "synthetic"}
	if len(args) == 1 {
		system, method, ok := cutName(args[0])
		if !ok {
			return fmt.Errorf("invalid call name %q (expected system.method)", args[0])
		}
		name = call.Name{System: system, Method: method}
	}

	reg := metrics.NewRegistry()
	sink, err := metrics.NewDispatchSink(reg)
	if err != nil {
		return err
	}

	d, err := newDispatcher(dispatch.WithSink(sink))
	if err != nil {
		return err
	}
	defer closeDispatcher(d)

	reg.MustRegister(metrics.NewPoolCollector(metrics.Sources(
		d.Registry().Snapshots,
		metrics.PoolSource(d.Guard()),
	)))

	if addr := viper.GetString("metrics-endpoint"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				fmt.Printf("metrics endpoint failed: %v\n", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	var (
		calls    = viper.GetInt("calls")
		work     = viper.GetDuration("work")
		jitter   = viper.GetDuration("jitter")
		failRate = viper.GetFloat64("fail-rate")
		async    = viper.GetBool("async")
		statuses [call.StatusInternalFailure + 1]atomic.Int64
		elapsed  atomic.Int64
	)

	route := d.Registry().Resolve(name)
	fmt.Printf("Running %d calls of %s on queue %s (timeout %s, async %t)\n\n", calls, name, route.Queue, route.Timeout, async)

	ctx, stop := util.SignalContext(cmd.Context())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(viper.GetInt("threads"), 1))

	start := time.Now()
	for i := 0; i < calls && gctx.Err() == nil; i++ {
		g.Go(func() error {
			env := call.New(name.System, name.Method, syntheticCall(work, jitter, failRate))

			var res *call.Result
			if async {
				var err error
				if res, err = d.ExecuteAsync(gctx, env).Wait(gctx); err != nil {
					return err
				}
			} else {
				res = d.Execute(gctx, env)
			}

			statuses[res.Status()].Add(1)
			elapsed.Add(int64(env.Stats().Total()))
			return nil
		})
	}
	err = g.Wait()
	took := time.Since(start)

	fmt.Println("RESULTS")
	for s := call.StatusSuccess; s <= call.StatusInternalFailure; s++ {
		fmt.Printf("  %-22s: %d\n", s, statuses[s].Load())
	}
	fmt.Printf("  %-22s: %s\n", "Total time", took)
	if calls > 0 {
		fmt.Printf("  %-22s: %s\n", "Avg call time", time.Duration(elapsed.Load()/int64(calls)))
		fmt.Printf("  %-22s: %.0f\n", "Calls/sec", float64(calls)/took.Seconds())
	}

	fmt.Println("\nPOOLS")
	for _, snap := range d.Registry().Snapshots() {
		fmt.Printf("  %s\n", snap)
	}
	fmt.Printf("  %s\n", d.Guard().Snapshot())

	return err
}
