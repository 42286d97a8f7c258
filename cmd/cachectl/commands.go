package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/agatticelli/cachekit/internal/platform/cache"
	"github.com/agatticelli/cachekit/internal/platform/worker"
)

var cmdGet = &cli.Command{
	Name:      "get",
	Usage:     "print the value stored at a key",
	ArgsUsage: `<key>`,
	Action: func(cctx *cli.Context) error {
		key, err := requireArgs(cctx, 1)
		if err != nil {
			return err
		}
		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			v, err := c.Get(ctx, key[0])
			if errors.Is(err, cache.ErrNotFound) {
				return fmt.Errorf("%s: not found", key[0])
			}
			if err != nil {
				return err
			}
			return printValue(v)
		})
	},
}

var cmdSet = &cli.Command{
	Name:      "set",
	Usage:     "store a value; JSON literals keep their type, anything else is a string",
	ArgsUsage: `<key> <value>`,
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  "ttl",
			Usage: "seconds to live; 0 never expires, negative uses the configured default",
			Value: -1,
		},
	},
	Action: func(cctx *cli.Context) error {
		args, err := requireArgs(cctx, 2)
		if err != nil {
			return err
		}
		value := parseValue(args[1])
		ttl := cache.DefaultExpiration
		if s := cctx.Int64("ttl"); s >= 0 {
			ttl = time.Duration(s) * time.Second
		}
		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			ok, err := c.Set(ctx, args[0], value, ttl)
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		})
	},
}

var cmdDel = &cli.Command{
	Name:      "del",
	Aliases:   []string{"delete"},
	Usage:     "remove a key",
	ArgsUsage: `<key>`,
	Action: func(cctx *cli.Context) error {
		args, err := requireArgs(cctx, 1)
		if err != nil {
			return err
		}
		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			ok, err := c.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		})
	},
}

var cmdExists = &cli.Command{
	Name:      "exists",
	Usage:     "report whether a key is present",
	ArgsUsage: `<key>`,
	Action: func(cctx *cli.Context) error {
		args, err := requireArgs(cctx, 1)
		if err != nil {
			return err
		}
		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			ok, err := c.Exists(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		})
	},
}

var cmdExpire = &cli.Command{
	Name:      "expire",
	Usage:     "set a key's remaining lifetime in seconds; 0 or less deletes it",
	ArgsUsage: `<key> <seconds>`,
	Action: func(cctx *cli.Context) error {
		args, err := requireArgs(cctx, 2)
		if err != nil {
			return err
		}
		secs, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seconds %q: %w", args[1], err)
		}
		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			ok, err := c.Expire(ctx, args[0], time.Duration(secs)*time.Second)
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		})
	},
}

var cmdTTL = &cli.Command{
	Name:      "ttl",
	Usage:     "print remaining seconds (-1 no expiry, -2 missing)",
	ArgsUsage: `<key>`,
	Action: func(cctx *cli.Context) error {
		args, err := requireArgs(cctx, 1)
		if err != nil {
			return err
		}
		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			ttl, err := c.TTL(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(ttl)
			return nil
		})
	},
}

var cmdKeys = &cli.Command{
	Name:      "keys",
	Usage:     "list keys matching a glob pattern",
	ArgsUsage: `[pattern]`,
	Action: func(cctx *cli.Context) error {
		pattern := cctx.Args().First()
		if pattern == "" {
			pattern = "*"
		}
		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			keys, err := c.Keys(ctx, pattern)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		})
	},
}

var cmdFlush = &cli.Command{
	Name:  "flush",
	Usage: "remove every key",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "yes",
			Usage: "confirm flushing the whole keyspace",
		},
	},
	Action: func(cctx *cli.Context) error {
		if !cctx.Bool("yes") {
			return fmt.Errorf("refusing to flush without --yes")
		}
		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			ok, err := c.Flush(ctx)
			if err != nil {
				return err
			}
			fmt.Println(ok)
			return nil
		})
	},
}

var cmdIncr = counterCommand("incr", "add to an integer counter", func(c cache.Cache) func(context.Context, string, int64) (int64, error) {
	return c.Incr
})

var cmdDecr = counterCommand("decr", "subtract from an integer counter", func(c cache.Cache) func(context.Context, string, int64) (int64, error) {
	return c.Decr
})

func counterCommand(name, usage string, op func(cache.Cache) func(context.Context, string, int64) (int64, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: `<key> [amount]`,
		Action: func(cctx *cli.Context) error {
			if cctx.NArg() < 1 {
				return fmt.Errorf("need a key")
			}
			key := cctx.Args().Get(0)
			amount := int64(1)
			if s := cctx.Args().Get(1); s != "" {
				n, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid amount %q: %w", s, err)
				}
				amount = n
			}
			return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
				n, err := op(c)(ctx, key, amount)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

var cmdBench = &cli.Command{
	Name:  "bench",
	Usage: "hammer one counter from concurrent workers and verify the total",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "workers",
			Usage: "concurrent workers",
			Value: 8,
		},
		&cli.IntFlag{
			Name:  "increments",
			Usage: "increments per worker",
			Value: 1000,
		},
		&cli.StringFlag{
			Name:  "key",
			Usage: "counter key (deleted before the run)",
			Value: "cachectl:bench",
		},
	},
	Action: func(cctx *cli.Context) error {
		workers := cctx.Int("workers")
		increments := cctx.Int("increments")
		key := cctx.String("key")
		if workers <= 0 || increments <= 0 {
			return fmt.Errorf("workers and increments must be > 0")
		}

		return withCache(cctx, func(ctx context.Context, c cache.Cache) error {
			res, err := runBench(ctx, c, key, workers, increments)
			if err != nil {
				return err
			}
			fmt.Printf("%d increments in %s (%.0f ops/s), final=%d\n",
				res.Total, res.Elapsed.Round(time.Millisecond), res.OpsPerSecond(), res.Final)
			return nil
		})
	},
}

// benchResult summarizes a bench run
type benchResult struct {
	Total   int64
	Final   int64
	Elapsed time.Duration
}

func (r benchResult) OpsPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Total) / r.Elapsed.Seconds()
}

// runBench runs workers x increments Incr calls through a worker pool and
// fails unless the counter ends at exactly workers*increments.
func runBench(ctx context.Context, c cache.Cache, key string, workers, increments int) (benchResult, error) {
	if _, err := c.Delete(ctx, key); err != nil {
		return benchResult{}, err
	}

	pool := worker.NewPool(ctx, workers, workers)
	defer pool.Close()

	jobs := make([]worker.Job, workers)
	for i := range jobs {
		jobs[i] = worker.Job{
			ID: fmt.Sprintf("bench-%d", i),
			Execute: func(ctx context.Context) (interface{}, error) {
				for n := 0; n < increments; n++ {
					if _, err := c.Incr(ctx, key, 1); err != nil {
						return nil, err
					}
				}
				return nil, nil
			},
		}
	}

	start := time.Now()
	results := pool.SubmitAndWait(jobs)
	elapsed := time.Since(start)

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.JobID, r.Err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return benchResult{}, err
	}
	if len(results) != workers {
		return benchResult{}, fmt.Errorf("bench interrupted: %d of %d workers finished", len(results), workers)
	}

	want := int64(workers) * int64(increments)
	final, err := c.Incr(ctx, key, 0)
	if err != nil {
		return benchResult{}, err
	}

	res := benchResult{Total: want, Final: final, Elapsed: elapsed}
	if final != want {
		return res, fmt.Errorf("lost updates: counter is %d, expected %d", final, want)
	}
	return res, nil
}

func requireArgs(cctx *cli.Context, n int) ([]string, error) {
	if cctx.NArg() < n {
		return nil, fmt.Errorf("expected %d argument(s), got %d", n, cctx.NArg())
	}
	return cctx.Args().Slice()[:n], nil
}

// parseValue keeps JSON literals typed and treats anything else as a string
func parseValue(s string) interface{} {
	var codec cache.JSONCodec
	if v, err := codec.Unmarshal([]byte(s)); err == nil {
		return v
	}
	return s
}

func printValue(v interface{}) error {
	switch t := v.(type) {
	case string:
		fmt.Println(t)
		return nil
	case []byte:
		fmt.Println(string(t))
		return nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
