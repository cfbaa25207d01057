// pmemkv-bench drives Put/Get load against a tree3 or vsmap pool and
// reports simple throughput numbers, the way one would sanity-check a
// persistent-memory build before trusting it with real data.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bpowers/pmemkv"
	"github.com/bpowers/pmemkv/internal/config"
	"github.com/bpowers/pmemkv/internal/unsafestring"
	"github.com/bpowers/pmemkv/tree3"
	"github.com/bpowers/pmemkv/vsmap"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML pool config (engine/path/size); overrides -engine/-path/-size")
		engineName = flag.String("engine", "tree3", "engine to benchmark: tree3 or vsmap")
		poolPath   = flag.String("path", "", "filesystem path for the pool")
		poolSize   = flag.Int64("size", 1<<30, "pool size in bytes, if the pool doesn't already exist")
		numKeys    = flag.Int("n", 100000, "number of key/value pairs to put, then get")
		keySize    = flag.Int("keysize", 16, "key size in bytes")
		valueSize  = flag.Int("valuesize", 100, "value size in bytes")
		putKey     = flag.String("putkey", "", "if set, put this single key/-putvalue pair and exit, skipping the benchmark")
		putValue   = flag.String("putvalue", "", "value to store under -putkey")
	)
	flag.Parse()

	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		*engineName = f.Engine
		*poolPath = f.Path
		*poolSize = f.Size
	}
	if *poolPath == "" {
		fatal(fmt.Errorf("pmemkv-bench: -path (or -config) is required"))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	eng, err := openEngine(*engineName, *poolPath, *poolSize, logger)
	if err != nil {
		fatal(err)
	}
	defer eng.Close()

	if *putKey != "" {
		// unsafestring avoids copying the flag's backing string into a new
		// []byte; Put's own marshaling copies the bytes it needs durably,
		// so aliasing the string's storage here is safe.
		if err := eng.Put(unsafestring.ToBytes(*putKey), unsafestring.ToBytes(*putValue)); err != nil {
			fatal(err)
		}
		fmt.Printf("put %q = %q\n", *putKey, *putValue)
		return
	}

	keys := make([][]byte, *numKeys)
	values := make([][]byte, *numKeys)
	for i := range keys {
		keys[i] = randomBytes(*keySize)
		values[i] = randomBytes(*valueSize)
	}

	putStart := time.Now()
	for i := range keys {
		if err := eng.Put(keys[i], values[i]); err != nil {
			fatal(fmt.Errorf("put %d: %w", i, err))
		}
	}
	putElapsed := time.Since(putStart)

	getStart := time.Now()
	for i := range keys {
		if err := eng.Get(keys[i], func([]byte) {}); err != nil {
			fatal(fmt.Errorf("get %d: %w", i, err))
		}
	}
	getElapsed := time.Since(getStart)

	count, err := eng.Count()
	if err != nil {
		fatal(err)
	}

	fmt.Printf("engine=%s n=%d keysize=%d valuesize=%d\n", eng.Name(), *numKeys, *keySize, *valueSize)
	fmt.Printf("put: %s (%.0f ops/s)\n", putElapsed, float64(*numKeys)/putElapsed.Seconds())
	fmt.Printf("get: %s (%.0f ops/s)\n", getElapsed, float64(*numKeys)/getElapsed.Seconds())
	fmt.Printf("count: %d\n", count)
}

func openEngine(name, path string, size int64, logger *slog.Logger) (pmemkv.Engine, error) {
	switch name {
	case "tree3":
		return tree3.Open(path, size, tree3.WithLogger(logger))
	case "vsmap":
		return vsmap.Open(path, size, vsmap.WithLogger(logger))
	default:
		return nil, fmt.Errorf("pmemkv-bench: unknown engine %q", name)
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		fatal(err)
	}
	return b
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "pmemkv-bench:", err)
	os.Exit(1)
}
