// Package main (tools/datasetgen) seeds a cache directory with synthetic
// entries for benchmarking, replacing the teacher's dataset_gen (which only
// emitted a flat list of uint64 keys for an external load-tester) with a
// generator that actually populates a simplecache directory end to end,
// since this module's "dataset" is on-disk entries, not abstract keys.
//
// Usage:
//
//	go run ./tools/datasetgen -dir ./bench-data -n 100000 -dist zipf -size 4096
//
// Flags:
//
//	-dir     cache directory to populate (created if missing)
//	-n       number of entries to generate (default 100000)
//	-dist    key distribution: "uniform" or "zipf" (default uniform)
//	-zipfs   Zipf s parameter (>1) (default 1.2)
//	-zipfv   Zipf v parameter (>0) (default 1.0)
//	-seed    PRNG seed (default current time)
//	-size    bytes written to stream 0 per entry (default 1024)
//
// © 2025 simplecache authors. MIT License.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/natefinch/atomic"

	cache "github.com/Voskan/simplecache/pkg"
)

func main() {
	var (
		dir     = flag.String("dir", "./bench-data", "cache directory to populate")
		n       = flag.Int("n", 100_000, "number of entries to generate")
		dist    = flag.String("dist", "uniform", "key distribution: uniform or zipf")
		zipfS   = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV   = flag.Float64("zipfv", 1.0, "zipf v parameter (>0)")
		seedVal = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		size    = flag.Int("size", 1024, "bytes written to stream 0 per entry")
	)
	flag.Parse()

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV <= 0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >0")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	c, err := cache.New(*dir, int64(*n)*int64(*size)*2, cache.DiskCache)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cache init:", err)
		os.Exit(1)
	}
	defer c.Close()

	payload := make([]byte, *size)
	ctx := context.Background()
	keys := make([]string, 0, *n)
	for i := 0; i < *n; i++ {
		key := fmt.Sprintf("k%d", gen())
		rnd.Read(payload)
		h, err := c.Create(ctx, key)
		if err != nil {
			continue
		}
		h.WriteStream(0, 0, payload)
		h.Close()
		keys = append(keys, key)
	}

	manifest, err := json.MarshalIndent(map[string]any{
		"dir":        *dir,
		"count":      len(keys),
		"dist":       *dist,
		"seed":       *seedVal,
		"entry_size": *size,
		"keys":       keys,
	}, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "manifest marshal:", err)
		os.Exit(1)
	}
	if err := atomic.WriteFile(*dir+".manifest.json", bytes.NewReader(manifest)); err != nil {
		fmt.Fprintln(os.Stderr, "manifest write:", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d entries into %s\n", len(keys), *dir)
}
