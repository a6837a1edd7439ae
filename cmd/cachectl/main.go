package main

// cachectl is a small inspector CLI for a simplecache directory, adapted
// from the teacher's arena-cache-inspect: same flag-parsing and
// json-vs-pretty-print shape, signal handling for graceful exit, but
// operating directly on a local cache directory instead of polling a
// remote HTTP debug endpoint — this module's cache is a filesystem, not a
// running process with a snapshot route.
//
// Usage:
//   cachectl -dir ./cache-data stats
//   cachectl -dir ./cache-data -json stats
//   cachectl -dir ./cache-data export -out snapshot.json
//   cachectl -dir ./cache-data doom -key foo
//
// Build-time flag: `-ldflags "-X main.version=vX.Y.Z"` is set by GoReleaser.
//
// © 2025 simplecache authors. MIT License.

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"

	cache "github.com/Voskan/simplecache/pkg"
)

var version = "dev"

func main() {
	dir := flag.String("dir", "", "cache directory to inspect")
	asJSON := flag.Bool("json", false, "print machine-readable JSON instead of a pretty summary")
	maxBytes := flag.Int64("max-bytes", 256<<20, "max cache size, bytes (only used if the directory is new)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *dir == "" {
		fatal(fmt.Errorf("missing -dir"))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sig; os.Exit(130) }()

	c, err := cache.New(*dir, *maxBytes, cache.DiskCache)
	if err != nil {
		fatal(err)
	}
	defer c.Close()

	cmd := flag.Arg(0)
	switch cmd {
	case "stats", "":
		snap := snapshot(c)
		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(snap)
			return
		}
		prettyPrint(snap)
	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		outPath := fs.String("out", "snapshot.json", "file to write the JSON snapshot to")
		fs.Parse(flag.Args()[1:])
		out := *outPath
		if err := exportSnapshot(c, out); err != nil {
			fatal(err)
		}
		fmt.Printf("snapshot written to %s\n", out)
	case "doom":
		args := flag.Args()[1:]
		fs := flag.NewFlagSet("doom", flag.ExitOnError)
		key := fs.String("key", "", "key to doom")
		fs.Parse(args)
		if *key == "" {
			fatal(fmt.Errorf("missing -key"))
		}
		if err := c.Doom(context.Background(), *key); err != nil {
			fatal(err)
		}
		fmt.Println("OK")
	default:
		fatal(fmt.Errorf("unknown command %q", cmd))
	}
}

func snapshot(c *cache.Backend) map[string]any {
	return map[string]any{
		"entry_count": c.EntryCount(),
		"size_bytes":  c.SizeOfAll(context.Background()),
		"max_entry_bytes": c.MaxFileSize(),
	}
}

func prettyPrint(snap map[string]any) {
	fmt.Printf("Entries:   %v\n", snap["entry_count"])
	fmt.Printf("Size:      %s\n", humanize.Bytes(uint64(toFloat(snap["size_bytes"]))))
	fmt.Printf("Max entry: %s\n", humanize.Bytes(uint64(toFloat(snap["max_entry_bytes"]))))
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

// exportSnapshot writes the stats snapshot to out via an atomic rename.
// Unlike the core index file (codec.go), this artifact has no bit-exact
// format requirement, so natefinch/atomic's internally-named temp file is
// fine here.
func exportSnapshot(c *cache.Backend, out string) error {
	data, err := json.MarshalIndent(snapshot(c), "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(out, bytes.NewReader(data))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "cachectl:", err)
	os.Exit(1)
}
