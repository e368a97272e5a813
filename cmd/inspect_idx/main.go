// Inspect a bucket index file (.idx).
// Usage: go run ./cmd/inspect_idx <command> <path-to-.idx>
// Example: go run ./cmd/inspect_idx dump databases/sample/indexes/people_name.idx
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"
	cli "github.com/urfave/cli/v2"

	bplus "DocIndex/bplustree"
)

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	app := &cli.App{
		Name:  "inspect_idx",
		Usage: "inspect bucket index files",
		Commands: []*cli.Command{
			{
				Name:      "dump",
				Usage:     "print the meta record, statistics and every bucket",
				ArgsUsage: "<index.idx>",
				Action: func(ctx *cli.Context) error {
					path, err := indexArg(ctx)
					if err != nil {
						return err
					}
					return bplus.InspectIndexFile(path)
				},
			},
			{
				Name:      "shape",
				Usage:     "print the bucket structure without keys",
				ArgsUsage: "<index.idx>",
				Action: withIndex(func(t *bplus.BPlusTree) error {
					return t.Shape(os.Stdout)
				}),
			},
			{
				Name:      "validate",
				Usage:     "check every structural invariant of the index",
				ArgsUsage: "<index.idx>",
				Action: withIndex(func(t *bplus.BPlusTree) error {
					n, err := t.FullValidate()
					if err != nil {
						return err
					}
					log.Info("Index is valid", "name", t.Name(), "entries", n)
					return nil
				}),
			},
			{
				Name:      "stats",
				Usage:     "print bucket and space statistics",
				ArgsUsage: "<index.idx>",
				Action: withIndex(func(t *bplus.BPlusTree) error {
					st, err := t.Stats()
					if err != nil {
						return err
					}
					return bplus.WriteStats(os.Stdout, st)
				}),
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// indexArg returns the index path argument, refusing to create a new file.
func indexArg(ctx *cli.Context) (string, error) {
	if ctx.NArg() != 1 {
		return "", errors.Newf("expected one index file, got %d arguments", ctx.NArg())
	}
	path := ctx.Args().First()
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

func withIndex(fn func(*bplus.BPlusTree) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		path, err := indexArg(ctx)
		if err != nil {
			return err
		}
		t, err := bplus.OpenIndexFile(path, nil)
		if err != nil {
			return err
		}
		defer t.Close()
		return fn(t)
	}
}
