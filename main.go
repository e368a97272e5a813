package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"

	bplus "DocIndex/bplustree"
)

const help = `commands:
  insert <key> <file:offset> [dup]   index key -> target
  delete <key> <file:offset>         unindex one entry
  find <key>                         list targets of key
  scan [from [to]]                   ascending range scan
  rscan [from [to]]                  descending range scan
  max                                largest live key
  validate | dump | shape | stats
  exit`

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelWarn, true)))

	path := "repl.idx"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	tree, err := bplus.OpenIndexFile(path, &bplus.Options{Name: "repl"})
	if err != nil {
		log.Crit("Failed to open index", "path", path, "err", err)
	}
	defer tree.Close()
	fmt.Printf("index %s (bucket size %d, key max %d)\n", path, tree.BucketSize(), tree.KeyMax())

	scanner := bufio.NewScanner(os.Stdin)
	// REPL
	for {
		fmt.Print("idx> ")

		if !scanner.Scan() { // Ctrl+D pressed
			break
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.EqualFold(fields[0], "exit") {
			break
		}
		if err := execute(tree, fields); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func execute(tree *bplus.BPlusTree, fields []string) error {
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "insert":
		if len(args) < 2 {
			return errors.New("usage: insert <key> <file:offset> [dup]")
		}
		target, err := bplus.ParseRef(args[1])
		if err != nil {
			return err
		}
		dups := len(args) > 2 && args[2] == "dup"
		return tree.Insert(target, []byte(args[0]), dups)

	case "delete":
		if len(args) != 2 {
			return errors.New("usage: delete <key> <file:offset>")
		}
		target, err := bplus.ParseRef(args[1])
		if err != nil {
			return err
		}
		ok, err := tree.Unindex([]byte(args[0]), target)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("not found")
		}
		return nil

	case "find":
		if len(args) != 1 {
			return errors.New("usage: find <key>")
		}
		return scan(tree, 1, []byte(args[0]), []byte(args[0]))

	case "scan", "rscan":
		dir := 1
		if cmd == "rscan" {
			dir = -1
		}
		var from, to []byte
		if len(args) > 0 {
			from = []byte(args[0])
		}
		if len(args) > 1 {
			to = []byte(args[1])
		}
		return scan(tree, dir, from, to)

	case "max":
		c, err := tree.SeekFirst(-1)
		if err != nil {
			return err
		}
		if !c.Valid() {
			fmt.Println("(empty)")
			return c.Err()
		}
		fmt.Printf("%s -> %s\n", c.Key(), c.Target())
		return nil

	case "validate":
		n, err := tree.FullValidate()
		if err != nil {
			return err
		}
		fmt.Printf("ok, %d live entries\n", n)
		return nil

	case "dump":
		return tree.Dump(os.Stdout)

	case "shape":
		return tree.Shape(os.Stdout)

	case "stats":
		st, err := tree.Stats()
		if err != nil {
			return err
		}
		return bplus.WriteStats(os.Stdout, st)

	case "help":
		fmt.Println(help)
		return nil
	}
	return errors.Newf("unknown command %q, try help", cmd)
}

func scan(tree *bplus.BPlusTree, dir int, from, to []byte) error {
	var (
		c   *bplus.Cursor
		err error
	)
	switch {
	case from == nil:
		c, err = tree.SeekFirst(dir)
	case dir > 0:
		c, err = tree.Seek(from, bplus.MinRef, dir)
	default:
		c, err = tree.Seek(from, bplus.MaxRef, dir)
	}
	if err != nil {
		return err
	}
	if to != nil {
		c.SetEnd(to)
	}
	n := 0
	for ; c.Valid(); c.Next() {
		fmt.Printf("  %s -> %s\n", c.Key(), c.Target())
		n++
	}
	fmt.Printf("(%d entries)\n", n)
	return c.Err()
}
