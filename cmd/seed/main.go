// seed builds sample indexes over a small people collection: a unique
// index on name and a duplicate-allowing index on age. Run from repo root:
//
//	go run ./cmd/seed --dir databases/sample/indexes
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"
	cli "github.com/urfave/cli/v2"

	bplus "DocIndex/bplustree"
	indexfile "DocIndex/indexfile_manager"
)

var (
	dirFlag = &cli.StringFlag{
		Name:  "dir",
		Usage: "directory holding the index files",
		Value: "databases/sample/indexes",
	}
	bucketSizeFlag = &cli.IntFlag{
		Name:  "bucket-size",
		Usage: "bucket size in bytes for newly created indexes",
		Value: 512,
	}
	removeFlag = &cli.BoolFlag{
		Name:  "remove",
		Usage: "unindex every third person after loading",
		Value: true,
	}
)

type person struct {
	name string
	age  uint16
}

var people = []person{
	{"alice", 31}, {"bob", 27}, {"carol", 31}, {"dave", 45}, {"erin", 27},
	{"frank", 52}, {"grace", 31}, {"heidi", 38}, {"ivan", 27}, {"judy", 45},
	{"mallory", 29}, {"niaj", 38}, {"olivia", 31}, {"peggy", 60}, {"rupert", 29},
	{"sybil", 45}, {"trent", 38}, {"victor", 27}, {"walter", 52}, {"zoe", 31},
}

// recordRef is where person i would live in the collection's data file.
func recordRef(i int) bplus.Ref {
	return bplus.NewRef(1, uint32(64*(i+1)))
}

func ageKey(age uint16) []byte {
	var k [2]byte
	binary.BigEndian.PutUint16(k[:], age)
	return k[:]
}

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	app := &cli.App{
		Name:   "seed",
		Usage:  "build sample name and age indexes",
		Flags:  []cli.Flag{dirFlag, bucketSizeFlag, removeFlag},
		Action: seed,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("Seeding failed", "err", err)
	}
}

func seed(ctx *cli.Context) error {
	ifm, err := indexfile.NewIndexFileManager(ctx.String(dirFlag.Name), &bplus.Options{
		BucketSize: ctx.Int(bucketSizeFlag.Name),
	})
	if err != nil {
		return err
	}
	defer ifm.CloseAll()

	byName, err := ifm.GetOrCreateIndex("people_name")
	if err != nil {
		return err
	}
	byAge, err := ifm.GetOrCreateIndex("people_age")
	if err != nil {
		return err
	}

	for i, p := range people {
		if err := byName.Insert(recordRef(i), []byte(p.name), false); err != nil {
			return errors.Wrapf(err, "index name %q", p.name)
		}
		if err := byAge.Insert(recordRef(i), ageKey(p.age), true); err != nil {
			return errors.Wrapf(err, "index age of %q", p.name)
		}
	}
	log.Info("Loaded people", "count", len(people))

	// a second alice must be refused by the unique index
	err = byName.Insert(recordRef(len(people)), []byte("alice"), false)
	if err == nil {
		return errors.New("duplicate name accepted")
	}
	log.Info("Rejected duplicate name", "name", "alice", "err", err)

	if ctx.Bool(removeFlag.Name) {
		removed := 0
		for i := 0; i < len(people); i += 3 {
			p := people[i]
			if _, err := byName.Unindex([]byte(p.name), recordRef(i)); err != nil {
				return err
			}
			if _, err := byAge.Unindex(ageKey(p.age), recordRef(i)); err != nil {
				return err
			}
			removed++
		}
		log.Info("Unindexed people", "count", removed)
	}

	fmt.Println("People aged 31, oldest record first:")
	c, err := byAge.Seek(ageKey(31), bplus.MaxRef, -1)
	if err != nil {
		return err
	}
	c.SetEnd(ageKey(31))
	for ; c.Valid(); c.Next() {
		fmt.Printf("  age=%d record=%s\n", binary.BigEndian.Uint16(c.Key()), c.Target())
	}
	if err := c.Err(); err != nil {
		return err
	}

	fmt.Println("Names from h onwards:")
	c, err = byName.Seek([]byte("h"), bplus.MinRef, 1)
	if err != nil {
		return err
	}
	for ; c.Valid(); c.Next() {
		fmt.Printf("  %s -> %s\n", c.Key(), c.Target())
	}
	if err := c.Err(); err != nil {
		return err
	}

	results, err := ifm.ValidateAll(context.Background())
	for _, r := range results {
		if r.Err != nil {
			log.Error("Index invalid", "index", r.Name, "err", r.Err)
			continue
		}
		log.Info("Index valid", "index", r.Name, "entries", r.Entries)
	}
	return err
}
