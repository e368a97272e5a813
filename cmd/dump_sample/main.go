// dump_sample runs the seed and all index inspectors, writing all output to
// cmd/sample_run_output.txt. Run from repo root: go run ./cmd/dump_sample
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	bplus "DocIndex/bplustree"
)

const (
	baseDir    = "databases/sample/indexes"
	outputFile = "cmd/sample_run_output.txt"
)

func main() {
	outPath := outputFile
	// If run from cmd/dump_sample, output next to binary
	if _, err := os.Stat("cmd"); os.IsNotExist(err) {
		outPath = "sample_run_output.txt"
	}

	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	root := repoRoot()
	dir := filepath.Join(root, baseDir)

	// Clean previous run so seed starts fresh
	os.RemoveAll(dir)

	// 1) Run seed: capture stdout/stderr to file
	fmt.Fprintln(f, "========== SEED (people_name unique, people_age with duplicates) ==========")
	cmd := exec.Command("go", "run", "./cmd/seed", "--dir", dir)
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.Dir = root
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(f, "seed exited with error: %v\n", err)
	}

	// 2) Dump and validate each index
	for _, name := range []string{"people_name", "people_age"} {
		path := filepath.Join(dir, name+".idx")
		fmt.Fprintf(f, "\n========== INSPECT %s.idx ==========\n", name)
		if err := bplus.InspectIndexFileTo(f, path); err != nil {
			fmt.Fprintf(f, "inspect error: %v\n", err)
			continue
		}
		if err := validate(f, path); err != nil {
			fmt.Fprintf(f, "validate error: %v\n", err)
		}
	}

	fmt.Printf("Output written to %s\n", outPath)
}

func validate(f *os.File, path string) error {
	t, err := bplus.OpenIndexFile(path, nil)
	if err != nil {
		return err
	}
	defer t.Close()
	n, err := t.FullValidate()
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "valid: %d live entries\n", n)
	return nil
}

func repoRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
