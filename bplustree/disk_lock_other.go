//go:build !unix

package bplus

import "os"

// Without flock the single writer rule is left to the caller.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
