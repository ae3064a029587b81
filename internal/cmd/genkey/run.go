// Package genkey implements the "glassfile genkey" CLI subcommand,
// which prints a fresh random API key for security.api_keys.
package genkey

import (
	"flag"
	"fmt"

	"github.com/miikkis-gh/glassfile/internal/auth"
)

// Run generates one URL-safe random key and prints it to stdout.
func Run(args []string) error {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	var nbytes int
	fs.IntVar(&nbytes, "bytes", 32, "entropy in bytes (minimum 16)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := auth.NewToken(nbytes)
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}
