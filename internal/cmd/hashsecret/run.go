// Package hashsecret implements the "glassfile hashsecret" CLI
// subcommand. It hashes the admin secret for use in the config file,
// so the plain secret never has to be stored anywhere.
package hashsecret

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/miikkis-gh/glassfile/internal/auth"
)

// Run prompts for the secret twice and prints the encoded hash to
// stdout. Paste the output into security.admin_password_hash.
func Run(args []string) error {
	fs := flag.NewFlagSet("hashsecret", flag.ContinueOnError)
	var fromEnv bool
	fs.BoolVar(&fromEnv, "env", false, "read the secret from GLASSFILE_ADMIN_SECRET instead of prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var secret string
	if fromEnv {
		secret = strings.TrimSpace(os.Getenv("GLASSFILE_ADMIN_SECRET"))
		if secret == "" {
			return fmt.Errorf("GLASSFILE_ADMIN_SECRET is not set")
		}
	} else {
		var err error
		secret, err = promptSecret("Admin secret")
		if err != nil {
			return err
		}
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		for {
			fmt.Fprintf(os.Stderr, "%s: ", label)
			p1b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			fmt.Fprint(os.Stderr, "Confirm secret: ")
			p2b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			p1 := strings.TrimSpace(string(p1b))
			p2 := strings.TrimSpace(string(p2b))
			if p1 == "" {
				fmt.Fprintln(os.Stderr, "secret cannot be empty")
				continue
			}
			if p1 != p2 {
				fmt.Fprintln(os.Stderr, "secrets do not match")
				continue
			}
			return p1, nil
		}
	}

	// Non-interactive fallback (e.g. piped input). Echo suppression isn't possible.
	r := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		p1, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		fmt.Fprint(os.Stderr, "Confirm secret: ")
		p2, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		p1 = strings.TrimSpace(p1)
		p2 = strings.TrimSpace(p2)
		if p1 == "" {
			fmt.Fprintln(os.Stderr, "secret cannot be empty")
			continue
		}
		if p1 != p2 {
			fmt.Fprintln(os.Stderr, "secrets do not match")
			continue
		}
		return p1, nil
	}
}
