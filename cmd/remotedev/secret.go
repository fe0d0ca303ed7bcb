package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"remotedev/internal/infra/config"
)

// runEncryptSecret prints the "enc:" form of a value read from the first
// argument or, when absent, from stdin. The passphrase comes from
// REMOTEDEV_CONFIG_KEY.
func runEncryptSecret(args []string) error {
	fs := pflag.NewFlagSet("encrypt-secret", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	passphrase := os.Getenv("REMOTEDEV_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("REMOTEDEV_CONFIG_KEY is not set")
	}

	var plaintext string
	if fs.NArg() > 0 {
		plaintext = fs.Arg(0)
	} else {
		v, err := readSecret(os.Stdin)
		if err != nil {
			return err
		}
		plaintext = v
	}

	out, err := encryptSecret(plaintext, passphrase)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func encryptSecret(plaintext, passphrase string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("empty value")
	}
	enc, err := config.EncryptValue(plaintext, passphrase)
	if err != nil {
		return "", err
	}
	return "enc:" + enc, nil
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
