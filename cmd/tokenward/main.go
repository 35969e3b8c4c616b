package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/layer-3/tokenward/adapters/credentials"
	"github.com/layer-3/tokenward/config"
	"github.com/layer-3/tokenward/internal/logging"
	"github.com/layer-3/tokenward/internal/server"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			log.Fatalf("hash-password: %v", err)
		}
		return
	}

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

// hashPassword prints a bcrypt or argon2id hash for an accounts file entry.
// The password is read from the first line of stdin unless given as an
// argument.
func hashPassword(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	algo := fs.String("algo", "bcrypt", "hash algorithm: bcrypt or argon2id")
	cost := fs.Int("cost", credentials.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password := fs.Arg(0)
	if password == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		password = strings.TrimRight(line, "\r\n")
	}

	var (
		hash string
		err  error
	)
	switch *algo {
	case "bcrypt":
		hash, err = credentials.HashPassword(password, *cost)
	case "argon2id":
		hash, err = credentials.HashArgon2(password, credentials.DefaultArgon2Params())
	default:
		return fmt.Errorf("unknown algorithm %q", *algo)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}
