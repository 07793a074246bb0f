// Command libraryctl is the operator tool for a library deployment. It reads
// the same configuration as the server.
//
//	libraryctl hash-password <password>
//	libraryctl [--config path] kv get <key>
//	libraryctl [--config path] kv list <prefix>
//	libraryctl [--config path] kv del <key>
//	libraryctl [--config path] sweep-admin-tokens
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/juju/clock"
	"github.com/juju/gnuflag"

	"github.com/abdulaziz-uzb777/library-project/pkg/adminsession"
	"github.com/abdulaziz-uzb777/library-project/pkg/auth"
	"github.com/abdulaziz-uzb777/library-project/pkg/kv"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
	"github.com/abdulaziz-uzb777/library-project/services/library/internal/config"
)

var errUsage = errors.New("usage: libraryctl [--config path] hash-password <pw> | kv get|list|del <arg> | sweep-admin-tokens")

type cli struct {
	stdout    io.Writer
	stderr    io.Writer
	openStore func(configPath string) (kv.Store, error)
	clock     clock.Clock
}

func main() {
	c := &cli{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		openStore: openConfiguredStore,
		clock:     clock.WallClock,
	}
	if err := c.run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "libraryctl:", err)
		os.Exit(1)
	}
}

func openConfiguredStore(configPath string) (kv.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return kv.Open(cfg.KVOptions())
}

func (c *cli) run(ctx context.Context, args []string) error {
	flags := gnuflag.NewFlagSet("libraryctl", gnuflag.ContinueOnError)
	flags.SetOutput(c.stderr)
	var configPath string
	flags.StringVar(&configPath, "config", "", "path to the server config file")
	if err := flags.Parse(false, args); err != nil {
		return err
	}
	rest := flags.Args()
	if len(rest) == 0 {
		return errUsage
	}

	switch rest[0] {
	case "hash-password":
		if len(rest) != 2 || rest[1] == "" {
			return errUsage
		}
		fmt.Fprintln(c.stdout, auth.DigestPassword(rest[1]))
		return nil
	case "kv":
		if len(rest) != 3 {
			return errUsage
		}
		return c.withStore(configPath, func(s kv.Store) error {
			return c.runKV(ctx, s, rest[1], rest[2])
		})
	case "sweep-admin-tokens":
		if len(rest) != 1 {
			return errUsage
		}
		return c.withStore(configPath, func(s kv.Store) error {
			admin := adminsession.NewManager(store.New(s), adminsession.Config{Clock: c.clock})
			n, err := admin.SweepExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "removed %d expired admin tokens\n", n)
			return nil
		})
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func (c *cli) withStore(configPath string, fn func(kv.Store) error) error {
	s, err := c.openStore(configPath)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func (c *cli) runKV(ctx context.Context, s kv.Store, op, arg string) error {
	switch op {
	case "get":
		value, ok, err := s.Get(ctx, arg)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", arg)
		}
		fmt.Fprintln(c.stdout, string(value))
	case "list":
		entries, err := s.GetByPrefix(ctx, arg)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		for _, e := range entries {
			fmt.Fprintf(c.stdout, "%s\t%s\n", e.Key, e.Value)
		}
	case "del":
		if err := s.Del(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "deleted %s\n", arg)
	default:
		return fmt.Errorf("unknown kv operation %q", op)
	}
	return nil
}
