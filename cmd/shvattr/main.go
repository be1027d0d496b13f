// Command shvattr browses a device: list nodes, show the attribute table of a
// node, call a method, or delete an ACL role together with its access entries.
//
//	shvattr ls [path]
//	shvattr attrs <path>
//	shvattr call <path> <method> [params]
//	shvattr delete-role <role>
//
// Connection settings come from the SHVATTR_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"shvattr/client"
	"shvattr/config"
	"shvattr/loadbalance"
	"shvattr/registry"

	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: shvattr [flags] <command> [args]

commands:
  ls [path]                      list child nodes
  attrs <path>                   show the attribute table of a node
  call <path> <method> [params]  call a method; params in value notation
  delete-role <role>             delete a role and every access entry granting to it

flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		limit = flag.Int("limit", 0, "truncate rendered results to this many bytes (0: no limit)")
		wide  = flag.Bool("wide", false, "attrs: include the flags and access columns")
	)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shvattr: %v\n", err)
		os.Exit(2)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shvattr: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	defer cancel()

	if err := run(ctx, cfg, cmd, args, options{limit: *limit, wide: *wide}); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "shvattr: %v\n", err)
			usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "shvattr: %v\n", err)
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

type options struct {
	limit int
	wide  bool
}

func run(ctx context.Context, cfg config.Config, cmd string, args []string, opts options) error {
	path := ""
	switch cmd {
	case "ls":
		if len(args) > 1 {
			return usageError("ls takes at most one path")
		}
		if len(args) == 1 {
			path = args[0]
		}
	case "attrs", "call":
		if len(args) < 1 {
			return usageError(cmd + " needs a path")
		}
		path = args[0]
	case "delete-role":
		if len(args) != 1 {
			return usageError("delete-role needs exactly one role")
		}
		path = cfg.ACLPath
	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}

	conn, release, err := connect(ctx, cfg, path)
	if err != nil {
		return err
	}
	defer release()

	switch cmd {
	case "ls":
		return list(ctx, conn, cfg, path)
	case "attrs":
		return attrs(ctx, conn, cfg, path, opts)
	case "call":
		return call(ctx, conn, cfg, args, opts)
	default:
		return deleteRole(ctx, conn, cfg, args[0])
	}
}

// connect resolves the device through the registry when one is configured,
// otherwise dials the configured address. The returned func releases everything.
func connect(ctx context.Context, cfg config.Config, path string) (*client.Conn, func(), error) {
	if len(cfg.EtcdEndpoints) == 0 {
		c := client.NewClient(nil, nil, cfg.Codec, cfg.PoolSize)
		conn, err := c.Dial(ctx, cfg.Addr)
		if err != nil {
			c.Close()
			return nil, nil, err
		}
		return conn, func() { c.Close() }, nil
	}

	bal, err := loadbalance.New(cfg.Balancer)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
	if err != nil {
		return nil, nil, err
	}
	c := client.NewClient(reg, bal, cfg.Codec, cfg.PoolSize)
	release := func() {
		c.Close()
		reg.Close()
	}
	conn, err := c.Connect(ctx, cfg.Device, path)
	if err != nil {
		release()
		return nil, nil, err
	}
	return conn, release, nil
}
