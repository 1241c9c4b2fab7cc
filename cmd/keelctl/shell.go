package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/keelworks/keel/pkg/client"
)

// parseKeyValues parses "key=value" arguments into a map. Repeated keys
// other than dep are rejected.
func parseKeyValues(args []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("duplicate option %q", key)
		}
		out[key] = value
	}
	return out, nil
}

// componentOptions translates key=value arguments into handle options.
// Provider-only keys (id, pool) are rejected for clients.
func componentOptions(args []string, provider bool) ([]client.Option, error) {
	var opts []client.Option
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		switch key {
		case "id":
			if !provider {
				return nil, fmt.Errorf("clients have no provider id")
			}
			id, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("bad provider id %q: %w", value, err)
			}
			opts = append(opts, client.WithProviderID(uint16(id)))
		case "pool":
			if !provider {
				return nil, fmt.Errorf("clients have no pool")
			}
			opts = append(opts, client.WithPool(value))
		case "config":
			opts = append(opts, client.WithConfig(value))
		case "dep":
			role, targets, ok := strings.Cut(value, ":")
			if !ok || role == "" || targets == "" {
				return nil, fmt.Errorf("expected dep=role:target[,target], got %q", arg)
			}
			opts = append(opts, client.WithDependency(role, strings.Split(targets, ",")...))
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	return opts, nil
}

// runShell runs the interactive command loop.
func runShell(h *client.ServiceHandle, timeout time.Duration) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("keel(%s/%d)> ", h.Address(), h.ProviderID()),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	printShellHelp(rl)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			// EOF
			return nil
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			printShellHelp(rl)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		output, err := runCommand(ctx, h, fields[0], fields[1:])
		cancel()

		if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
			continue
		}
		if output != "" {
			fmt.Fprintln(rl.Stdout(), output)
		}
	}
}

func printShellHelp(rl *readline.Instance) {
	fmt.Fprint(rl.Stdout(), `Commands:
  get                          Print the configuration snapshot
  query <script>               Evaluate a query script
  ssg <json>                   Add an SSG group
  abtio <name> [key=value]     Create an ABT-IO instance (pool=, config=)
  load <name> <path>           Load a module
  start <name> <type> [kv...]  Start a provider (id=, pool=, config=, dep=role:t1,t2)
  client <name> <type> [kv...] Create a client (config=, dep=role:t1,t2)
  help                         Show this help
  exit                         Leave the shell
`)
}
