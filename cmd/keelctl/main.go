// Command keelctl issues control operations against a keel daemon.
//
// Usage:
//
//	keelctl [flags] [command [args...]]
//
// Commands:
//
//	get                         Print the configuration snapshot
//	query <script>              Evaluate a query script
//	ssg <json>                  Add an SSG group
//	abtio <name> [key=value]    Create an ABT-IO instance (pool=, config=)
//	load <name> <path>          Load a module
//	start <name> <type> [kv]    Start a provider (id=, pool=, config=, dep=role:t1,t2)
//	client <name> <type> [kv]   Create a client (config=, dep=role:t1,t2)
//
// Without a command keelctl starts an interactive shell.
//
// Flags:
//
//	-addr string      Daemon address (default "localhost:9560")
//	-discover string  Resolve the daemon by mDNS instance name instead
//	-provider int     Provider id of the manager instance (default 0)
//	-secret string    Shared secret for session-token auth
//	-insecure         Skip TLS certificate verification
//	-ca string        CA certificate file for daemon verification
//	-timeout duration Per-operation timeout (default 10s)
package main

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/keelworks/keel/pkg/client"
	"github.com/keelworks/keel/pkg/discovery"
	"github.com/keelworks/keel/pkg/manager"
	"github.com/keelworks/keel/pkg/transport"
)

var (
	flagAddr     = flag.String("addr", "localhost:9560", "Daemon address")
	flagDiscover = flag.String("discover", "", "Resolve the daemon by mDNS instance name")
	flagProvider = flag.Uint("provider", 0, "Provider id of the manager instance")
	flagSecret   = flag.String("secret", "", "Shared secret for session-token auth")
	flagInsecure = flag.Bool("insecure", false, "Skip TLS certificate verification")
	flagCA       = flag.String("ca", "", "CA certificate file for daemon verification")
	flagTimeout  = flag.Duration("timeout", 10*time.Second, "Per-operation timeout")
)

func main() {
	flag.Parse()

	handle, cleanup, err := connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keelctl: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	args := flag.Args()
	if len(args) == 0 {
		if err := runShell(handle, *flagTimeout); err != nil {
			fmt.Fprintf(os.Stderr, "keelctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()

	output, err := runCommand(ctx, handle, args[0], args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "keelctl: %v\n", err)
		os.Exit(1)
	}
	if output != "" {
		fmt.Println(output)
	}
}

func connect() (*client.ServiceHandle, func(), error) {
	address := *flagAddr
	if *flagDiscover != "" {
		ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
		defer cancel()

		browser := discovery.NewBrowser(discovery.BrowserConfig{})
		inst, err := browser.Resolve(ctx, *flagDiscover)
		if err != nil {
			return nil, nil, err
		}
		if len(inst.Addresses) == 0 {
			return nil, nil, fmt.Errorf("daemon %q advertised no addresses", *flagDiscover)
		}
		address = inst.Addresses[0]
	}

	tlsCfg := &transport.TLSConfig{InsecureSkipVerify: *flagInsecure}
	if *flagCA != "" {
		pem, err := os.ReadFile(*flagCA)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, nil, fmt.Errorf("no certificates found in %s", *flagCA)
		}
		tlsCfg.RootCAs = pool
	}

	tc, err := transport.NewClient(transport.ClientConfig{TLSConfig: tlsCfg})
	if err != nil {
		return nil, nil, err
	}

	var opts []client.ClientOption
	if *flagSecret != "" {
		token, err := manager.DeriveToken(*flagSecret, []byte(transport.ALPNProtocol))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, client.WithToken(token))
	}

	c := client.New(tc, opts...)
	handle, err := c.CreateServiceHandle(address, uint16(*flagProvider))
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return handle, func() { c.Close() }, nil
}

func runCommand(ctx context.Context, h *client.ServiceHandle, cmd string, args []string) (string, error) {
	switch cmd {
	case "get":
		doc, err := h.GetConfig(ctx)
		if err != nil {
			return "", err
		}
		return indentJSON(doc), nil

	case "query":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: query <script>")
		}
		result, err := h.QueryConfig(ctx, args[0])
		if err != nil {
			return "", err
		}
		return indentJSON(result), nil

	case "ssg":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: ssg <json>")
		}
		return "", h.AddSSGGroup(ctx, args[0])

	case "abtio":
		if len(args) < 1 {
			return "", fmt.Errorf("usage: abtio <name> [pool=...] [config=...]")
		}
		opts, err := parseKeyValues(args[1:])
		if err != nil {
			return "", err
		}
		return "", h.CreateABTIOInstance(ctx, args[0], opts["pool"], opts["config"])

	case "load":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: load <name> <path>")
		}
		return "", h.LoadModule(ctx, args[0], args[1])

	case "start":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: start <name> <type> [id=N] [pool=...] [config=...] [dep=role:t1,t2]...")
		}
		opts, err := componentOptions(args[2:], true)
		if err != nil {
			return "", err
		}
		return "", h.StartProvider(ctx, args[0], args[1], opts...)

	case "client":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: client <name> <type> [config=...] [dep=role:t1,t2]...")
		}
		opts, err := componentOptions(args[2:], false)
		if err != nil {
			return "", err
		}
		return "", h.CreateClient(ctx, args[0], args[1], opts...)

	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}

func indentJSON(doc string) string {
	var buf any
	if err := json.Unmarshal([]byte(doc), &buf); err != nil {
		return doc
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return doc
	}
	return string(pretty)
}
