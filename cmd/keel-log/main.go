// Command keel-log views and summarizes keel protocol event logs.
//
// Log files are written by keeld when started with -log-file.
//
// Usage:
//
//	keel-log <command> [flags] <file.klog>
//
// Commands:
//
//	view    Print events in human-readable form
//	stats   Summarize events by layer, category and method
//
// Examples:
//
//	# View all events
//	keel-log view events.klog
//
//	# View only manager-layer events
//	keel-log view -layer manager events.klog
//
//	# Summarize a log
//	keel-log stats events.klog
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/keelworks/keel/pkg/log"
)

const usage = `keel-log - keel protocol log viewer

Usage:
  keel-log <command> [flags] <file.klog>

Commands:
  view    Print events in human-readable form
  stats   Summarize events by layer, category and method
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "view":
		err = runView(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "keel-log: %v\n", err)
		os.Exit(1)
	}
}

func runView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	layer := fs.String("layer", "", "Only show events from one layer: transport, wire, manager")
	conn := fs.String("conn", "", "Only show events for one connection id")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: keel-log view [flags] <file.klog>")
	}

	reader, err := log.OpenFile(fs.Arg(0))
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if strings.Contains(err.Error(), "unexpected EOF") {
				// partial trailing event from a crashed writer
				return nil
			}
			return err
		}

		if *layer != "" && !strings.EqualFold(event.Layer.String(), *layer) {
			continue
		}
		if *conn != "" && !strings.HasPrefix(event.ConnectionID, *conn) {
			continue
		}
		fmt.Println(formatEvent(event))
	}
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: keel-log stats <file.klog>")
	}

	reader, err := log.OpenFile(fs.Arg(0))
	if err != nil {
		return err
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		return err
	}

	byLayer := make(map[string]int)
	byCategory := make(map[string]int)
	byMethod := make(map[string]int)
	conns := make(map[string]struct{})

	for _, e := range events {
		byLayer[e.Layer.String()]++
		byCategory[e.Category.String()]++
		if e.ConnectionID != "" {
			conns[e.ConnectionID] = struct{}{}
		}
		if e.Message != nil && e.Message.Method != nil {
			byMethod[e.Message.Method.String()]++
		}
	}

	fmt.Printf("Events:      %d\n", len(events))
	fmt.Printf("Connections: %d\n", len(conns))
	if len(events) > 0 {
		first := events[0].Timestamp
		last := events[len(events)-1].Timestamp
		fmt.Printf("Time span:   %s\n", last.Sub(first))
	}
	printCounts("By layer", byLayer)
	printCounts("By category", byCategory)
	printCounts("By method", byMethod)
	return nil
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, counts[k])
	}
}

func formatEvent(e log.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %-9s %-7s",
		e.Timestamp.Format("15:04:05.000000"),
		e.Direction, e.Layer, e.Category)
	if e.ConnectionID != "" {
		id := e.ConnectionID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, " conn=%s", id)
	}

	switch {
	case e.Frame != nil:
		fmt.Fprintf(&b, " frame size=%d", e.Frame.Size)
		if e.Frame.Truncated {
			b.WriteString(" (truncated)")
		}
	case e.Message != nil:
		m := e.Message
		fmt.Fprintf(&b, " %s id=%d", m.Type, m.MessageID)
		if m.Method != nil {
			fmt.Fprintf(&b, " method=%s", m.Method)
		}
		if m.Status != nil {
			fmt.Fprintf(&b, " status=%s", m.Status)
		}
		if m.ProcessingTime != nil {
			fmt.Fprintf(&b, " took=%s", m.ProcessingTime)
		}
	case e.StateChange != nil:
		fmt.Fprintf(&b, " %s -> %s", e.StateChange.Entity, e.StateChange.NewState)
		if e.StateChange.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.StateChange.Reason)
		}
	case e.Error != nil:
		fmt.Fprintf(&b, " error=%q", e.Error.Message)
		if e.Error.Context != "" {
			fmt.Fprintf(&b, " during=%s", e.Error.Context)
		}
	}
	return b.String()
}
