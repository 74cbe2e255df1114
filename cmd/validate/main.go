// Command validate checks a sensor gateway payload against the monitor's
// normalization and hazard rules. The payload comes from a live gateway or
// from a JSON fixture file.
//
// Usage:
//
//	go run ./cmd/validate -url http://localhost:5000
//	go run ./cmd/validate -file testdata/sensors.json -require-all -expect-calm
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/adapter/sensorapi"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type checks struct {
	requireAll bool // every metric must be present on every node
	expectCalm bool // no node may trip a hazard
}

func main() {
	url := flag.String("url", "", "gateway base URL to fetch /api/sensors from")
	file := flag.String("file", "", "path to a JSON fixture shaped like /api/sensors")
	timeout := flag.Duration("timeout", 3*time.Second, "fetch timeout when -url is used")
	requireAll := flag.Bool("require-all", false, "fail when any node is missing a metric")
	expectCalm := flag.Bool("expect-calm", false, "fail when any node trips a hazard")
	flag.Parse()

	if (*url == "") == (*file == "") {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "exactly one of -url or -file is required")
		os.Exit(1)
	}

	var (
		readings map[domain.NodeID]domain.RawReading
		err      error
	)
	if *url != "" {
		readings, err = fetch(*url, *timeout)
	} else {
		readings, err = loadFile(*file)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	if code := run(os.Stdout, readings, domain.DefaultThresholds(), checks{requireAll: *requireAll, expectCalm: *expectCalm}); code != 0 {
		os.Exit(code)
	}
}

func fetch(url string, timeout time.Duration) (map[domain.NodeID]domain.RawReading, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := sensorapi.NewClient(url, sensorapi.Options{Timeout: timeout}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.FetchReadings(ctx)
}

func loadFile(path string) (map[domain.NodeID]domain.RawReading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var readings map[domain.NodeID]domain.RawReading
	if err := json.Unmarshal(data, &readings); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if readings == nil {
		return nil, fmt.Errorf("decode %s: payload is null", path)
	}
	return readings, nil
}

func run(w io.Writer, readings map[domain.NodeID]domain.RawReading, th domain.Thresholds, c checks) int {
	fmt.Fprintln(w, "=== Sensor Payload Validation ===")
	fmt.Fprintln(w)

	ids := make([]domain.NodeID, 0, len(readings))
	for id := range readings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := time.Now()
	nodes := make(map[domain.NodeID]domain.NormalizedNode, len(ids))
	for _, id := range ids {
		nodes[id] = domain.Normalize(readings[id], now)
	}

	phases := []*phase{
		validateShape(ids, readings),
		validateFields(ids, readings),
		validateCoverage(ids, nodes, c.requireAll),
		validateHazards(ids, nodes, th, c.expectCalm),
	}

	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-30s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Nodes: %d\n", len(ids))

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.notes) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
		for _, n := range p.notes {
			fmt.Fprintf(w, "  note: %s\n", n)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

func validateShape(ids []domain.NodeID, readings map[domain.NodeID]domain.RawReading) *phase {
	p := &phase{name: "Payload shape"}
	if len(ids) == 0 {
		p.errorf("payload has no nodes")
	}
	for _, id := range ids {
		if id == "" {
			p.errorf("empty node id")
		}
		if len(readings[id]) == 0 {
			p.errorf("%s: empty reading", id)
		}
	}
	return p
}

func validateFields(ids []domain.NodeID, readings map[domain.NodeID]domain.RawReading) *phase {
	p := &phase{name: "Field validity"}
	for _, id := range ids {
		if bad := domain.InvalidFields(readings[id]); len(bad) > 0 {
			p.errorf("%s: unreadable fields %s", id, strings.Join(bad, ", "))
		}
	}
	return p
}

func validateCoverage(ids []domain.NodeID, nodes map[domain.NodeID]domain.NormalizedNode, requireAll bool) *phase {
	p := &phase{name: "Metric coverage"}
	for _, id := range ids {
		missing := nodes[id].Missing()
		if len(missing) == 0 {
			continue
		}
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = m.String()
		}
		if requireAll {
			p.errorf("%s: missing %s", id, strings.Join(names, ", "))
		} else {
			p.notef("%s: missing %s", id, strings.Join(names, ", "))
		}
	}
	return p
}

func validateHazards(ids []domain.NodeID, nodes map[domain.NodeID]domain.NormalizedNode, th domain.Thresholds, expectCalm bool) *phase {
	p := &phase{name: "Hazard evaluation"}
	for _, id := range ids {
		for _, sig := range domain.Evaluate(id, nodes[id], th) {
			msg := domain.AlertMessage(sig)
			if expectCalm {
				p.errorf("%s", msg)
			} else {
				p.notef("%s", msg)
			}
		}
	}
	return p
}
