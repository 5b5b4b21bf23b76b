package health

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/httpget"
	"github.com/variantdev/ship/pkg/remote"
)

const (
	DefaultAttempts = 30
	DefaultInterval = 5 * time.Second
	DefaultLogLines = 50
)

// logKeywords flag suspicious journal lines after a successful start. They
// are warnings, never failures: plenty of healthy apps log the word "error".
var logKeywords = []string{"error", "exception", "failed"}

// Verifier waits for the service to report active and then inspects its
// recent journal. The wait is bounded by Attempts probes, Interval apart.
type Verifier struct {
	Logger logr.Logger
	Exec   *remote.Executor

	Service string
	// Dir is the application directory, used for the disk usage snapshot.
	Dir string

	Attempts int
	Interval time.Duration
	LogLines int

	// URL is an optional HTTP endpoint probed once the unit is active. A
	// failing probe is reported as a warning.
	URL  string
	HTTP httpget.Getter

	// Sleep waits between probes. Overridden in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(exec *remote.Executor, service string) *Verifier {
	return &Verifier{
		Logger:   klogr.New(),
		Exec:     exec,
		Service:  service,
		Attempts: DefaultAttempts,
		Interval: DefaultInterval,
		LogLines: DefaultLogLines,
		HTTP:     httpget.New(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

type Report struct {
	Active   bool
	Attempts int
	Status   string

	Warnings  []string
	Resources []string
	ProbeOK   bool
}

// Wait polls until the service is active or the attempt budget is spent.
// Exhaustion yields a HealthCheckTimeoutError carrying the last status and
// journal snapshot, so the caller has diagnostics without another round trip.
func (v *Verifier) Wait(ctx context.Context) (*Report, error) {
	var lastStatus string

	for attempt := 1; attempt <= v.Attempts; attempt++ {
		active, status, err := v.probe(ctx)
		if err != nil {
			return nil, err
		}
		lastStatus = status

		if active {
			v.Logger.Info("service is active", "service", v.Service, "attempt", attempt)
			return v.report(ctx, attempt), nil
		}

		v.Logger.V(1).Info("service not active yet", "service", v.Service, "attempt", attempt, "status", status)

		if attempt < v.Attempts {
			if err := v.Sleep(ctx, v.Interval); err != nil {
				return nil, err
			}
		}
	}

	return nil, &HealthCheckTimeoutError{
		Service:  v.Service,
		Attempts: v.Attempts,
		Interval: v.Interval,
		Status:   v.statusSnapshot(ctx),
		Logs:     v.journal(ctx),
	}
}

// probe asks systemd once. A non-active answer is not an error. A transport
// failure counts as a negative answer: the service manager restarting the
// network or a briefly saturated host should not abort a wait whose whole
// point is patience.
func (v *Verifier) probe(ctx context.Context) (bool, string, error) {
	res, err := v.Exec.Execute(ctx, remote.Command{Args: []string{"systemctl", "is-active", v.Service}})
	if err != nil {
		if ce, ok := remote.AsCommandError(err); ok {
			return false, strings.TrimSpace(ce.Stdout), nil
		}
		if remote.IsConnectionError(err) {
			v.Logger.Info("target unreachable during probe", "service", v.Service)
			return false, "unreachable", nil
		}
		return false, "", err
	}
	return true, strings.TrimSpace(res.Stdout), nil
}

func (v *Verifier) report(ctx context.Context, attempts int) *Report {
	r := &Report{
		Active:   true,
		Attempts: attempts,
		Status:   "active",
	}

	logs := v.journal(ctx)
	r.Warnings = scanForKeywords(logs)

	r.Resources = v.Snapshot(ctx)

	if v.URL != "" {
		if _, err := v.HTTP.DoRequest(v.URL); err != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("http probe: %v", err))
		} else {
			r.ProbeOK = true
		}
	}

	return r
}

// journal fetches the last LogLines lines for the unit. Best effort; an
// unreadable journal is reported inline rather than failing the check.
func (v *Verifier) journal(ctx context.Context) string {
	res, err := v.Exec.Execute(ctx, remote.Command{
		Args:       []string{"journalctl", "-u", v.Service, "-n", strconv.Itoa(v.LogLines), "--no-pager"},
		Privileged: true,
	})
	if err != nil {
		if ce, ok := remote.AsCommandError(err); ok {
			return ce.Mixed()
		}
		return fmt.Sprintf("journal unavailable: %v", err)
	}
	return res.Stdout
}

// statusSnapshot grabs systemctl status output. status exits non-zero for
// inactive units, so the output matters more than the exit code here.
func (v *Verifier) statusSnapshot(ctx context.Context) string {
	res, err := v.Exec.Execute(ctx, remote.Command{Args: []string{"systemctl", "status", v.Service, "--no-pager"}})
	if err != nil {
		if ce, ok := remote.AsCommandError(err); ok {
			return ce.Mixed()
		}
		return fmt.Sprintf("status unavailable: %v", err)
	}
	return res.Stdout
}

// Snapshot collects coarse resource numbers: disk for the app dir, memory,
// load. Each is best effort.
func (v *Verifier) Snapshot(ctx context.Context) []string {
	cmds := [][]string{
		{"df", "-h", v.Dir},
		{"free", "-m"},
		{"uptime"},
	}
	if v.Dir == "" {
		cmds = cmds[1:]
	}

	var out []string
	for _, args := range cmds {
		res, err := v.Exec.Execute(ctx, remote.Command{Args: args})
		if err != nil {
			v.Logger.V(1).Info("resource snapshot failed", "command", args, "error", err.Error())
			continue
		}
		out = append(out, strings.TrimSpace(res.Stdout))
	}
	return out
}

func scanForKeywords(logs string) []string {
	var warnings []string
	for _, line := range strings.Split(logs, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range logKeywords {
			if strings.Contains(lower, kw) {
				warnings = append(warnings, strings.TrimSpace(line))
				break
			}
		}
	}
	return warnings
}

// HealthCheckTimeoutError means the service never reported active within the
// attempt budget. Status and Logs carry the final state snapshot.
type HealthCheckTimeoutError struct {
	Service  string
	Attempts int
	Interval time.Duration
	Status   string
	Logs     string
}

func (e *HealthCheckTimeoutError) Error() string {
	return fmt.Sprintf("service %s did not become active after %d probes over %s",
		e.Service, e.Attempts, time.Duration(e.Attempts)*e.Interval)
}
