// Package stats collects counters from the running components and logs them on
// a cron schedule.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/robfig/cron/v3"

	ilogging "github.com/webdro/pocketcam/internal/logging"
)

// Provider returns a snapshot of one component's counters.
type Provider func() any

// Reporter holds the registered providers.
type Reporter struct {
	mu        sync.Mutex
	providers map[string]Provider

	log  logging.LeveledLogger
	cron *cron.Cron
}

// NewReporter returns a reporter without providers.
func NewReporter() *Reporter {
	return &Reporter{
		providers: make(map[string]Provider),
		log:       ilogging.NewLogger("stats"),
	}
}

// Add registers p under name, replacing any provider of the same name.
func (r *Reporter) Add(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Snapshot calls every provider.
func (r *Reporter) Snapshot() map[string]any {
	r.mu.Lock()
	providers := make(map[string]Provider, len(r.providers))
	for name, p := range r.providers {
		providers[name] = p
	}
	r.mu.Unlock()

	snap := make(map[string]any, len(providers))
	for name, p := range providers {
		snap[name] = p()
	}
	return snap
}

// Report logs the current snapshot, one line per provider.
func (r *Reporter) Report() {
	snap := r.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.log.Infof("%s: %+v", name, snap[name])
	}
}

// Start reports on schedule, a cron schedule such as "@every 30s", until Stop.
func (r *Reporter) Start(schedule string) error {
	c := cron.New(
		cron.WithLogger(cronLogger{r.log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.log})),
	)
	if _, err := c.AddFunc(schedule, r.Report); err != nil {
		return fmt.Errorf("stats: schedule %q: %w", schedule, err)
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()
	c.Start()
	return nil
}

// Stop ends the schedule and waits for a running report.
func (r *Reporter) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// cronLogger adapts a pion logger to the cron.Logger interface.
type cronLogger struct {
	log logging.LeveledLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(format(msg, keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(format(msg, append(keysAndValues, "error", err)))
}

func format(msg string, keysAndValues []interface{}) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return sb.String()
}
