package task

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type task struct {
	function   func(ctx context.Context)
	interval   time.Duration
	metricName string
	cancel     context.CancelFunc
}

// BackgroundTaskManager is not threadsafe, it should only be accessed from a single thread.
//
// Each registered function receives a context that is cancelled by StopAll. A function that is running
// when StopAll is called is allowed to return on its own; the next run is never started.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	wg            *sync.WaitGroup
	registry      prometheus.Registerer
}

func NewBackgroundTaskManager(metricsPrefix string) *BackgroundTaskManager {
	return NewBackgroundTaskManagerWithRegistry(metricsPrefix, prometheus.DefaultRegisterer)
}

func NewBackgroundTaskManagerWithRegistry(metricsPrefix string, registry prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		wg:            &sync.WaitGroup{},
		registry:      registry,
	}
}

func (m *BackgroundTaskManager) Register(backgroundTask func(ctx context.Context), interval time.Duration, metricName string) {
	t := &task{
		function:   backgroundTask,
		interval:   interval,
		metricName: metricName,
	}
	m.startBackgroundTask(t)
	m.tasks = append(m.tasks, t)
}

// StopAll signals every task to stop and waits up to timeout for them to return.
// Returns true if the timeout was hit.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(t *task) {
	taskDurationHistogram := promauto.With(m.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    m.metricsPrefix + t.metricName + "_latency_seconds",
			Help:    "Background loop " + t.metricName + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			start := time.Now()
			t.function(ctx)
			taskDurationHistogram.Observe(time.Since(start).Seconds())

			select {
			case <-time.After(t.interval):
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	for _, t := range m.tasks {
		t.cancel()
	}
}
