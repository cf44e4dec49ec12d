package task

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

type task struct {
	function    func()
	interval    time.Duration
	metricName  string
	stopChannel chan bool
}

// BackgroundTaskManager runs registered functions on a fixed interval, with
// the first run happening immediately on registration. It is not threadsafe
// and should only be accessed from a single goroutine.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	wg            *sync.WaitGroup
	running       bool
}

func NewBackgroundTaskManager(metricsPrefix string) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		wg:            &sync.WaitGroup{},
		running:       true,
	}
}

func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, metricName string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		metricName:  metricName,
		stopChannel: make(chan bool),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

// Running reports whether StopAll has not yet been called.
func (m *BackgroundTaskManager) Running() bool {
	return m.running
}

// StopAll stops all registered tasks and waits up to timeout for in-flight
// runs to finish. Returns true if the wait timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.running = false
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	taskDurationHistogram := registerTaskHistogram(m.metricsPrefix + task.metricName)

	runOnce := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Background task %s panicked: %v", task.metricName, r)
			}
		}()
		start := time.Now()
		task.function()
		taskDurationHistogram.Observe(time.Since(start).Seconds())
	}

	m.wg.Add(1)
	go func() {
		runOnce()
		for {
			select {
			case <-time.After(task.interval):
			case <-task.stopChannel:
				m.wg.Done()
				return
			}
			runOnce()
		}
	}()
}

// registerTaskHistogram registers the latency histogram for a task, reusing
// the existing collector when a manager for the same loop has run before in
// this process. Managers are recreated on restart, metrics are not.
func registerTaskHistogram(name string) prometheus.Histogram {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name + "_latency_seconds",
		Help:    "Background loop " + name + " latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	})
	err := prometheus.Register(histogram)
	if err == nil {
		return histogram
	}
	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		if existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram); ok {
			return existing
		}
	}
	log.WithError(err).Errorf("Could not register metric for background task %s", name)
	return histogram
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
	for _, task := range m.tasks {
		task.stopChannel <- true
	}
}
