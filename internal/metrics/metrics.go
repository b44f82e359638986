/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ControllerMonitorsProcessed tracks monitors processed per controller tick
	ControllerMonitorsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_controller_monitors_processed_count",
			Help: "Total number of monitors processed by the controller",
		},
		[]string{"tasks"},
	)

	// ControllerMonitorNotRegistered tracks enabled monitors skipped because
	// their module is not registered
	ControllerMonitorNotRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilant_controller_monitor_not_registered_count",
			Help: "Total number of monitors skipped because their module is not registered",
		},
	)

	// ControllerTaskQueueError tracks failures to enqueue process tasks
	ControllerTaskQueueError = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilant_controller_task_queue_error_count",
			Help: "Total number of errors sending process tasks to the queue",
		},
	)

	// ControllerProcedureError tracks housekeeping procedure failures
	ControllerProcedureError = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_controller_procedure_error_count",
			Help: "Total number of housekeeping procedure failures",
		},
		[]string{"procedure"},
	)

	// ExecutorMessages tracks messages consumed from the queue
	ExecutorMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_executor_message_count",
			Help: "Total number of messages consumed from the queue",
		},
		[]string{"type"},
	)

	// ExecutorMessageErrors tracks messages whose handling failed
	ExecutorMessageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_executor_message_error_count",
			Help: "Total number of messages whose handling failed",
		},
		[]string{"type"},
	)

	// ExecutorMessagesProcessing tracks messages currently being handled
	ExecutorMessagesProcessing = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigilant_executor_message_processing",
			Help: "Number of messages currently being handled",
		},
		[]string{"type"},
	)

	// MonitorExecutionErrors tracks monitor executions that ended in error
	MonitorExecutionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_executor_monitor_execution_error_count",
			Help: "Total number of monitor executions that ended in error",
		},
		[]string{"monitor"},
	)

	// MonitorExecutionTimeouts tracks monitor executions that timed out
	MonitorExecutionTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_executor_monitor_execution_timeout_count",
			Help: "Total number of monitor executions that timed out",
		},
		[]string{"monitor"},
	)

	// MonitorsRunning tracks monitors currently executing
	MonitorsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigilant_executor_monitor_running",
			Help: "Number of monitors currently executing",
		},
	)

	// MonitorExecutionSeconds tracks the duration of whole monitor executions
	MonitorExecutionSeconds = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "vigilant_executor_monitor_execution_seconds",
			Help:       "Duration of monitor executions in seconds",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"monitor"},
	)

	// MonitorPhaseSeconds tracks the duration of individual routine phases
	MonitorPhaseSeconds = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "vigilant_executor_monitor_phase_seconds",
			Help:       "Duration of monitor routine phases in seconds",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"monitor", "phase"},
	)

	// SearchIssuesLimitReached tracks searches that hit the issue creation cap
	SearchIssuesLimitReached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_search_issues_limit_reached_count",
			Help: "Total number of searches that hit the issue creation cap",
		},
		[]string{"monitor"},
	)

	// NotificationsSent tracks notifications delivered by notifiers
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_notifications_sent_count",
			Help: "Total number of notifications delivered",
		},
		[]string{"notifier"},
	)

	// NotificationsFailed tracks notification delivery failures
	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilant_notifications_failed_count",
			Help: "Total number of notification delivery failures",
		},
		[]string{"notifier"},
	)

	// MonitorsRegistered tracks the number of monitors in the registry
	MonitorsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigilant_registry_monitors_registered",
			Help: "Number of monitors currently registered",
		},
	)
)

// RecordMonitorsProcessed records monitors the controller handed to the queue
func RecordMonitorsProcessed(tasks string, count int) {
	ControllerMonitorsProcessed.WithLabelValues(tasks).Add(float64(count))
}

// RecordMessage records a consumed queue message
func RecordMessage(messageType string) {
	ExecutorMessages.WithLabelValues(messageType).Inc()
}

// RecordMessageError records a message whose handling failed
func RecordMessageError(messageType string) {
	ExecutorMessageErrors.WithLabelValues(messageType).Inc()
}

// RecordExecutionError records a monitor execution that ended in error
func RecordExecutionError(monitor string) {
	MonitorExecutionErrors.WithLabelValues(monitor).Inc()
}

// RecordExecutionTimeout records a monitor execution that timed out
func RecordExecutionTimeout(monitor string) {
	MonitorExecutionTimeouts.WithLabelValues(monitor).Inc()
}

// ObserveExecution records the duration of a whole monitor execution
func ObserveExecution(monitor string, seconds float64) {
	MonitorExecutionSeconds.WithLabelValues(monitor).Observe(seconds)
}

// ObservePhase records the duration of a single routine phase
func ObservePhase(monitor, phase string, seconds float64) {
	MonitorPhaseSeconds.WithLabelValues(monitor, phase).Observe(seconds)
}
