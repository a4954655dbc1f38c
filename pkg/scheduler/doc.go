// Package scheduler implements admission, prioritization, concurrency
// limiting, retry and timeout for compute task requests. A priority queue
// (container/heap) orders ScheduledTasks by priority desc, submitted_at
// asc; a fixed pool of worker goroutines drains it through the Load
// Balancer and Executor, re-enqueueing retryable failures through fresh
// admission rather than retrying inline. Periodic background loops drive
// load balancer strategy tuning, expired-worker cleanup and the debug-mode
// bundle directory reaper.
package scheduler
