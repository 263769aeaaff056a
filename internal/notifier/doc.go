// Package notifier presents fired reminders.
//
// Present never blocks the scheduler: it resolves the sinks a reminder's
// channel routes to, drops repeats of the same occurrence within the dedup
// window, and enqueues one job per sink. A small worker pool drains the queue
// under a shared token-bucket limiter and retries failed deliveries with
// jittered exponential backoff.
//
// # Sinks
//
//   - popup: a lipgloss-styled box written to the terminal
//   - push: a Telegram message, when a bot token and chat are configured
//   - sound: the terminal bell, honoring volume and mute
//
// The service keeps a bounded in-memory history of recent deliveries for the
// status tool.
package notifier
