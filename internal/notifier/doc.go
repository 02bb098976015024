// Package notifier surfaces title/message notifications to the user.
//
// Service is an async pipeline: queue + worker pool + rate limit + optional
// retry, fanning each notification out to every configured Sink (log, Telegram).
package notifier
