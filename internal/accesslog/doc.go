// Package accesslog persists completed-exchange and session records to
// Postgres. Records batch in memory and flush on size or interval; a cron
// job purges rows past the retention window.
package accesslog
