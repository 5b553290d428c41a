// Package cron runs the service's background maintenance jobs on fixed
// schedules: sweeping expired sessions out of the store and resyncing
// the knowledge base index.
package cron
