// Package maintenance schedules background housekeeping with cron
// expressions. The Janitor currently purges invitations that expired long
// ago and were never accepted.
package maintenance
