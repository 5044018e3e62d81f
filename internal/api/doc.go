// Package api exposes the HTTP trigger interface for scheduled jobs, together
// with health and Prometheus endpoints. Job triggers require a shared bearer
// secret so that an external cron service can drive the daemon.
package api
