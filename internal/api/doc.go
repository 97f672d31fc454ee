// Package api exposes the HTTP front end: crawl control, the current product
// list, export and upload triggers, upload statistics, health and metrics.
package api
