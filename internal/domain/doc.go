// Package domain holds the core entities shared across the dispatch
// pipeline: sender accounts, routing rules, in-flight messages, and the
// tracking records (email logs, events, link mappings).
package domain
