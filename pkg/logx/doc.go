// Package logx is relaybot's structured logging: a Logger value over
// zerolog, a console sink with short callers, an optional JSON file sink,
// and a Service whose Apply changes level and sinks without restarting
// anything that holds a Logger.
package logx
