// Package logx is a thin zerolog wrapper: Field helpers, a value-type
// Logger that tags each line with a short caller, and a Service whose
// console and JSON file sinks follow config reloads.
package logx
