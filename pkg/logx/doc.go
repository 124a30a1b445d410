// Package logx configures postwatch's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and rotated (lumberjack)
//   - Components decoupled from sinks: every component receives a Logger value
//     and the zero value is a no-op, so tests can inject a JSON buffer sink.
package logx
