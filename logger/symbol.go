package logger

import "go.uber.org/zap"

// Symbol-aware logging helpers.
// These functions log with the symbol as a structured field, not in the message,
// so logs stay queryable by symbol while messages stay clean.
//
// Usage:
//
//	// Instead of:
//	logger.Infow(SymbolJob + " job dispatched", "job_id", id)
//
//	// Use:
//	logger.JobInfow("job dispatched", "job_id", id)
const (
	SymbolJob   = "▶" // job lifecycle events
	SymbolSuite = "⊙" // suite sync / coordinator events
	SymbolConn  = "~" // connection supervisor events
	SymbolExec  = "»" // runner/exec step events
)

// JobInfow logs an info message tagged with the job symbol.
func JobInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolJob}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// JobWarnw logs a warning message tagged with the job symbol.
func JobWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolJob}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}

// JobErrorw logs an error message tagged with the job symbol.
func JobErrorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolJob}, keysAndValues...)
		Logger.Errorw(msg, fields...)
	}
}

// SuiteInfow logs an info message tagged with the suite symbol.
func SuiteInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolSuite}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// ConnInfow logs an info message tagged with the connection symbol.
func ConnInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolConn}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// ConnWarnw logs a warning message tagged with the connection symbol.
func ConnWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolConn}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}

// WithSymbol returns a logger with the given symbol as a field.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}
