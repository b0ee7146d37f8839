// Package logging builds the root slog logger from the logging config
// section.
//
// The text format writes through tint for colored console output; the json
// format uses slog's JSON handler. Components receive child loggers derived
// with slog.With rather than constructing their own.
package logging
