// Package observability builds the process-wide zap logger.
//
// Components never reach for a global logger; they receive the
// *zap.Logger built here through their constructors.
package observability
