// Package logger provides structured logging for the batch prediction
// pipeline using zerolog.
//
// Loggers are scoped per component and carry run-level fields (pipeline,
// run id, step) pulled from the context.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.New(&cfg.Logging, "batchpredict").WithComponent("warehouse")
//	log.Info("table written", logger.Fields("table", name, "rows", n))
package logger
