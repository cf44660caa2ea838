// Package logger builds *slog.Logger instances from functional options and
// provides attribute helpers that keep key names consistent across the
// feature, experiment and API packages.
//
// # Usage
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "featurelab"),
//		logger.WithContextValue("request_id", requestIDKey{}),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "variant assigned",
//		logger.ExperimentID(exp.ID),
//		logger.UserID(userID),
//		logger.Variant(variant),
//	)
//
// Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("done", logger.Error(err))
//
// needs no nil check.
package logger
