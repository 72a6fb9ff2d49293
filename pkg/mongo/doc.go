// Package mongo wraps the official MongoDB driver with the connection and
// transaction helpers used by the document stores.
//
//	var cfg mongo.Config
//	config.MustLoad(&cfg)
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//
// WithTransaction runs a function in a session transaction and lets nested
// calls join it. The function runs once; only a commit whose outcome is
// unknown is retried. Transactions require a replica set.
package mongo
