// Package redis connects to Redis and provides the distributed lock used to
// serialize writes to one subscription across billing processes.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	locker := redis.NewLocker(client, cfg)
//	svc := subscription.NewService(store, packages, gateway, roles, subscription.WithLocker(locker))
//
// Connect retries the initial ping RetryAttempts times, RetryInterval apart,
// within ConnectTimeout. Healthcheck wraps a ping for readiness probes.
//
// Locker keys expire after LockTTL so a crashed process cannot hold a
// subscription forever. LockTTL must exceed the longest critical section,
// which is bounded by the payment gateway timeout.
package redis
