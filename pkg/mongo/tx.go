package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

const (
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"

	maxCommitAttempts = 3
)

// WithTransaction runs fn inside a multi-document transaction. When ctx
// already carries a session, fn joins that transaction instead of starting a
// new one, so store methods can nest freely. Transactions need a replica set
// or sharded cluster.
//
// fn runs exactly once: callers may perform non-transactional side effects
// (gateway calls) inside it. Only the commit is retried, and only while its
// result is unknown. A transient transaction failure is returned to the
// caller; IsTransientTransaction reports it.
func WithTransaction(ctx context.Context, client *mongo.Client, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	sess, err := client.StartSession()
	if err != nil {
		return errors.Join(ErrTransactionFailed, err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	if err := sess.StartTransaction(); err != nil {
		return errors.Join(ErrTransactionFailed, err)
	}
	sctx := mongo.NewSessionContext(ctx, sess)

	if err := fn(sctx); err != nil {
		_ = sess.AbortTransaction(context.WithoutCancel(ctx))
		return err
	}
	return commit(sctx, sess)
}

func commit(ctx context.Context, sess *mongo.Session) error {
	var err error
	for range maxCommitAttempts {
		err = sess.CommitTransaction(ctx)
		if err == nil {
			return nil
		}
		if !hasErrorLabel(err, labelUnknownCommitResult) || ctx.Err() != nil {
			break
		}
	}
	_ = sess.AbortTransaction(context.WithoutCancel(ctx))
	return errors.Join(ErrTransactionFailed, err)
}

// InTransaction reports whether ctx carries a session started by WithTransaction.
func InTransaction(ctx context.Context) bool {
	return mongo.SessionFromContext(ctx) != nil
}

// IsTransientTransaction reports whether err aborted a transaction that can
// be retried from the start.
func IsTransientTransaction(err error) bool {
	return hasErrorLabel(err, labelTransientTransaction)
}

func hasErrorLabel(err error, label string) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorLabel(label)
}

// IsDuplicateKey reports whether err is a unique index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// IsNotFound reports whether err is the driver's "no documents" error.
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
