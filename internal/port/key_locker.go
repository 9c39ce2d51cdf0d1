package port

import "context"

type KeyLocker interface {
	// Lock blocks until key is held or ctx is done, the returned func releases it
	Lock(ctx context.Context, key string) (func(), error)
}
