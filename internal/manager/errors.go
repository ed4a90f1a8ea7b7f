package manager

import (
	"errors"
	"fmt"

	"github.com/loykin/sessionkeeper/internal/store"
)

var (
	ErrNotFound         = errors.New("instance not found")
	ErrAlreadyExists    = errors.New("session already registered")
	ErrAlreadyRunning   = errors.New("instance already running")
	ErrLaunchFailed     = errors.New("browser launch failed")
	ErrEngineCallFailed = errors.New("browser call failed")
	ErrStorageFailed    = errors.New("storage failed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrShutdown         = errors.New("manager is shut down")
)

// storageErr maps repository errors onto the manager taxonomy.
func storageErr(op string, id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageFailed, op, err)
}
