package initiator

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// ErrReconnect marks a transient connectivity failure raised by a
// Client implementation that does not go through the mongo driver.
var ErrReconnect = errors.New("initiator: reconnect")

// stateChangeCodes are server errors raised while members change
// replication state: no primary yet, a step-down, or a member restarting.
var stateChangeCodes = []int{
	10107, // NotWritablePrimary
	13435, // NotPrimaryNoSecondaryOk
	13436, // NotPrimaryOrSecondary
	11602, // InterruptedDueToReplStateChange
	189,   // PrimarySteppedDown
	91,    // ShutdownInProgress
	11600, // InterruptedAtShutdown
}

// IsReconnect reports whether err is a transient connectivity failure
// expected while a freshly initiated set elects a primary.
func IsReconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReconnect) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	var selection topology.ServerSelectionError
	if errors.As(err, &selection) {
		return true
	}
	var selectionPtr *topology.ServerSelectionError
	if errors.As(err, &selectionPtr) {
		return true
	}
	var server mongo.ServerError
	if errors.As(err, &server) {
		for _, code := range stateChangeCodes {
			if server.HasErrorCode(code) {
				return true
			}
		}
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
