package api

import (
	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/sse"
)

// requireUser returns the caller's user id. Authentication happens upstream;
// the proxy in front of the server sets the header.
func requireUser(userID string) (string, error) {
	if userID == "" {
		return "", domainerrors.Unauthorized("missing " + sse.UserHeader + " header")
	}
	return userID, nil
}
