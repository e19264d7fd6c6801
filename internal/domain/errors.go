package domain

import "errors"

// ErrConversationNotFound is returned by the record store when a
// conversation identity does not resolve to an existing record.
var ErrConversationNotFound = errors.New("conversation not found")
