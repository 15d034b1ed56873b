package models

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// Validation errors. Client-fixable, no state change.
	ErrEmptyChat       = errors.New("can't create empty chat")
	ErrSelfChat        = errors.New("can't create chat with yourself")
	ErrBadTimeZone     = errors.New("unknown time zone")
	ErrBadSearchTarget = errors.New("available search targets: messages, chats")

	// Not-found errors.
	ErrChatNotFound       = errors.New("chat not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrChatUserNotFound   = errors.New("chat user not found")
	ErrAttachmentNotFound = errors.New("attachment not found")

	// Authorization errors.
	ErrNotInContacts = errors.New("user is not in your contacts")
	ErrNotModerator  = errors.New("chat user is not a moderator")

	// Conflict errors.
	ErrAlreadyInChat    = errors.New("user is already in chat")
	ErrNotInChat        = errors.New("user is not in chat")
	ErrStatusRegression = errors.New("message status can't regress from Seen")

	// Upstream errors. Distinct from validation so callers can retry.
	ErrDirectoryUnavailable  = errors.New("directory service unavailable")
	ErrUploadFailed          = errors.New("error while uploading a file")
	ErrContentTypeUnresolved = errors.New("could not resolve content type")
)
