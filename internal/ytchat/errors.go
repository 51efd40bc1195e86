package ytchat

import "errors"

// Bootstrap errors are returned to whoever requested the session; the poller
// handles its own failures internally and only ever reports an end reason.
var (
	// ErrVideoNotFound is terminal: the video page or poll endpoint returned 404.
	ErrVideoNotFound = errors.New("ytchat: video not found")
	// ErrParseFailure is a bootstrap-time extraction miss: the page was fetched
	// but the embedded data could not be located or decoded.
	ErrParseFailure = errors.New("ytchat: parse failure")
	// ErrAuthRequired marks members-only content without authorized credentials.
	ErrAuthRequired = errors.New("ytchat: membership credentials required")
	// ErrInvalidVideoID is returned by the id canonicalizer for malformed input.
	ErrInvalidVideoID = errors.New("ytchat: invalid video id or url")
)
