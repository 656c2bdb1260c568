package envelope

import "errors"

// ErrNoCallFunc is returned by Context.Call when no router has injected a
// CallFunc — e.g. a Context built directly by a test rather than by the
// router's envelope-entry path.
var ErrNoCallFunc = errors.New("envelope: context has no call function")
