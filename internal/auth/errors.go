package auth

import "errors"

var (
	errBothUserAndTags = errors.New("access blob must set exactly one of user or tags, not both")
	errEmptyAccessBlob = errors.New("access blob must set user or a non-empty tag list")
	errSelfLockout     = errors.New("this change would reduce your own scopes below read:metadata+write:metadata")
	errExternalPolicyUnavailable = errors.New("external policy endpoint returned a non-OK status")
)
