package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is returned from CheckPow2 when an alignment or page size is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")
