package local

import "errors"

var ErrEmailExists = errors.New("email already registered")
