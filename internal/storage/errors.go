package storage

import "errors"

var errNoRowReturned = errors.New("no row returned")
