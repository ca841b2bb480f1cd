//go:build cgo

package db

import (
	// registers the "sqlite3" database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

const cgoDriverAvailable = true
