//go:build !cgo

package db

const cgoDriverAvailable = false
