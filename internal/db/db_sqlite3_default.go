//go:build !sqlite3_cgo

package db

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// pure Go (wasm) driver; no cgo toolchain needed when cross compiling for the Pi
const driverID = "ncruces/go-sqlite3"
const driverName = "sqlite3"
