//go:build debug

package sluice

import (
	"net/http"
	_ "net/http/pprof"
)

func init() {
	go http.ListenAndServe("localhost:6063", nil)
}
