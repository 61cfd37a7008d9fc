// Package httputil provides shared JSON response helpers so every
// endpoint uses the same envelope and error shape.
package httputil
