// Package configtool implements the local administration commands that talk
// to the running daemon over its control socket.
package configtool
