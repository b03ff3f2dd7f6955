// Package deps checks that the external receiver binaries are installed.
package deps
