// Package remap drives the macOS HID property utility between two fixed key
// mapping states: Caps Lock reported as Escape, and no user mapping at all.
package remap
