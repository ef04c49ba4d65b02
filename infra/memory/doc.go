// Package memory holds reusable allocation helpers shared by the storage
// layer.
package memory
