// Package service is the storage engine of epochbook.
//
// Engine owns the per-symbol epoch indexes and the chunk store and exposes
// the operations callers use: Insert, Ingest, Update, Delete and the point
// in time queries. It is decoupled from transports like gRPC and HTTP.
//
// Every symbol has one RWMutex. Mutations hold it exclusively for their
// whole run, including any cascade into later chunks and any internal
// query for the current state; queries hold it shared.
package service
