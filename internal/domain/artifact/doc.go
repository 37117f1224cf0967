// Package artifact owns the on-disk side of the registry.
//
// Each tracked application has exactly one directory below <root>/Apps named
// after its id. The Store creates, populates, reads and removes those
// directories and never consults the database; pairing directories with
// records is the registry service's job.
//
// All failures are returned as *errors.AppError with code IO_ERROR unless
// stated otherwise.
package artifact
