package model

// Candidate is a file found by the walker. Explicit is set for paths named
// on the command line rather than found inside a directory.
type Candidate struct {
	Path     string
	Explicit bool
	Err      error
}
