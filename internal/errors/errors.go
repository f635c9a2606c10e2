package errors

import "errors"

var (
	// Tracker errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrKeyNotFound     = errors.New("metric not found")
	ErrSink            = errors.New("sink failed")

	// Config errors
	ErrUnrecognizedFileType = errors.New("unrecognized file type")

	// Run registry errors
	ErrRunNotFound = errors.New("run not found")
	ErrRunExists   = errors.New("run already exists")

	// Database errors
	ErrDatabaseConnection = errors.New("database connection failed")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrQueryExecution     = errors.New("query execution failed")
)
