// Package errors provides the classified errors used across frontbuild.
//
// A ClassifiedError carries an ErrorCategory, which picks the process exit
// code, an ErrorSeverity, which picks the log level, and a RetryStrategy. Stage
// failures are CategoryTransform with RetryOnChange: a watch session keeps
// running and the next edit reruns the stage.
//
//	err := errors.WrapError(cause, errors.CategoryTransform, "compile failed").
//		WithContext("stage", "compile").
//		Build()
//
// CLIErrorAdapter turns whatever reaches main into a message and an exit code.
package errors
