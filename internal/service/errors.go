package service

import "errors"

var (
	ErrSessionNotFound       = errors.New("import session not found")
	ErrInvalidTransition     = errors.New("import session status does not allow this operation")
	ErrInvalidImportType     = errors.New("import type must be CustomerData, TransactionData or SchemeData")
	ErrInvalidMapping        = errors.New("field mappings are invalid")
	ErrSessionNameRequired   = errors.New("session name is required")
	ErrInvalidInput          = errors.New("invalid request")
	ErrEmptySource           = errors.New("source file contains no data rows")
	ErrSourceUnavailable     = errors.New("source file could not be read")
	ErrUnreadableSource      = errors.New("source file could not be parsed")
	ErrFileTooLarge          = errors.New("source file exceeds maximum size")
	ErrDispatchFailed        = errors.New("workflow engine did not accept the session")
	ErrReconcileFailed       = errors.New("callback could not be reconciled")
	ErrStagingRecordNotFound = errors.New("staging record does not belong to session")
	ErrInvalidCallback       = errors.New("callback payload is invalid")
	ErrNothingToReprocess    = errors.New("session has no failed records to reprocess")
)
