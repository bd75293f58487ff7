/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// NotFoundError reports that a required entity is absent. Plain lookups treat
// absence as a valid nil result; only the *Required variants raise this.
type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: id=%v", e.Entity, e.ID)
}

// ConflictError reports a uniqueness constraint violation.
type ConflictError struct {
	Entity string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflicts with an existing record: %v", e.Entity, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ConfigurationError reports a programming error: an unknown relation name or
// an unregistered repository name. When Known is set, the message enumerates
// the valid names to keep debugging tractable.
type ConfigurationError struct {
	Reason string
	Known  []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Known) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (registered: %s)", e.Reason, strings.Join(e.Known, ", "))
}

// StorageFault reports a transport or backend failure. It is never retried
// here; retry policy belongs to the caller.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsStorageFault reports whether err is a StorageFault.
func IsStorageFault(err error) bool {
	var e *StorageFault
	return errors.As(err, &e)
}

type SQLError int

const (
	UnknownErr SQLError = iota
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	NoTableErr
)

// IsSqlError classifies a driver error. MySQL errors carry typed numbers;
// Postgres and SQLite are matched on SQLSTATE codes and message fragments.
func IsSqlError(err error) (is bool, sqlErr SQLError) {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062:
			return true, DuplicateKeyErr
		case 1048:
			return true, NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return true, ForeignKeyViolationErr
		case 3819:
			return true, CheckConstraintViolationErr
		case 1265:
			return true, DataTruncatedErr
		case 1046, 1049, 1146:
			return true, NoTableErr
		default:
			return true, UnknownErr
		}
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "sqlstate 23505") {
		return true, DuplicateKeyErr
	}
	if strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") ||
		strings.Contains(s, "not null constraint failed") {
		return true, NotNullViolationErr
	}
	if strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "sqlstate 23503") {
		return true, ForeignKeyViolationErr
	}
	if strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514") {
		return true, CheckConstraintViolationErr
	}
	if strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "sqlstate 22001") ||
		strings.Contains(s, "data truncated") {
		return true, DataTruncatedErr
	}
	if strings.Contains(s, "sqlstate 42p01") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "no such table") {
		return true, NoTableErr
	}
	return false, UnknownErr
}

// WrapError converts a raw driver error into the package taxonomy. Errors that
// are already classified pass through untouched.
func WrapError(entity, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConflict(err) || IsNotFound(err) || IsConfiguration(err) || IsStorageFault(err) {
		return err
	}
	if ok, kind := IsSqlError(err); ok && kind == DuplicateKeyErr {
		return &ConflictError{Entity: entity, Err: err}
	}
	return &StorageFault{Op: fmt.Sprintf("%s %s", entity, op), Err: err}
}
