/*
Copyright 2025 Tally Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ledgererror defines the typed error values the accounting engine
// returns across its boundary. Expected failure modes are always one of
// these codes; generic errors never cross the engine boundary.
package ledgererror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	// Validation errors.
	ErrInvalidId       ErrorCode = "INVALID_ID"
	ErrInvalidAmount   ErrorCode = "INVALID_AMOUNT"
	ErrInvalidTimeout  ErrorCode = "INVALID_TIMEOUT"
	ErrSameAccounts    ErrorCode = "SAME_ACCOUNTS"
	ErrDifferentAssets ErrorCode = "DIFFERENT_ASSETS"

	// Balance errors.
	ErrInsufficientBalance      ErrorCode = "INSUFFICIENT_BALANCE"
	ErrInsufficientDebitBalance ErrorCode = "INSUFFICIENT_DEBIT_BALANCE"
	ErrInsufficientLiquidity    ErrorCode = "INSUFFICIENT_LIQUIDITY"

	// Identity/state errors.
	ErrUnknownTransfer ErrorCode = "UNKNOWN_TRANSFER"
	ErrTransferExists  ErrorCode = "TRANSFER_EXISTS"
	ErrAlreadyPosted   ErrorCode = "ALREADY_POSTED"
	ErrAlreadyVoided   ErrorCode = "ALREADY_VOIDED"
	ErrTransferExpired ErrorCode = "TRANSFER_EXPIRED"

	// Account errors.
	ErrAccountAlreadyExists      ErrorCode = "ACCOUNT_ALREADY_EXISTS"
	ErrAssetAlreadyExists        ErrorCode = "ASSET_ALREADY_EXISTS"
	ErrUnknownSourceAccount      ErrorCode = "UNKNOWN_SOURCE_ACCOUNT"
	ErrUnknownDestinationAccount ErrorCode = "UNKNOWN_DESTINATION_ACCOUNT"
	ErrUnknownAsset              ErrorCode = "UNKNOWN_ASSET"

	// Catch-all for unexpected storage failures, always logged with cause.
	ErrUnknownError ErrorCode = "UNKNOWN_ERROR"
)

type LedgerError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e LedgerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code ErrorCode, message string, details interface{}) LedgerError {
	if details != nil {
		logrus.Error(details)
	}
	return LedgerError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf extracts the error code from err, falling back to UNKNOWN_ERROR
// for anything that is not a LedgerError.
func CodeOf(err error) ErrorCode {
	var le LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrUnknownError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// BatchError attaches a per-item error to its index in a createTransfers
// batch. Index -1 marks a whole-batch failure.
type BatchError struct {
	Index int         `json:"index"`
	Err   LedgerError `json:"error"`
}

func (b BatchError) Error() string {
	return fmt.Sprintf("transfer %d: %s", b.Index, b.Err.Error())
}

// MapErrorToHTTPStatus is a convenience for calling services that expose
// the engine over HTTP; the engine itself has no user-facing surface.
func MapErrorToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrInvalidId, ErrInvalidAmount, ErrInvalidTimeout, ErrSameAccounts, ErrDifferentAssets:
		return http.StatusBadRequest
	case ErrInsufficientBalance, ErrInsufficientDebitBalance, ErrInsufficientLiquidity:
		return http.StatusUnprocessableEntity
	case ErrUnknownTransfer, ErrUnknownSourceAccount, ErrUnknownDestinationAccount, ErrUnknownAsset:
		return http.StatusNotFound
	case ErrTransferExists, ErrAccountAlreadyExists, ErrAssetAlreadyExists, ErrAlreadyPosted, ErrAlreadyVoided, ErrTransferExpired:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
